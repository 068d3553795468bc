package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dyad-reasoner/internal/metrics"
	"dyad-reasoner/pkg/logging"
	"dyad-reasoner/pkg/types"
)

// LoggingStore wraps a Store with logging + metrics.
type LoggingStore struct {
	inner Store
}

// NewLoggingStore returns a Store that logs and records metrics.
func NewLoggingStore(inner Store) Store {
	return &LoggingStore{inner: inner}
}

func (c *LoggingStore) Enabled() bool { return c.inner.Enabled() }

func (c *LoggingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)

	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case ok:
		result = "hit"
		metrics.CacheHitsTotal.Inc()
	default:
		metrics.CacheMissesTotal.Inc()
	}

	fields := append(keyFields(key),
		zap.String("cache_result", result),
		zap.Float64("latency_ms", sinceMs(start)),
	)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_get", fields...)
	}
	return value, ok, err
}

func (c *LoggingStore) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value)

	fields := append(keyFields(key),
		zap.Int("bytes", len(value)),
		zap.Float64("latency_ms", sinceMs(start)),
	)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_set", fields...)
	}
	return err
}

func (c *LoggingStore) Stats(ctx context.Context) (types.CacheStats, error) {
	stats, err := c.inner.Stats(ctx)
	if err == nil {
		metrics.CacheEntries.Set(float64(stats.Size))
	}
	return stats, err
}

func (c *LoggingStore) Clear(ctx context.Context) error {
	err := c.inner.Clear(ctx)
	if err != nil {
		logging.L(ctx).Error("cache_clear", zap.Error(err))
		return err
	}
	metrics.CacheEntries.Set(0)
	logging.L(ctx).Info("cache_clear")
	return nil
}

func keyFields(key string) []zap.Field {
	k, ok := ParseKey(key)
	if !ok {
		return []zap.Field{zap.String("cache_key", key)}
	}
	return []zap.Field{
		zap.String("dyad", string(k.Dyad)),
		zap.String("prompt_version", k.PromptVersion),
		zap.String("hash", k.Hash),
	}
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
