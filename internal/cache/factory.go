package cache

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Backend string // "memory" or "redis"
	TTL     time.Duration
	MaxSize int
	Prefix  string
}

// NewStore builds the configured backend. redisClient is only used, and then
// required, for the redis backend.
func NewStore(cfg Config, redisClient *redis.Client) (Store, error) {
	switch cfg.Backend {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("cache: redis backend needs a client")
		}
		return NewRedisStore(redisClient, RedisConfig{
			Prefix:  cfg.Prefix,
			MaxSize: cfg.MaxSize,
			TTL:     cfg.TTL,
		}), nil
	case "", "memory":
		return NewMemoryStore(cfg.MaxSize, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}
