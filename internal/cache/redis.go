package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"dyad-reasoner/pkg/types"
)

// RedisStore keeps entries in Redis so several replicas share one cache.
//
// Values live under <prefix>:entry:<key> with a PX expiry set once at
// insertion. Two sorted sets carry the bookkeeping: <prefix>:lru scored by
// last touch (eviction order) and <prefix>:born scored by insertion time
// (purge order). Hit/miss/eviction counters are per process.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type RedisConfig struct {
	Prefix  string
	MaxSize int
	TTL     time.Duration
	// Now replaces time.Now for recency scores, for tests.
	Now func() time.Time
}

// NewRedisStore creates a Redis-backed Store.
func NewRedisStore(client *redis.Client, cfg RedisConfig) *RedisStore {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "reasoner"
	}
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		maxSize: cfg.MaxSize,
		ttl:     cfg.TTL,
		now:     now,
	}
}

func (c *RedisStore) entryKey(k string) string { return c.prefix + ":entry:" + k }
func (c *RedisStore) lruKey() string           { return c.prefix + ":lru" }
func (c *RedisStore) bornKey() string          { return c.prefix + ":born" }

func (c *RedisStore) Enabled() bool {
	return c.ttl > 0 && c.maxSize > 0
}

// Get returns the value and bumps its recency. The expiry is untouched.
func (c *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("context error: %w", err)
	}
	if !c.Enabled() {
		c.misses.Add(1)
		return nil, false, nil
	}

	res, err := c.client.Get(ctx, c.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired or never stored; drop any stale bookkeeping.
		_, _ = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, c.lruKey(), key)
			pipe.ZRem(ctx, c.bornKey(), key)
			return nil
		})
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	if err := c.client.ZAddXX(ctx, c.lruKey(), redis.Z{
		Score:  float64(c.score(c.now())),
		Member: key,
	}).Err(); err != nil {
		return nil, false, fmt.Errorf("redis touch failed: %w", err)
	}

	c.hits.Add(1)
	return res, true, nil
}

// setScript purges expired entries, evicts least recently used entries when
// a new member would exceed capacity, then stores the value. Redis runs it
// atomically, so concurrent writers from any replica cannot overshoot the cap.
//
// KEYS: lru, born, entry key of the member.
// ARGV: entry key prefix, member, value, ttl ms, now score, purge cutoff, max size.
// Returns the number of evicted entries.
var setScript = redis.NewScript(`
local lru, born, entry = KEYS[1], KEYS[2], KEYS[3]
local prefix, member = ARGV[1], ARGV[2]
local max = tonumber(ARGV[7])

local function drop(k)
  redis.call('DEL', prefix .. k)
  redis.call('ZREM', lru, k)
  redis.call('ZREM', born, k)
end

for _, k in ipairs(redis.call('ZRANGEBYSCORE', born, '-inf', '(' .. ARGV[6])) do
  drop(k)
end

local evicted = 0
if not redis.call('ZSCORE', lru, member) then
  local excess = redis.call('ZCARD', lru) - max + 1
  if excess > 0 then
    for _, k in ipairs(redis.call('ZRANGE', lru, 0, excess - 1)) do
      drop(k)
      evicted = evicted + 1
    end
  end
end

redis.call('SET', entry, ARGV[3], 'PX', ARGV[4])
redis.call('ZADD', lru, ARGV[5], member)
redis.call('ZADD', born, ARGV[5], member)
return evicted
`)

// Set purges expired entries, evicts the least recently used entry when a new
// key would exceed capacity, then stores value with a fresh expiry. All of it
// happens in one script call.
func (c *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	if !c.Enabled() {
		return nil
	}

	now := c.now()
	ttlMs := c.ttl.Milliseconds()
	if ttlMs < 1 {
		ttlMs = 1
	}

	evicted, err := setScript.Run(ctx, c.client,
		[]string{c.lruKey(), c.bornKey(), c.entryKey(key)},
		c.prefix+":entry:",
		key,
		value,
		ttlMs,
		c.score(now),
		c.score(now.Add(-c.ttl)),
		c.maxSize,
	).Int64()
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	if evicted > 0 {
		c.evictions.Add(evicted)
	}
	return nil
}

func (c *RedisStore) Stats(ctx context.Context) (types.CacheStats, error) {
	stats := types.CacheStats{
		Backend:    "redis",
		Enabled:    c.Enabled(),
		MaxSize:    c.maxSize,
		TTLSeconds: int(c.ttl / time.Second),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
	}
	stats.HitRate = types.HitRateOf(stats.Hits, stats.Misses)

	size, err := c.client.ZCard(ctx, c.lruKey()).Result()
	if err != nil {
		return stats, fmt.Errorf("redis zcard failed: %w", err)
	}
	stats.Size = int(size)
	return stats, nil
}

// Clear deletes every key under the prefix and resets counters.
func (c *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+":*", 256).Result()
		if err != nil {
			return fmt.Errorf("redis scan failed: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del failed: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
	return nil
}

// Ping checks if the Redis connection is healthy.
func (c *RedisStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// score converts t to milliseconds. Scores go to Redis as integers.
func (c *RedisStore) score(t time.Time) int64 {
	return t.UnixMilli()
}
