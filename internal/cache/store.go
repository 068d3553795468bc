// Package cache holds the reasoning response cache: a size-bounded LRU with a
// fixed TTL from insertion, backed by memory or Redis.
package cache

import (
	"context"

	"dyad-reasoner/pkg/types"
)

// Store is a bounded response cache.
//
// Expiry is measured from insertion and is never extended by a hit. Recency,
// which drives eviction at capacity, is refreshed by both Get and Set.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Stats(ctx context.Context) (types.CacheStats, error)
	// Clear drops every entry and resets counters.
	Clear(ctx context.Context) error
	Enabled() bool
}
