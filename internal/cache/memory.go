package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"dyad-reasoner/pkg/types"
)

type memoryEntry struct {
	key        string
	value      []byte
	insertedAt time.Time
}

// MemoryStore is an in-process LRU with TTL. One mutex serializes every
// operation, including the recency bump on Get.
type MemoryStore struct {
	mu      sync.Mutex
	ll      *list.List // front = most recently used
	items   map[string]*list.Element
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryStore) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryStore creates an LRU of maxSize entries that expire ttl after
// insertion. A non-positive ttl or maxSize yields a disabled store.
func NewMemoryStore(maxSize int, ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	c := &MemoryStore{
		ll:      list.New(),
		items:   make(map[string]*list.Element),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryStore) Enabled() bool {
	return c.ttl > 0 && c.maxSize > 0
}

func (c *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.Enabled() {
		c.misses++
		return nil, false, nil
	}

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false, nil
	}

	entry := el.Value.(*memoryEntry)
	if c.expired(entry, c.now()) {
		c.removeElement(el)
		c.misses++
		return nil, false, nil
	}

	c.ll.MoveToFront(el)
	c.hits++
	return cloneBytes(entry.value), true, nil
}

func (c *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.Enabled() {
		return nil
	}

	now := c.now()
	c.purgeExpired(now)

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.value = cloneBytes(value)
		entry.insertedAt = now
		c.ll.MoveToFront(el)
		return nil
	}

	if c.ll.Len() >= c.maxSize {
		if oldest := c.ll.Back(); oldest != nil {
			c.removeElement(oldest)
			c.evictions++
		}
	}

	c.items[key] = c.ll.PushFront(&memoryEntry{
		key:        key,
		value:      cloneBytes(value),
		insertedAt: now,
	})
	return nil
}

func (c *MemoryStore) Stats(_ context.Context) (types.CacheStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return types.CacheStats{
		Backend:    "memory",
		Enabled:    c.Enabled(),
		Size:       c.ll.Len(),
		MaxSize:    c.maxSize,
		TTLSeconds: int(c.ttl / time.Second),
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		HitRate:    types.HitRateOf(c.hits, c.misses),
	}, nil
}

func (c *MemoryStore) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.items = make(map[string]*list.Element)
	c.hits, c.misses, c.evictions = 0, 0, 0
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// expired reports now - insertedAt > ttl.
func (c *MemoryStore) expired(e *memoryEntry, now time.Time) bool {
	return now.Sub(e.insertedAt) > c.ttl
}

// purgeExpired walks every entry; insertion order and recency order differ,
// so expired entries are not confined to the tail.
func (c *MemoryStore) purgeExpired(now time.Time) {
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*memoryEntry), now) {
			c.removeElement(el)
		}
		el = prev
	}
}

func (c *MemoryStore) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*memoryEntry).key)
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
