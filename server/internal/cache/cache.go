package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Entry is a cached value together with the time it was stored.
type Entry[V any] struct {
	Key       string
	Value     V
	UpdatedAt time.Time
}

// Cache maps string keys to values with TTL-based expiry.
type Cache[V any] struct {
	name string
	mu   sync.RWMutex
	data map[string]*Entry[V]
	ttl  time.Duration
	now  func() time.Time
}

// New creates a Cache with the given TTL. name only appears in logs.
func New[V any](name string, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		name: name,
		data: make(map[string]*Entry[V]),
		ttl:  ttl,
		now:  time.Now,
	}
}

// SetClock replaces the clock used for expiry checks.
func (c *Cache[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// TTL returns the configured time-to-live.
func (c *Cache[V]) TTL() time.Duration { return c.ttl }

// Put stores or replaces the value for key.
func (c *Cache[V]) Put(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = &Entry[V]{Key: key, Value: v, UpdatedAt: c.now()}
}

// Get returns the entry for key even if it has expired but not yet been evicted.
func (c *Cache[V]) Get(key string) (Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[key]
	if !ok {
		return Entry[V]{}, false
	}
	return *e, true
}

// Fresh returns the value for key only if it was stored within the TTL.
func (c *Cache[V]) Fresh(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[key]
	if !ok || !e.UpdatedAt.After(c.now().Add(-c.ttl)) {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// List returns all unexpired entries sorted by key.
func (c *Cache[V]) List() []Entry[V] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cutoff := c.now().Add(-c.ttl)
	out := make([]Entry[V], 0, len(c.data))
	for _, e := range c.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Count returns the number of entries held, including expired ones.
func (c *Cache[V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// Evict removes entries older than now minus TTL and returns how many went.
func (c *Cache[V]) Evict(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := now.Add(-c.ttl)
	removed := 0
	for k, e := range c.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(c.data, k)
			removed++
		}
	}
	return removed
}

// Run evicts expired entries until ctx is cancelled.
func (c *Cache[V]) Run(ctx context.Context) {
	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := c.Evict(now); n > 0 {
				slog.Debug("cache: evicted expired entries", "cache", c.name, "count", n)
			}
		}
	}
}
