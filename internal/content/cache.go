package content

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// sweepThreshold is the entry count above which inserts also drop expired entries.
const sweepThreshold = 1024

type entry struct {
	value     any
	expiresAt time.Time
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Fetches  int64 `json:"fetches"`
	Failures int64 `json:"failures"`
	Entries  int   `json:"entries"`
}

// Cache is a time-expiring memo table shared by all conversations. Stored values
// are never modified; concurrent misses on one key share a single fetch.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
	now     func() time.Time

	hits     atomic.Int64
	misses   atomic.Int64
	fetches  atomic.Int64
	failures atomic.Int64
}

// NewCache returns an empty Cache. A nil now uses time.Now.
func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{entries: make(map[string]entry), now: now}
}

func (c *Cache) lookup(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) store(key string, value any, ttl time.Duration) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= sweepThreshold {
		for k, e := range c.entries {
			if !now.Before(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
	c.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
}

// Stats returns the current counters and the number of unexpired entries.
func (c *Cache) Stats() Stats {
	now := c.now()
	c.mu.RLock()
	live := 0
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			live++
		}
	}
	c.mu.RUnlock()
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Fetches:  c.fetches.Load(),
		Failures: c.failures.Load(),
		Entries:  live,
	}
}

// cached returns the unexpired value under key or runs fetch once for all
// concurrent callers. The fetch runs detached from every caller's cancellation;
// a caller whose ctx ends stops waiting without failing the others. Failed
// fetches are not stored.
func cached[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return v.(T), nil
	}
	c.misses.Add(1)

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// A flight that finished just before this one started may have stored the key.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		c.fetches.Add(1)
		v, err := fetch(fetchCtx)
		if err != nil {
			c.failures.Add(1)
			return nil, err
		}
		c.store(key, v, ttl)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("content: %s: %w: %w", key, ErrNotFound, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}
