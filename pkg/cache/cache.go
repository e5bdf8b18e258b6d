// Package cache implements the content-keyed context cache
// §4.F): get_or_compute memoization backed by golang.org/x/sync/singleflight
// so concurrent requests for the same key coalesce into one computation.
package cache

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Stats are the cumulative counters this cache tracks: hits, misses,
// and coalesced (a request that waited on another in-flight compute for
// the same key rather than triggering its own).
type Stats struct {
	Hits      int64
	Misses    int64
	Coalesced int64
}

// Cache is a thread-safe, content-keyed memoization layer. Computed
// values are kept indefinitely once produced — the engine's context
// blobs are immutable per key, so there is no invalidation path, only
// population.
type Cache struct {
	group singleflight.Group

	mu       sync.RWMutex
	values   map[string]any
	inflight map[string]bool

	hits      atomic.Int64
	misses    atomic.Int64
	coalesced atomic.Int64
}

// New builds an empty context cache.
func New() *Cache {
	return &Cache{
		values:   make(map[string]any),
		inflight: make(map[string]bool),
	}
}

// GetOrCompute returns the cached value for key, computing it via fn on
// a miss. Concurrent callers for the same key share a single fn
// invocation: whichever caller observes the key is not yet in flight
// pays for the compute (a miss); every caller that arrives while that
// compute is still running is recorded as coalesced.
func (c *Cache) GetOrCompute(key string, fn func() (any, error)) (value any, hit bool, err error) {
	c.mu.Lock()
	if v, ok := c.values[key]; ok {
		c.mu.Unlock()
		c.hits.Add(1)
		return v, true, nil
	}
	leader := !c.inflight[key]
	c.inflight[key] = true
	c.mu.Unlock()

	if leader {
		c.misses.Add(1)
	} else {
		c.coalesced.Add(1)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		if v, ok := c.values[key]; ok {
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()

		computed, computeErr := fn()

		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.inflight, key)
		if computeErr != nil {
			return nil, computeErr
		}
		c.values[key] = computed
		return computed, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}

// Stats returns a snapshot of cumulative hit/miss/coalesced counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Coalesced: c.coalesced.Load(),
	}
}
