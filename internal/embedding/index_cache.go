// index_cache.go - Reuse of built indexes across requests and sweeps

package embedding

import (
	"context"
	"sync"
	"time"
)

type cachedIndex[R any] struct {
	index   *Index[R]
	builtAt time.Time
}

// IndexCache keeps built indexes keyed by their content hash, so requests
// and sweeps over an unchanged candidate list share one build.
type IndexCache[R any] struct {
	embedder Embedder
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]cachedIndex[R]
	// building serialises builds of the same content
	building map[string]*sync.Mutex
}

// NewIndexCache creates a cache whose indexes expire after ttl. A zero ttl
// keeps them until evicted.
func NewIndexCache[R any](embedder Embedder, ttl time.Duration) *IndexCache[R] {
	return &IndexCache[R]{
		embedder: embedder,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]cachedIndex[R]),
		building: make(map[string]*sync.Mutex),
	}
}

// GetOrBuild returns the cached index for entries or builds it.
func (c *IndexCache[R]) GetOrBuild(ctx context.Context, entries []Entry[R]) (*Index[R], error) {
	key := ContentHash(c.embedder.ModelID(), entries)

	if ix, ok := c.get(key); ok {
		return ix, nil
	}

	c.mu.Lock()
	lock, ok := c.building[key]
	if !ok {
		lock = &sync.Mutex{}
		c.building[key] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	// Double-check after acquiring the build lock
	if ix, ok := c.get(key); ok {
		return ix, nil
	}

	ix, err := Build(ctx, c.embedder, entries)
	if err != nil {
		c.mu.Lock()
		delete(c.building, key)
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cachedIndex[R]{index: ix, builtAt: c.now()}
	delete(c.building, key)
	c.evictExpiredLocked()
	c.mu.Unlock()
	return ix, nil
}

func (c *IndexCache[R]) get(key string) (*Index[R], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.expired(e) {
		return nil, false
	}
	return e.index, true
}

func (c *IndexCache[R]) expired(e cachedIndex[R]) bool {
	return c.ttl > 0 && c.now().Sub(e.builtAt) > c.ttl
}

func (c *IndexCache[R]) evictExpiredLocked() {
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
		}
	}
}

// Len is the number of cached indexes.
func (c *IndexCache[R]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every cached index.
func (c *IndexCache[R]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cachedIndex[R])
	c.mu.Unlock()
}
