// cached.go - Normalising, caching Embedder decorator

package embedding

import (
	"container/list"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// VectorStore persists vectors across processes.
type VectorStore interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Put(ctx context.Context, key, modelID string, vec []float32) error
	Close() error
}

// DefaultMemoryCacheSize is the number of vectors kept in process when no
// size is given.
const DefaultMemoryCacheSize = 10000

// CachedEmbedder normalises input text and caches vectors by model and text,
// so repeated queries in a process return bit-identical vectors. The
// in-process cache keeps the most recently used vectors up to its size;
// evicted vectors are still found in the persistent store when there is one.
type CachedEmbedder struct {
	inner  Embedder
	store  VectorStore // optional
	logger *zap.Logger

	mu       sync.Mutex
	size     int
	memCache map[string]*list.Element
	recent   *list.List // front is most recently used
}

type cacheEntry struct {
	key string
	vec []float32
}

// NewCachedEmbedder wraps inner, keeping up to size vectors in memory. store
// may be nil; size <= 0 means DefaultMemoryCacheSize.
func NewCachedEmbedder(inner Embedder, store VectorStore, size int, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = DefaultMemoryCacheSize
	}
	return &CachedEmbedder{
		inner:    inner,
		store:    store,
		logger:   logger,
		size:     size,
		memCache: make(map[string]*list.Element),
		recent:   list.New(),
	}
}

// Len is the number of vectors held in memory.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recent.Len()
}

// ModelID returns the wrapped model's identifier.
func (c *CachedEmbedder) ModelID() string {
	return c.inner.ModelID()
}

// Close releases the provider and the persistent store.
func (c *CachedEmbedder) Close() error {
	err := c.inner.Close()
	if c.store != nil {
		if serr := c.store.Close(); err == nil {
			err = serr
		}
	}
	return err
}

// EmbedText embeds a single string with caching.
func (c *CachedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedTexts embeds the texts missing from the cache in one provider batch.
func (c *CachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	// normalised text -> positions waiting for it
	missing := make(map[string][]int)
	var order []string
	for i, t := range texts {
		normalized := NormalizeText(t)
		keys[i] = c.cacheKey(normalized)
		if vec := c.lookup(ctx, keys[i]); vec != nil {
			out[i] = vec
			continue
		}
		if _, seen := missing[normalized]; !seen {
			order = append(order, normalized)
		}
		missing[normalized] = append(missing[normalized], i)
	}
	if len(order) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedTexts(ctx, order)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(order) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(order))
	}
	for j, normalized := range order {
		positions := missing[normalized]
		key := keys[positions[0]]
		c.storeInMemory(key, vecs[j])
		if c.store != nil {
			if err := c.store.Put(ctx, key, c.inner.ModelID(), vecs[j]); err != nil {
				c.logger.Warn("persist embedding failed", zap.Error(err))
			}
		}
		for _, i := range positions {
			out[i] = cloneVector(vecs[j])
		}
	}
	return out, nil
}

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha1.New()
	_, _ = io.WriteString(h, c.inner.ModelID())
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, text)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *CachedEmbedder) lookup(ctx context.Context, key string) []float32 {
	if vec, ok := c.fromMemory(key); ok {
		return vec
	}
	if c.store == nil {
		return nil
	}
	vec, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("load embedding failed", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	c.storeInMemory(key, vec)
	return cloneVector(vec)
}

func (c *CachedEmbedder) fromMemory(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.memCache[key]
	if !ok {
		return nil, false
	}
	c.recent.MoveToFront(el)
	return cloneVector(el.Value.(*cacheEntry).vec), true
}

func (c *CachedEmbedder) storeInMemory(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.memCache[key]; ok {
		el.Value.(*cacheEntry).vec = cloneVector(vec)
		c.recent.MoveToFront(el)
		return
	}
	c.memCache[key] = c.recent.PushFront(&cacheEntry{key: key, vec: cloneVector(vec)})
	for c.recent.Len() > c.size {
		oldest := c.recent.Back()
		c.recent.Remove(oldest)
		delete(c.memCache, oldest.Value.(*cacheEntry).key)
	}
}
