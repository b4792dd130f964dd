package embedding

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakbuild/docmatch/internal/embedding/embeddingtest"
)

func TestCachedEmbedderHitsMemory(t *testing.T) {
	inner := &embeddingtest.BagOfWords{}
	c := NewCachedEmbedder(inner, nil, 0, nil)
	ctx := context.Background()

	first, err := c.EmbedText(ctx, "Acme Lumber")
	require.NoError(t, err)
	second, err := c.EmbedText(ctx, "  Acme Lumber ")
	require.NoError(t, err)

	assert.Equal(t, first, second, "normalised text reuses the cached vector")
	assert.Equal(t, 1, inner.Texts())

	first[0] = 99
	third, err := c.EmbedText(ctx, "Acme Lumber")
	require.NoError(t, err)
	assert.NotEqual(t, float32(99), third[0], "callers get copies")
}

func TestCachedEmbedderBatchesMisses(t *testing.T) {
	inner := &embeddingtest.BagOfWords{}
	c := NewCachedEmbedder(inner, nil, 0, nil)
	ctx := context.Background()

	_, err := c.EmbedText(ctx, "known")
	require.NoError(t, err)

	out, err := c.EmbedTexts(ctx, []string{"known", "new one", "new one", "another"})
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, out[1], out[2])
	assert.Equal(t, embeddingtest.Vector("another"), out[3])

	assert.Equal(t, 2, inner.Calls())
	assert.Equal(t, 3, inner.Texts(), "only the two distinct misses are sent")
}

func TestCachedEmbedderEvictsLeastRecentlyUsed(t *testing.T) {
	inner := &embeddingtest.BagOfWords{}
	c := NewCachedEmbedder(inner, nil, 2, nil)
	ctx := context.Background()

	steps := []struct {
		text      string
		wantTexts int
	}{
		{"alpha", 1},
		{"bravo", 2},
		{"alpha", 2},   // hit, alpha becomes most recent
		{"charlie", 3}, // evicts bravo
		{"alpha", 3},
		{"bravo", 4}, // evicts charlie
		{"charlie", 5},
	}
	for _, st := range steps {
		_, err := c.EmbedText(ctx, st.text)
		require.NoError(t, err)
		assert.Equal(t, st.wantTexts, inner.Texts(), "after %q", st.text)
		assert.LessOrEqual(t, c.Len(), 2)
	}
	assert.Equal(t, 2, c.Len())
}

func TestCachedEmbedderEvictedVectorsComeFromStore(t *testing.T) {
	store, err := OpenSQLiteVectorStore(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	inner := &embeddingtest.BagOfWords{Model: "m1"}
	c := NewCachedEmbedder(inner, store, 1, nil)
	defer c.Close()
	ctx := context.Background()

	want, err := c.EmbedText(ctx, "Acme Lumber")
	require.NoError(t, err)
	_, err = c.EmbedText(ctx, "Pacific Electric")
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	got, err := c.EmbedText(ctx, "Acme Lumber")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 2, inner.Texts(), "evicted vector is read back from the store")
}

func TestCachedEmbedderDefaultSize(t *testing.T) {
	c := NewCachedEmbedder(&embeddingtest.BagOfWords{}, nil, 0, nil)
	assert.Equal(t, DefaultMemoryCacheSize, c.size)
}

func TestCachedEmbedderPersistsToSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "vectors.db")
	ctx := context.Background()

	store, err := OpenSQLiteVectorStore(path)
	require.NoError(t, err)
	inner := &embeddingtest.BagOfWords{Model: "m1"}
	c := NewCachedEmbedder(inner, store, 0, nil)
	want, err := c.EmbedText(ctx, "Pacific Electric")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	store, err = OpenSQLiteVectorStore(path)
	require.NoError(t, err)
	n, err := store.Count(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	fresh := &embeddingtest.BagOfWords{Model: "m1"}
	c = NewCachedEmbedder(fresh, store, 0, nil)
	defer c.Close()
	got, err := c.EmbedText(ctx, "Pacific Electric")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Zero(t, fresh.Calls(), "served from the persistent store")
}

func TestSQLiteVectorStoreRoundTrip(t *testing.T) {
	store, err := OpenSQLiteVectorStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	vec := []float32{0.25, -1.5, 3}
	require.NoError(t, store.Put(ctx, "k", "m", vec))
	require.NoError(t, store.Put(ctx, "k", "m", []float32{1, 2, 3, 4}))

	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3, 4}, got, "put replaces")
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "ACME Lumber", NormalizeText("  ＡＣＭＥ Lumber\x00 "))
	assert.Equal(t, "a\nb", NormalizeText("a\nb"))
}
