// index.go - Embedded candidate index with cosine scoring

package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Entry is one indexed candidate. Label is what the caller shows,
// Document is the text that gets embedded and Ref identifies the candidate.
// They travel together so a score can never be paired with the wrong
// candidate.
type Entry[R any] struct {
	Label    string
	Document string
	Ref      R
}

// Index holds the embedded documents of a candidate list. It is read-only
// after Build and safe for concurrent queries.
type Index[R any] struct {
	embedder Embedder
	entries  []Entry[R]
	vectors  [][]float32
	hash     string
}

// Build embeds every entry's document once.
func Build[R any](ctx context.Context, embedder Embedder, entries []Entry[R]) (*Index[R], error) {
	ix := &Index[R]{
		embedder: embedder,
		entries:  append([]Entry[R](nil), entries...),
		hash:     ContentHash(embedder.ModelID(), entries),
	}
	if len(entries) == 0 {
		return ix, nil
	}

	docs := make([]string, len(entries))
	for i, e := range entries {
		docs[i] = e.Document
	}
	vecs, err := embedder.EmbedTexts(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("embed %d candidates: %w", len(docs), err)
	}
	if len(vecs) != len(entries) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d candidates", len(vecs), len(entries))
	}
	ix.vectors = vecs
	return ix, nil
}

// Query embeds text and returns its cosine similarity to every entry, in
// entry order.
func (ix *Index[R]) Query(ctx context.Context, text string) ([]float64, error) {
	if ix == nil || len(ix.entries) == 0 {
		return []float64{}, nil
	}
	q, err := ix.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	scores := make([]float64, len(ix.vectors))
	for i, v := range ix.vectors {
		scores[i] = Cosine(q, v)
	}
	return scores, nil
}

// Len is the number of indexed entries.
func (ix *Index[R]) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.entries)
}

// Entry returns the i-th entry.
func (ix *Index[R]) Entry(i int) Entry[R] {
	return ix.entries[i]
}

// Entries returns a copy of the indexed entries.
func (ix *Index[R]) Entries() []Entry[R] {
	if ix == nil {
		return nil
	}
	return append([]Entry[R](nil), ix.entries...)
}

// ContentHash identifies the model and ordered entries the index was built
// from.
func (ix *Index[R]) ContentHash() string {
	return ix.hash
}

// ModelID is the embedder model the index was built with.
func (ix *Index[R]) ModelID() string {
	return ix.embedder.ModelID()
}

// ContentHash hashes the model id with every entry in order.
func ContentHash[R any](modelID string, entries []Entry[R]) string {
	h := sha256.New()
	_, _ = io.WriteString(h, modelID)
	for _, e := range entries {
		ref, _ := json.Marshal(e.Ref)
		_, _ = io.WriteString(h, "\x00")
		_, _ = io.WriteString(h, e.Label)
		_, _ = io.WriteString(h, "\x1f")
		_, _ = io.WriteString(h, e.Document)
		_, _ = io.WriteString(h, "\x1f")
		_, _ = h.Write(ref)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ArgMax returns the first index holding the highest score, -1 when empty.
func ArgMax(scores []float64) (int, float64) {
	best := -1
	var bestScore float64
	for i, s := range scores {
		if best == -1 || s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}

// TopN returns the indices of the n highest scores, highest first; equal
// scores keep entry order.
func TopN(scores []float64, n int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	if n < 0 {
		n = 0
	}
	if n < len(idx) {
		idx = idx[:n]
	}
	return idx
}
