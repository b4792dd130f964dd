// Package embeddingtest provides deterministic embedders for tests.
package embeddingtest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"unicode"
)

// Dim is the vector width of BagOfWords.
const Dim = 512

// BagOfWords embeds text as hashed token counts, so texts sharing words
// score high under cosine similarity and disjoint texts score 0.
type BagOfWords struct {
	Model string
	// Err, when set, is returned by every call.
	Err error

	calls int64
	texts int64
}

func (b *BagOfWords) ModelID() string {
	if b.Model == "" {
		return "bag-of-words"
	}
	return b.Model
}

func (b *BagOfWords) Close() error { return nil }

func (b *BagOfWords) EmbedText(ctx context.Context, text string) ([]float32, error) {
	out, err := b.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (b *BagOfWords) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt64(&b.calls, 1)
	atomic.AddInt64(&b.texts, int64(len(texts)))
	if b.Err != nil {
		return nil, b.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t)
	}
	return out, nil
}

// Calls is the number of EmbedTexts calls made.
func (b *BagOfWords) Calls() int { return int(atomic.LoadInt64(&b.calls)) }

// Texts is the number of texts embedded.
func (b *BagOfWords) Texts() int { return int(atomic.LoadInt64(&b.texts)) }

// Vector is the BagOfWords embedding of text.
func Vector(text string) []float32 {
	vec := make([]float32, Dim)
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		h := fnv.New32a()
		_, _ = h.Write([]byte(f))
		vec[h.Sum32()%Dim]++
	}
	return vec
}

// Func embeds every text with F, so tests can script exact cosine scores.
type Func struct {
	Model string
	F     func(text string) []float32

	calls int64
}

func (f *Func) ModelID() string {
	if f.Model == "" {
		return "func"
	}
	return f.Model
}

func (f *Func) Close() error { return nil }

func (f *Func) EmbedText(ctx context.Context, text string) ([]float32, error) {
	out, err := f.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *Func) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt64(&f.calls, 1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.F(t)
	}
	return out, nil
}

// Calls is the number of EmbedTexts calls made.
func (f *Func) Calls() int { return int(atomic.LoadInt64(&f.calls)) }
