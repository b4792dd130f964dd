package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSetRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"subset scores full", "123 Main St", "Ship to: 123 MAIN ST, Springfield", 100},
		{"order and duplicates ignored", "fuzzy wuzzy was a bear", "wuzzy fuzzy was a bear bear", 100},
		{"disjoint", "abc", "xyz", 0},
		{"empty side", "", "123 Main St", 0},
		{"punctuation only", "--", "123 Main St", 0},
		{"site note against street", "Job site Maple Drive lot 7", "2211 Maple Dr", 56},
		{"no shared word", "Smith residence", "Smithson", 43},
		{"one shared word", "grant residence", "grant building", 62},
		{"repeated word", "fuzzy was a bear", "fuzzy fuzzy was a bear", 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TokenSetRatio(tt.a, tt.b))
			assert.Equal(t, tt.want, TokenSetRatio(tt.b, tt.a), "symmetric")
		})
	}

	assert.GreaterOrEqual(t, TokenSetRatio("Job site Maple Drive lot 7", "2211 Maple Dr"), DefaultFuzzyScoreCutoff,
		"a shared street name clears the default cutoff")
}

func TestRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"identical", "this is a test", "this is a test", 100},
		{"one extra rune", "this is a test", "this is a test!", 97},
		{"prefix", "maple", "maple 2211 dr", 56},
		{"prefix of longer", "ab", "abzzzz", 50},
		{"half rounds to even", "a", "abbbbbbbbbbbbbb", 12},
		{"disjoint", "abc", "xyz", 0},
		{"empty", "", "abc", 0},
		{"multibyte runes", "café", "cafe", 75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ratio(tt.a, tt.b))
			assert.Equal(t, tt.want, ratio(tt.b, tt.a), "symmetric")
		})
	}
}

func TestBestMatch(t *testing.T) {
	choices := []string{"456 Oak Ave", "123 Main St"}

	got, score, ok := BestMatch("please deliver to 123 Main St", choices, DefaultFuzzyScoreCutoff)
	require.True(t, ok)
	assert.Equal(t, "123 Main St", got)
	assert.Equal(t, 100, score)

	_, _, ok = BestMatch("zzz", choices, DefaultFuzzyScoreCutoff)
	assert.False(t, ok, "below cutoff")

	got, score, ok = BestMatch("zzz", choices, 0)
	require.True(t, ok, "no cutoff always returns the best choice")
	assert.Equal(t, "456 Oak Ave", got)
	assert.Zero(t, score)

	got, _, ok = BestMatch("main st", []string{"Main St", "main st"}, 0)
	require.True(t, ok)
	assert.Equal(t, "Main St", got, "first choice wins ties")

	_, _, ok = BestMatch("anything", nil, 0)
	assert.False(t, ok)
}

func TestChooser(t *testing.T) {
	c := NewChooser(DefaultFuzzyScoreCutoff)
	text := "Invoice for Grant residence, 123 Main St"

	m, err := c.Choose(context.Background(), text, []string{"456 Oak Ave", "123 Main St"}, []string{"Lee", "Grant"})
	require.NoError(t, err)
	assert.Equal(t, "123 Main St", m.Address)
	assert.Equal(t, "Grant", m.Owner)
	assert.Equal(t, 100, m.OwnerScore)

	m, err = c.Choose(context.Background(), text, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, m.Address)
	assert.Empty(t, m.Owner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Choose(ctx, text, []string{"123 Main St"}, []string{"Grant"})
	assert.ErrorIs(t, err, context.Canceled)
}
