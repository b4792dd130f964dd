package processor

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPatterns(t *testing.T, patterns ...string) []*regexp.Regexp {
	t.Helper()
	out, err := CompilePatterns(patterns)
	require.NoError(t, err)
	return out
}

func TestExtractPatterns(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		patterns  []string
		mode      PatternMode
		postChars int
		want      string
	}{
		{
			name:     "context window after anchor",
			text:     "Customer: Jane Doe",
			patterns: []string{"customer", `ref |reference`},
			mode:     PatternContext,
			want:     "Jane Doe",
		},
		{
			name:     "case insensitive and both anchors",
			text:     "CUSTOMER Grant\nREFERENCE: PO-77",
			patterns: []string{"customer", `ref |reference`},
			mode:     PatternContext,
			want:     "Grant REFERENCE PO77 PO77",
		},
		{
			name:      "window is bounded",
			text:      "Ref #98-765 Smith Residence",
			patterns:  []string{`ref `},
			mode:      PatternContext,
			postChars: 5,
			want:      "987",
		},
		{
			name:      "window counts characters not bytes",
			text:      "Customer: Café Ñandú",
			patterns:  []string{"customer"},
			mode:      PatternContext,
			postChars: 6,
			want:      "Café",
		},
		{
			name:     "address keeps the matched span",
			text:     "ship to 123  Main\nSt today",
			patterns: []string{`\d+\s+main\s+st`},
			mode:     PatternAddress,
			want:     "123 Main St",
		},
		{
			name:     "missing patterns contribute nothing",
			text:     "nothing to see",
			patterns: []string{"customer", "ref "},
			mode:     PatternContext,
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractPatterns(tt.text, mustPatterns(t, tt.patterns...), tt.mode, tt.postChars)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompilePatternsRejectsInvalid(t *testing.T) {
	_, err := CompilePatterns([]string{"customer", "("})
	assert.ErrorContains(t, err, `"("`)
}

func TestLiteralPatterns(t *testing.T) {
	patterns := LiteralPatterns([]string{"O'Brien (Jr)", " ", "Lee"})
	require.Len(t, patterns, 2)

	got := ExtractPatterns("bill to o'brien (jr) and LEE", patterns, PatternAddress, 0)
	assert.Equal(t, "o'brien (jr) LEE", got)
}
