// pattern_extractor.go - Keyword-anchored regex extraction from document text

package processor

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternMode selects what ExtractPatterns keeps around a match.
type PatternMode int

const (
	// PatternContext keeps a short window of text after the match, e.g. the
	// name following "Customer Ref:".
	PatternContext PatternMode = iota
	// PatternAddress keeps the matched span itself.
	PatternAddress
)

// DefaultPostCharacters is the CONTEXT window length.
const DefaultPostCharacters = 40

var (
	nonWordRe    = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// CompilePatterns compiles patterns case-insensitively.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// LiteralPatterns turns plain strings (owner names) into patterns matching
// them verbatim.
func LiteralPatterns(values []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out = append(out, regexp.MustCompile("(?i)"+regexp.QuoteMeta(v)))
	}
	return out
}

// ExtractPatterns runs every pattern against text once and space-joins what
// each first match yields. Patterns without a match contribute nothing.
func ExtractPatterns(text string, patterns []*regexp.Regexp, mode PatternMode, postChars int) string {
	if postChars <= 0 {
		postChars = DefaultPostCharacters
	}

	var matches []string
	for _, re := range patterns {
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}

		var extracted string
		switch mode {
		case PatternAddress:
			extracted = collapseWhitespace(text[loc[0]:loc[1]])
		default:
			window := runeWindow(text[loc[1]:], postChars)
			window = strings.ReplaceAll(window, "\n", " ")
			extracted = strings.TrimSpace(nonWordRe.ReplaceAllString(window, ""))
		}
		if extracted != "" {
			matches = append(matches, extracted)
		}
	}
	return strings.Join(matches, " ")
}

// runeWindow returns the first n characters of s.
func runeWindow(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
