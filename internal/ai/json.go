// json.go - Cleanup of JSON returned by language models

package ai

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	codeFenceRe  = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	jsonStringRe = regexp.MustCompile(`"([^"\\]*(?:\\.[^"\\]*)*)"`)
	jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// StripCodeFences removes a surrounding markdown code fence and newlines and
// trims the answer down to its outermost JSON object when there is one.
func StripCodeFences(s string) string {
	s = trimCodeFence(s)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
	if obj := jsonObjectRe.FindString(s); obj != "" {
		s = obj
	}
	return strings.TrimSpace(s)
}

// trimCodeFence removes a surrounding markdown code fence only.
func trimCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// fixJSONEscaping escapes raw control characters left inside string values.
func fixJSONEscaping(jsonStr string) string {
	return jsonStringRe.ReplaceAllStringFunc(jsonStr, func(match string) string {
		if len(match) < 2 {
			return match
		}
		content := match[1 : len(match)-1]

		var b strings.Builder
		for _, ch := range content {
			switch ch {
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			case '\f':
				b.WriteString(`\f`)
			case '\b':
				b.WriteString(`\b`)
			default:
				if ch < 0x20 {
					b.WriteString(fmt.Sprintf(`\u%04x`, ch))
				} else {
					b.WriteRune(ch)
				}
			}
		}
		return `"` + b.String() + `"`
	})
}
