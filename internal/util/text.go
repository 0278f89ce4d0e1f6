package util

import (
	"regexp"
	"strings"
)

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeWhitespace trims and collapses whitespace to single spaces.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// RuneLen counts characters the way posting limits do, not bytes.
func RuneLen(s string) int { return len([]rune(s)) }

// TruncateRunes shortens s to at most n characters, appending an ellipsis
// when anything was cut. Used for log previews, never for posted text.
func TruncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// StripWrappingQuotes removes one layer of surrounding double quotes.
func StripWrappingQuotes(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}
