// Package reply turns a raw assistant answer into platform-sized plain-text
// delivery chunks.
package reply

import (
	"regexp"
	"strings"
)

var (
	fenceLine      = regexp.MustCompile("(?m)^[ \t]*```[^\n]*\n?")
	headerPrefix   = regexp.MustCompile(`(?m)^#{1,6}[ \t]+`)
	ruleLine       = regexp.MustCompile(`(?m)^[ \t]*(\*{3,}|-{3,}|_{3,})[ \t]*\n?`)
	boldStars      = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	boldUnders     = regexp.MustCompile(`__([^_]+)__`)
	italicStars    = regexp.MustCompile(`\*([^*\n]+)\*`)
	inlineCode     = regexp.MustCompile("`([^`\n]+)`")
	excessNewlines = regexp.MustCompile(`\n{3,}`)
)

// Sanitize strips structural markdown (headers, emphasis, code fences, rule
// lines, inline code) while preserving the text content itself.
func Sanitize(raw string) string {
	s := fenceLine.ReplaceAllString(raw, "")
	s = headerPrefix.ReplaceAllString(s, "")
	s = ruleLine.ReplaceAllString(s, "")
	s = boldStars.ReplaceAllString(s, "$1")
	s = boldUnders.ReplaceAllString(s, "$1")
	s = italicStars.ReplaceAllString(s, "$1")
	s = inlineCode.ReplaceAllString(s, "$1")
	s = excessNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
