package reply

import (
	"strings"
	"unicode"
)

// Limits is the chunk size schedule: the first chunk is kept short so the
// user sees an answer quickly, the second slightly longer, and everything
// after is bounded only by the platform hard limit. All values are runes.
type Limits struct {
	First  int
	Second int
	Hard   int
}

func (l Limits) forIndex(i int) int {
	switch i {
	case 0:
		return l.First
	case 1:
		return l.Second
	default:
		return l.Hard
	}
}

// SplitForDelivery splits plain text into ordered delivery chunks. The cut
// point prefers the last sentence terminator or newline within the tail 40%
// of the current window; without one it hard-cuts at the limit. Empty input
// yields nil; the caller substitutes a fallback chunk.
//
// The trimmed concatenation of the returned chunks reproduces the input up
// to whitespace at the cut points, and no chunk exceeds its limit.
func SplitForDelivery(text string, limits Limits) []string {
	rest := []rune(strings.TrimSpace(text))
	if len(rest) == 0 {
		return nil
	}

	var chunks []string
	for i := 0; len(rest) > 0; i++ {
		limit := limits.forIndex(i)
		if len(rest) <= limit {
			if chunk := strings.TrimSpace(string(rest)); chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}
		cut := boundaryCut(rest, limit)
		if chunk := strings.TrimSpace(string(rest[:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		rest = rest[cut:]
		for len(rest) > 0 && unicode.IsSpace(rest[0]) {
			rest = rest[1:]
		}
	}
	return chunks
}

// boundaryCut returns the cut index for a window of size limit. Scanning
// backwards from the limit finds the boundary closest to it.
func boundaryCut(runes []rune, limit int) int {
	floor := limit - limit*2/5
	if floor < 1 {
		floor = 1
	}
	for i := limit - 1; i >= floor; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
		if isSentenceEnd(runes[i]) && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			return i + 1
		}
	}
	return limit
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}
