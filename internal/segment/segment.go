// Package segment splits long documents into transport-sized messages.
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minLimit keeps a hard cut from ever landing inside the first rune.
const minLimit = utf8.UTFMax

// separator describes a preferred split point and whether it stays with the left chunk.
type separator struct {
	token    string
	keepLeft int
}

// Ordered by preference: paragraph, line, sentence, word.
var separators = []separator{
	{token: "\n\n"},
	{token: "\n"},
	{token: ". ", keepLeft: 1},
	{token: " "},
}

// Limit returns the usable chunk size for a transport with the given
// maximum message size after reserving a safety margin.
func Limit(max, margin int) int {
	n := max - margin
	if n < minLimit {
		return minLimit
	}
	return n
}

// Split breaks text into chunks whose UTF-8 encoded length is at most limit bytes.
// Chunks never end inside a multi-byte character and are never blank.
func Split(text string, limit int) []string {
	if limit < minLimit {
		limit = minLimit
	}

	var parts []string
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	for len(text) > limit {
		cut, next := splitPoint(text, limit)
		if chunk := strings.TrimRightFunc(text[:cut], unicode.IsSpace); chunk != "" {
			parts = append(parts, chunk)
		}
		text = strings.TrimLeftFunc(text[next:], unicode.IsSpace)
	}
	if chunk := strings.TrimRightFunc(text, unicode.IsSpace); chunk != "" {
		parts = append(parts, chunk)
	}
	return parts
}

// splitPoint returns the end of the next chunk and the offset the remainder starts at.
func splitPoint(text string, limit int) (cut, next int) {
	window := text[:limit]
	for _, sep := range separators {
		idx := strings.LastIndex(window, sep.token)
		if idx <= 0 {
			continue
		}
		cut = idx + sep.keepLeft
		return cut, cut
	}

	cut = limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		// Malformed input with no rune start in range; cut on the byte limit.
		cut = limit
	}
	return cut, cut
}
