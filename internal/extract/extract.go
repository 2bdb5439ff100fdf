// Package extract parses tagged generator output into named sections.
//
// A section is written as
//
//	[SECTION:positions-in-signs]
//	...
//	[/SECTION:positions-in-signs]
//
// Markers are case-insensitive. A section without its closing marker runs to
// the next opening marker or the end of the text.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/natal-chart/internal/domain"
)

// MinUnprocessedLength is the rune count above which untagged text is kept verbatim.
const MinUnprocessedLength = 10

var startMarker = regexp.MustCompile(`(?i)\[\s*SECTION\s*:\s*([a-z0-9_-]+)\s*\]`)

// Section is one extracted block.
type Section struct {
	ID   string
	Body string
}

// Result holds extracted sections in the order they appeared.
type Result struct {
	Sections []Section
}

// Get returns the body for id.
func (r Result) Get(id string) (string, bool) {
	for _, s := range r.Sections {
		if s.ID == id {
			return s.Body, true
		}
	}
	return "", false
}

// Empty reports whether nothing could be extracted.
func (r Result) Empty() bool {
	return len(r.Sections) == 0
}

// StartMarker returns the opening marker for a section id.
func StartMarker(id string) string {
	return "[SECTION:" + id + "]"
}

// EndMarker returns the closing marker for a section id.
func EndMarker(id string) string {
	return "[/SECTION:" + id + "]"
}

func endMarkerPattern(id string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\[\s*/\s*SECTION\s*:\s*` + regexp.QuoteMeta(id) + `\s*\]`)
}

// Parse extracts all tagged sections from raw. Sections with an empty body are
// dropped. When nothing is tagged, a failure placeholder becomes a single
// interpretation-failed section and other non-trivial text becomes a single
// unprocessed section.
func Parse(raw string) Result {
	var res Result
	seen := make(map[string]bool)

	starts := startMarker.FindAllStringSubmatchIndex(raw, -1)
	consumed := 0
	for i, loc := range starts {
		if loc[0] < consumed {
			continue
		}
		id := strings.ToLower(raw[loc[2]:loc[3]])
		bodyStart := loc[1]

		bodyEnd := len(raw)
		next := bodyEnd
		if i+1 < len(starts) {
			bodyEnd = starts[i+1][0]
			next = bodyEnd
		}
		if end := endMarkerPattern(id).FindStringIndex(raw[bodyStart:]); end != nil {
			bodyEnd = bodyStart + end[0]
			next = bodyStart + end[1]
		}
		consumed = next

		body := strings.TrimSpace(raw[bodyStart:bodyEnd])
		if body == "" || seen[id] {
			continue
		}
		seen[id] = true
		res.Sections = append(res.Sections, Section{ID: id, Body: body})
	}
	if !res.Empty() {
		return res
	}

	if reason, ok := domain.ParseFailurePlaceholder(raw); ok {
		res.Sections = []Section{{ID: domain.SectionFailed, Body: reason}}
		return res
	}
	text := strings.TrimSpace(raw)
	if utf8.RuneCountInString(text) > MinUnprocessedLength {
		res.Sections = []Section{{ID: domain.SectionUnprocessed, Body: text}}
	}
	return res
}
