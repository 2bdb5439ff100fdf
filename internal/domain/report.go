package domain

import "strings"

// Section identifiers used in generated documents and final reports.
const (
	SectionSigns       = "positions-in-signs"
	SectionHouses      = "positions-in-houses"
	SectionAspects     = "aspects"
	SectionUnprocessed = "unprocessed"
	SectionFailed      = "interpretation-failed"
)

// InterpretationSections lists the sections requested from the generator, in report order.
func InterpretationSections() []string {
	return []string{SectionSigns, SectionHouses, SectionAspects}
}

// ReportSection is one titled block of the final report.
type ReportSection struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// FinalReport is the assembled chart document delivered to the user.
type FinalReport struct {
	Header   string          `json:"header"`
	Sections []ReportSection `json:"sections"`
}

// HasSection reports whether a section with the given id is present.
func (r *FinalReport) HasSection(id string) bool {
	for _, s := range r.Sections {
		if s.ID == id {
			return true
		}
	}
	return false
}

// Render joins header and sections into the delivered text.
func (r *FinalReport) Render() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.Header))
	for _, s := range r.Sections {
		b.WriteString("\n\n")
		if s.Title != "" {
			b.WriteString(s.Title)
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(s.Body))
	}
	return b.String()
}

const placeholderPrefix = "[[generation-failed"

// FailurePlaceholder renders the text substituted for an interpretation that
// could not be generated.
func FailurePlaceholder(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return placeholderPrefix + "]]"
	}
	return placeholderPrefix + ": " + reason + "]]"
}

// ParseFailurePlaceholder reports whether text is a failure placeholder and returns its reason.
func ParseFailurePlaceholder(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, placeholderPrefix) || !strings.HasSuffix(text, "]]") {
		return "", false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(text, placeholderPrefix), "]]")
	if inner == "" {
		return "", true
	}
	if !strings.HasPrefix(inner, ":") {
		return "", false
	}
	return strings.TrimSpace(inner[1:]), true
}
