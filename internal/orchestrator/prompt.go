package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ashureev/natal-chart/internal/domain"
	"github.com/ashureev/natal-chart/internal/extract"
	"github.com/ashureev/natal-chart/internal/generation"
)

const systemPrompt = "You are an experienced astrologer. You write warm, clear and concrete natal chart " +
	"interpretations for a general audience. Never mention that you are an AI model."

// buildPrompt asks for every interpretation section in a single request.
func buildPrompt(rec *domain.BirthRecord, res *domain.AstrologyResult, language string, minSentences map[string]int) generation.Prompt {
	var b strings.Builder

	fmt.Fprintf(&b, "Write a natal chart interpretation for %s, born %s at %s in %s.\n",
		rec.Name, rec.DateString(), rec.TimeString(), rec.Location())
	fmt.Fprintf(&b, "Write the whole answer in %s.\n", language)
	if rec.TimeUnknown {
		b.WriteString("The birth time is unknown and 12:00 was used, so treat house placements as tentative.\n")
	}

	b.WriteString("\nPlanet positions:\n")
	for _, p := range res.Positions {
		retro := ""
		if p.Retrograde {
			retro = ", retrograde"
		}
		fmt.Fprintf(&b, "- %s in %s %s%s\n", p.Body, p.Sign, formatDegree(p.Degree), retro)
	}

	var houses []string
	for _, p := range res.Positions {
		if p.Body.IsAngle() || !p.HasHouse() {
			continue
		}
		houses = append(houses, fmt.Sprintf("- %s in house %d", p.Body, *p.House))
	}
	if len(houses) > 0 {
		b.WriteString("\nHouse placements:\n")
		b.WriteString(strings.Join(houses, "\n"))
		b.WriteString("\n")
	}

	if len(res.Aspects) > 0 {
		b.WriteString("\nAspects:\n")
		for _, a := range res.Aspects {
			fmt.Fprintf(&b, "- %s %s %s (orb %.2f°)\n", a.A, a.Kind, a.B, a.Orb)
		}
	}

	b.WriteString("\nFormat the answer as tagged sections. Put each section between its markers exactly as shown:\n")
	for _, id := range promptSections(houses, res.Aspects) {
		fmt.Fprintf(&b, "%s\n...\n%s\n", extract.StartMarker(id), extract.EndMarker(id))
	}
	b.WriteString("\n")
	for _, id := range promptSections(houses, res.Aspects) {
		fmt.Fprintf(&b, "In %s, write at least %d sentences for each entry.\n", id, sentencesFor(minSentences, id))
	}
	b.WriteString("Do not write anything outside the markers.")

	return generation.Prompt{System: systemPrompt, User: b.String()}
}

func promptSections(houses []string, aspects []domain.Aspect) []string {
	ids := []string{domain.SectionSigns}
	if len(houses) > 0 {
		ids = append(ids, domain.SectionHouses)
	}
	if len(aspects) > 0 {
		ids = append(ids, domain.SectionAspects)
	}
	return ids
}

func sentencesFor(m map[string]int, id string) int {
	if n := m[id]; n > 0 {
		return n
	}
	return 1
}
