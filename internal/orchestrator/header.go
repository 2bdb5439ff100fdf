package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ashureev/natal-chart/internal/domain"
	"github.com/ashureev/natal-chart/internal/i18n"
)

func (o *Orchestrator) header(rec *domain.BirthRecord, res *domain.AstrologyResult) string {
	lang := rec.Language
	lines := []string{
		o.tr.Text(lang, "chart.title", i18n.Vars{"name": rec.Name}),
		"",
		o.tr.Text(lang, "chart.birth_data", i18n.Vars{
			"date":     rec.DateString(),
			"time":     rec.TimeString(),
			"location": rec.Location(),
		}),
	}

	if sun, ok := res.Position(domain.Sun); ok {
		lines = append(lines, o.tr.Text(lang, "chart.sun", o.positionVars(lang, sun)))
	}
	if asc, ok := res.Position(domain.Ascendant); ok {
		lines = append(lines, o.tr.Text(lang, "chart.ascendant", o.positionVars(lang, asc)))
	} else {
		lines = append(lines, o.tr.Text(lang, "chart.ascendant_missing", nil))
	}

	if rec.TimeUnknown {
		lines = append(lines, "", o.tr.Text(lang, "chart.time_note", nil))
	}
	return strings.Join(lines, "\n")
}

func (o *Orchestrator) positionVars(lang string, p domain.Position) i18n.Vars {
	return i18n.Vars{
		"glyph":  p.Body.Glyph(),
		"sign":   o.tr.Text(lang, "sign."+p.Sign.Key(), nil),
		"degree": formatDegree(p.Degree),
	}
}

func formatDegree(d float64) string {
	return fmt.Sprintf("%.2f°", d)
}
