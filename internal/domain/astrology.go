package domain

import (
	"math"
	"strings"
)

// Body is a celestial body or chart point that the engine reports.
type Body int

const (
	Sun Body = iota
	Moon
	Mercury
	Venus
	Mars
	Jupiter
	Saturn
	Uranus
	Neptune
	Pluto
	Ascendant
	Midheaven
)

var bodyNames = [...]string{
	Sun:       "Sun",
	Moon:      "Moon",
	Mercury:   "Mercury",
	Venus:     "Venus",
	Mars:      "Mars",
	Jupiter:   "Jupiter",
	Saturn:    "Saturn",
	Uranus:    "Uranus",
	Neptune:   "Neptune",
	Pluto:     "Pluto",
	Ascendant: "Ascendant",
	Midheaven: "Midheaven",
}

var bodyGlyphs = [...]string{
	Sun:       "☀️",
	Moon:      "🌙",
	Mercury:   "☿️",
	Venus:     "♀️",
	Mars:      "♂️",
	Jupiter:   "♃",
	Saturn:    "♄",
	Uranus:    "♅",
	Neptune:   "♆",
	Pluto:     "♇",
	Ascendant: "⬆️",
	Midheaven: "🔝",
}

// AllBodies lists every supported body in canonical order.
func AllBodies() []Body {
	out := make([]Body, 0, len(bodyNames))
	for b := range bodyNames {
		out = append(out, Body(b))
	}
	return out
}

func (b Body) String() string {
	if b < 0 || int(b) >= len(bodyNames) {
		return "Unknown"
	}
	return bodyNames[b]
}

// Glyph returns a display symbol for the body.
func (b Body) Glyph() string {
	if b < 0 || int(b) >= len(bodyGlyphs) {
		return "🪐"
	}
	return bodyGlyphs[b]
}

// IsAngle reports whether the body is one of the chart angles rather than a planet.
func (b Body) IsAngle() bool {
	return b == Ascendant || b == Midheaven
}

// ParseBody resolves a case-insensitive body name.
func ParseBody(s string) (Body, bool) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "asc":
		return Ascendant, true
	case "mc":
		return Midheaven, true
	}
	for i, name := range bodyNames {
		if strings.EqualFold(name, s) {
			return Body(i), true
		}
	}
	return 0, false
}

// Sign is a zodiac sign.
type Sign int

const (
	Aries Sign = iota
	Taurus
	Gemini
	Cancer
	Leo
	Virgo
	Libra
	Scorpio
	Sagittarius
	Capricorn
	Aquarius
	Pisces
)

var signNames = [...]string{
	"Aries", "Taurus", "Gemini", "Cancer", "Leo", "Virgo",
	"Libra", "Scorpio", "Sagittarius", "Capricorn", "Aquarius", "Pisces",
}

func (s Sign) String() string {
	if s < 0 || int(s) >= len(signNames) {
		return "Unknown"
	}
	return signNames[s]
}

// Key returns the lowercase identifier used in message catalogs.
func (s Sign) Key() string {
	return strings.ToLower(s.String())
}

// ParseSign accepts full names and three-letter abbreviations ("Ari", "Tau").
func ParseSign(s string) (Sign, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 3 {
		return 0, false
	}
	for i, name := range signNames {
		if strings.EqualFold(name, s) || strings.EqualFold(name[:3], s) {
			return Sign(i), true
		}
	}
	return 0, false
}

// SignAt maps an ecliptic longitude to its sign and the degree within that sign.
func SignAt(longitude float64) (Sign, float64) {
	lon := NormalizeDegrees(longitude)
	idx := int(lon / 30)
	if idx > 11 {
		idx = 11
	}
	return Sign(idx), lon - float64(idx)*30
}

// NormalizeDegrees folds an angle into [0, 360).
func NormalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// Position is the placement of one body in the chart.
type Position struct {
	Body       Body    `json:"body"`
	Sign       Sign    `json:"sign"`
	Degree     float64 `json:"degree"`
	Longitude  float64 `json:"longitude"`
	House      *int    `json:"house,omitempty"` // nil when house placement is unavailable
	Retrograde bool    `json:"retrograde"`
}

// HasHouse reports whether a house placement is known.
func (p Position) HasHouse() bool {
	return p.House != nil
}

// AspectKind enumerates the major aspects.
type AspectKind int

const (
	Conjunction AspectKind = iota
	Opposition
	Square
	Trine
	Sextile
)

var aspectNames = [...]string{"conjunction", "opposition", "square", "trine", "sextile"}
var aspectAngles = [...]float64{0, 180, 90, 120, 60}

// AllAspectKinds lists the supported aspect kinds.
func AllAspectKinds() []AspectKind {
	return []AspectKind{Conjunction, Opposition, Square, Trine, Sextile}
}

func (k AspectKind) String() string {
	if k < 0 || int(k) >= len(aspectNames) {
		return "unknown"
	}
	return aspectNames[k]
}

// Angle returns the exact separation in degrees that defines the aspect.
func (k AspectKind) Angle() float64 {
	return aspectAngles[k]
}

// ParseAspectKind resolves a case-insensitive aspect name.
func ParseAspectKind(s string) (AspectKind, bool) {
	for i, name := range aspectNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return AspectKind(i), true
		}
	}
	return 0, false
}

// Aspect is an angular relationship between two chart points.
type Aspect struct {
	A    Body       `json:"a"`
	B    Body       `json:"b"`
	Kind AspectKind `json:"kind"`
	Orb  float64    `json:"orb"` // distance from exact, in degrees
}

// AstrologyResult is the engine output for a single pipeline run.
type AstrologyResult struct {
	Positions []Position `json:"positions"`
	Aspects   []Aspect   `json:"aspects"`
}

// Position returns the placement of b, if the engine reported one.
func (r *AstrologyResult) Position(b Body) (Position, bool) {
	for _, p := range r.Positions {
		if p.Body == b {
			return p, true
		}
	}
	return Position{}, false
}
