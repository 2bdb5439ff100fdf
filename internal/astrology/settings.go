// Package astrology wraps the external chart computation engine and derives
// aspects from the positions it reports.
package astrology

import (
	"errors"
	"fmt"

	"github.com/ashureev/natal-chart/internal/domain"
)

// Settings is the immutable configuration of the adapter.
// Build it once at startup and pass it by value.
type Settings struct {
	// Bodies are the points requested from the engine, in report order.
	Bodies []domain.Body
	// AspectPoints are the points considered when deriving aspects.
	AspectPoints []domain.Body
	AspectKinds  []domain.AspectKind
	// DefaultOrb applies to any point without an override, in degrees.
	DefaultOrb float64
	Orbs       map[domain.Body]float64

	HouseSystem      string
	GeonamesUsername string
}

// DefaultSettings returns the standard body list and orb table:
// 8° by default, 10° for the luminaries and 5° for the ASC/MC axis.
func DefaultSettings() Settings {
	return Settings{
		Bodies:       domain.AllBodies(),
		AspectPoints: domain.AllBodies(),
		AspectKinds:  domain.AllAspectKinds(),
		DefaultOrb:   8,
		Orbs: map[domain.Body]float64{
			domain.Sun:       10,
			domain.Moon:      10,
			domain.Ascendant: 5,
			domain.Midheaven: 5,
		},
		HouseSystem: "P",
	}
}

// Clone returns a copy that shares no slices or maps with s.
func (s Settings) Clone() Settings {
	cp := s
	cp.Bodies = append([]domain.Body(nil), s.Bodies...)
	cp.AspectPoints = append([]domain.Body(nil), s.AspectPoints...)
	cp.AspectKinds = append([]domain.AspectKind(nil), s.AspectKinds...)
	cp.Orbs = make(map[domain.Body]float64, len(s.Orbs))
	for b, o := range s.Orbs {
		cp.Orbs[b] = o
	}
	return cp
}

// OrbFor returns the orb tolerance for a single point.
func (s Settings) OrbFor(b domain.Body) float64 {
	if o, ok := s.Orbs[b]; ok {
		return o
	}
	return s.DefaultOrb
}

// PairOrb is the tolerance for an aspect between a and b: the mean of their orbs.
func (s Settings) PairOrb(a, b domain.Body) float64 {
	return (s.OrbFor(a) + s.OrbFor(b)) / 2
}

// Validate checks that the settings can drive a computation.
func (s Settings) Validate() error {
	if len(s.Bodies) == 0 {
		return errors.New("at least one body is required")
	}
	if s.DefaultOrb <= 0 {
		return fmt.Errorf("default orb must be > 0, got %v", s.DefaultOrb)
	}
	for b, o := range s.Orbs {
		if o <= 0 {
			return fmt.Errorf("orb for %s must be > 0, got %v", b, o)
		}
	}
	return nil
}
