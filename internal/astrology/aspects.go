package astrology

import (
	"fmt"
	"math"

	"github.com/ashureev/natal-chart/internal/domain"
)

// Separation returns the shortest angular distance between two longitudes, in [0, 180].
func Separation(a, b float64) float64 {
	d := math.Abs(domain.NormalizeDegrees(a) - domain.NormalizeDegrees(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// ComputeAspects finds every pair of considered points whose separation lies
// within the pair's orb of an aspect angle. Points missing from positions are
// skipped. Results follow the order of s.AspectPoints.
func ComputeAspects(positions []domain.Position, s Settings) ([]domain.Aspect, error) {
	byBody := make(map[domain.Body]domain.Position, len(positions))
	for _, p := range positions {
		byBody[p.Body] = p
	}

	points := make([]domain.Position, 0, len(s.AspectPoints))
	for _, b := range s.AspectPoints {
		p, ok := byBody[b]
		if !ok {
			continue
		}
		if math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) {
			return nil, fmt.Errorf("invalid longitude for %s: %v", b, p.Longitude)
		}
		points = append(points, p)
	}

	var aspects []domain.Aspect
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			a, b := points[i], points[j]
			sep := Separation(a.Longitude, b.Longitude)
			orb := s.PairOrb(a.Body, b.Body)

			best, found := domain.AspectKind(0), false
			bestDelta := math.Inf(1)
			for _, k := range s.AspectKinds {
				delta := math.Abs(sep - k.Angle())
				if delta <= orb && delta < bestDelta {
					best, bestDelta, found = k, delta, true
				}
			}
			if found {
				aspects = append(aspects, domain.Aspect{
					A:    a.Body,
					B:    b.Body,
					Kind: best,
					Orb:  math.Round(bestDelta*100) / 100,
				})
			}
		}
	}
	return aspects, nil
}
