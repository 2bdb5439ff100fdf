package astrology

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/natal-chart/internal/domain"
)

// ErrLocationNotFound is returned by an Engine when the birthplace cannot be geocoded.
var ErrLocationNotFound = errors.New("location not found")

// Subject is the input the engine needs to compute a chart.
type Subject struct {
	Name             string
	Year             int
	Month            int
	Day              int
	Hour             int
	Minute           int
	City             string
	Country          string
	HouseSystem      string
	GeonamesUsername string
}

// RawPoint is one point as reported by the engine. House is 0 when unavailable.
type RawPoint struct {
	Sign       string
	Position   float64
	AbsPos     float64
	House      int
	Retrograde bool
}

// RawChart maps engine field names to their points.
type RawChart map[string]RawPoint

// Engine is the external chart computation service.
type Engine interface {
	ComputeChart(ctx context.Context, subject Subject) (RawChart, error)
}

// bodyFields is the accessor map from a body to its field in the engine payload.
var bodyFields = map[domain.Body]string{
	domain.Sun:       "sun",
	domain.Moon:      "moon",
	domain.Mercury:   "mercury",
	domain.Venus:     "venus",
	domain.Mars:      "mars",
	domain.Jupiter:   "jupiter",
	domain.Saturn:    "saturn",
	domain.Uranus:    "uranus",
	domain.Neptune:   "neptune",
	domain.Pluto:     "pluto",
	domain.Ascendant: "ascendant",
	domain.Midheaven: "medium_coeli",
}

// FieldFor returns the engine payload field name for b.
func FieldFor(b domain.Body) (string, bool) {
	f, ok := bodyFields[b]
	return f, ok
}

// CityNotFoundError means the engine could not resolve the birthplace.
// The user can correct it and try again.
type CityNotFoundError struct {
	City string
}

func (e *CityNotFoundError) Error() string {
	return fmt.Sprintf("city not found: %q", e.City)
}

// ComputationFailedError wraps any other engine failure.
type ComputationFailedError struct {
	Err error
}

func (e *ComputationFailedError) Error() string {
	return "chart computation failed: " + e.Err.Error()
}

func (e *ComputationFailedError) Unwrap() error {
	return e.Err
}
