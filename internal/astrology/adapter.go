package astrology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/ashureev/natal-chart/internal/domain"
)

var errNoPositions = errors.New("engine returned no usable positions")

// Adapter turns birth records into astrology results using an Engine.
type Adapter struct {
	engine   Engine
	settings Settings
	logger   *slog.Logger
}

// NewAdapter creates an adapter. A missing geocoding credential is logged
// once here and reported by GeocodingDegraded.
func NewAdapter(engine Engine, settings Settings, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.GeonamesUsername == "" {
		logger.Warn("GEONAMES_USERNAME not set, city lookup may be unreliable")
	}
	return &Adapter{
		engine:   engine,
		settings: settings.Clone(),
		logger:   logger,
	}
}

// Settings returns a copy of the adapter configuration.
func (a *Adapter) Settings() Settings {
	return a.settings.Clone()
}

// GeocodingDegraded reports whether lookups run without a geocoding credential.
func (a *Adapter) GeocodingDegraded() bool {
	return a.settings.GeonamesUsername == ""
}

// Chart computes positions for a complete record.
// It returns *CityNotFoundError or *ComputationFailedError on failure.
func (a *Adapter) Chart(ctx context.Context, rec *domain.BirthRecord) (*domain.AstrologyResult, error) {
	if !rec.Complete() {
		return nil, &ComputationFailedError{Err: errors.New("birth record is incomplete")}
	}

	subject := Subject{
		Name:             rec.Name,
		Year:             rec.Year,
		Month:            rec.Month,
		Day:              rec.Day,
		Hour:             rec.Time.Hour,
		Minute:           rec.Time.Minute,
		City:             rec.City,
		Country:          rec.Country,
		HouseSystem:      a.settings.HouseSystem,
		GeonamesUsername: a.settings.GeonamesUsername,
	}

	raw, err := a.engine.ComputeChart(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrLocationNotFound) {
			a.logger.Info("Birthplace not found", "user_id", rec.UserID, "city", rec.City, "country", rec.Country)
			return nil, &CityNotFoundError{City: rec.City}
		}
		a.logger.Error("Chart computation failed", "user_id", rec.UserID, "error", err)
		return nil, &ComputationFailedError{Err: err}
	}

	res := &domain.AstrologyResult{}
	for _, b := range a.settings.Bodies {
		field, ok := FieldFor(b)
		if !ok {
			continue
		}
		point, ok := raw[field]
		if !ok {
			a.logger.Debug("Engine omitted point", "user_id", rec.UserID, "body", b.String())
			continue
		}
		pos, err := toPosition(b, point)
		if err != nil {
			a.logger.Warn("Discarding malformed point", "user_id", rec.UserID, "body", b.String(), "error", err)
			continue
		}
		res.Positions = append(res.Positions, pos)
	}
	if len(res.Positions) == 0 {
		return nil, &ComputationFailedError{Err: errNoPositions}
	}
	return res, nil
}

// Aspects derives aspects for a computed result.
func (a *Adapter) Aspects(res *domain.AstrologyResult) ([]domain.Aspect, error) {
	aspects, err := ComputeAspects(res.Positions, a.settings)
	if err != nil {
		return nil, fmt.Errorf("compute aspects: %w", err)
	}
	return aspects, nil
}

func toPosition(b domain.Body, p RawPoint) (domain.Position, error) {
	if math.IsNaN(p.AbsPos) || math.IsInf(p.AbsPos, 0) {
		return domain.Position{}, fmt.Errorf("invalid absolute position %v", p.AbsPos)
	}

	lon := domain.NormalizeDegrees(p.AbsPos)
	sign, degree := domain.SignAt(lon)
	if parsed, ok := domain.ParseSign(p.Sign); ok && parsed != sign {
		// Near a cusp the engine's own label wins.
		sign, degree = parsed, p.Position
	}

	pos := domain.Position{
		Body:       b,
		Sign:       sign,
		Degree:     math.Round(degree*100) / 100,
		Longitude:  lon,
		Retrograde: p.Retrograde,
	}
	if p.House >= 1 && p.House <= 12 {
		h := p.House
		pos.House = &h
	}
	return pos, nil
}
