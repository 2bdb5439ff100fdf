// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/natal-chart/internal/domain"
)

// ErrNotFound is returned when an update targets a record that does not exist.
var ErrNotFound = errors.New("record not found")

// Repository persists birth records keyed by user ID.
// Every upsert fully replaces the previous record for that user.
type Repository interface {
	// GetBirthRecord returns the stored record, or nil when the user has none.
	GetBirthRecord(ctx context.Context, userID string) (*domain.BirthRecord, error)

	// UpsertBirthRecord creates or replaces the record for rec.UserID.
	UpsertBirthRecord(ctx context.Context, rec *domain.BirthRecord) error

	// SaveChartText caches a generated chart document on an existing record.
	SaveChartText(ctx context.Context, userID, text string) error

	// DeleteBirthRecord removes the record and reports whether one existed.
	DeleteBirthRecord(ctx context.Context, userID string) (bool, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
