package store

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/natal-chart/internal/domain"
)

// MemoryStore is a process-local Repository used for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*domain.BirthRecord
}

var _ Repository = (*MemoryStore)(nil)

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{records: make(map[string]*domain.BirthRecord)}
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// GetBirthRecord returns a copy of the stored record, or nil.
func (m *MemoryStore) GetBirthRecord(_ context.Context, userID string) (*domain.BirthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[userID].Clone(), nil
}

// UpsertBirthRecord replaces the record for rec.UserID.
func (m *MemoryStore) UpsertBirthRecord(_ context.Context, rec *domain.BirthRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := rec.Clone()
	now := time.Now()
	if prev := m.records[rec.UserID]; prev != nil {
		next.CreatedAt = prev.CreatedAt
	} else if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	m.records[rec.UserID] = next
	return nil
}

// SaveChartText caches chart text on an existing record.
func (m *MemoryStore) SaveChartText(_ context.Context, userID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[userID]
	if rec == nil {
		return ErrNotFound
	}
	rec.ChartText = text
	rec.UpdatedAt = time.Now()
	return nil
}

// DeleteBirthRecord removes the record and reports whether it existed.
func (m *MemoryStore) DeleteBirthRecord(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[userID]
	delete(m.records, userID)
	return ok, nil
}
