package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/natal-chart/internal/domain"
	"github.com/ashureev/natal-chart/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a chart is being cached.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS birth_records (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		day INTEGER NOT NULL,
		hour INTEGER,
		minute INTEGER,
		time_unknown INTEGER NOT NULL DEFAULT 0,
		city TEXT NOT NULL,
		country TEXT,
		language TEXT NOT NULL DEFAULT '',
		chart_text TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetBirthRecord retrieves the record for userID, or nil if there is none.
func (s *SQLiteStore) GetBirthRecord(ctx context.Context, userID string) (*domain.BirthRecord, error) {
	query := `
		SELECT user_id, name, year, month, day, hour, minute, time_unknown,
		       city, country, language, chart_text, created_at, updated_at
		FROM birth_records WHERE user_id = ?`

	var (
		rec                  domain.BirthRecord
		hour, minute         sql.NullInt64
		timeUnknown          int
		country, chart       sql.NullString
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&rec.UserID, &rec.Name, &rec.Year, &rec.Month, &rec.Day,
		&hour, &minute, &timeUnknown,
		&rec.City, &country, &rec.Language, &chart,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan birth record row: %w", err)
	}

	if hour.Valid && minute.Valid {
		rec.Time = &domain.ClockTime{Hour: int(hour.Int64), Minute: int(minute.Int64)}
	}
	rec.TimeUnknown = timeUnknown != 0
	rec.Country = country.String
	rec.ChartText = chart.String
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

// UpsertBirthRecord creates or replaces a birth record. The original
// creation time is kept on replace. Busy or locked databases are retried.
func (s *SQLiteStore) UpsertBirthRecord(ctx context.Context, rec *domain.BirthRecord) error {
	query := `
	INSERT INTO birth_records (user_id, name, year, month, day, hour, minute, time_unknown,
		city, country, language, chart_text, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		name = excluded.name,
		year = excluded.year,
		month = excluded.month,
		day = excluded.day,
		hour = excluded.hour,
		minute = excluded.minute,
		time_unknown = excluded.time_unknown,
		city = excluded.city,
		country = excluded.country,
		language = excluded.language,
		chart_text = excluded.chart_text,
		updated_at = excluded.updated_at`

	var hour, minute, country, chart any
	if rec.Time != nil {
		hour, minute = rec.Time.Hour, rec.Time.Minute
	}
	if rec.Country != "" {
		country = rec.Country
	}
	if rec.ChartText != "" {
		chart = rec.ChartText
	}

	now := s.now()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}

	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.UserID, rec.Name, rec.Year, rec.Month, rec.Day,
			hour, minute, boolToInt(rec.TimeUnknown),
			rec.City, country, rec.Language, chart,
			created.Unix(), now.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert birth record: %w", err)
	}
	return nil
}

// SaveChartText caches the rendered chart on an existing record.
func (s *SQLiteStore) SaveChartText(ctx context.Context, userID, text string) error {
	query := `UPDATE birth_records SET chart_text = ?, updated_at = ? WHERE user_id = ?`
	var n int64
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, func() error {
		res, err := s.db.ExecContext(ctx, query, text, s.now().Unix(), userID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("save chart text: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBirthRecord removes the user's record.
// Busy or locked databases are retried with exponential backoff.
func (s *SQLiteStore) DeleteBirthRecord(ctx context.Context, userID string) (bool, error) {
	var deleted int64
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM birth_records WHERE user_id = ?`, userID)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete birth record for %s: %w", userID, err)
	}
	return deleted > 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
