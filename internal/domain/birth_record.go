// Package domain contains core domain types for the natal chart service.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// UnknownTime is the clock time used when the user does not know their birth time.
var UnknownTime = ClockTime{Hour: 12, Minute: 0}

// ClockTime is a wall-clock birth time.
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Valid reports whether the time is within 00:00-23:59.
func (c ClockTime) Valid() bool {
	return c.Hour >= 0 && c.Hour <= 23 && c.Minute >= 0 && c.Minute <= 59
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// BirthRecord holds everything needed to compute a natal chart for one user.
type BirthRecord struct {
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Year        int        `json:"year"`
	Month       int        `json:"month"`
	Day         int        `json:"day"`
	Time        *ClockTime `json:"time,omitempty"`
	TimeUnknown bool       `json:"time_unknown"`
	City        string     `json:"city"`
	Country     string     `json:"country,omitempty"`
	Language    string     `json:"language"`
	ChartText   string     `json:"chart_text,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Complete reports whether the record carries every field required to run a computation.
func (r *BirthRecord) Complete() bool {
	if r == nil {
		return false
	}
	if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.City) == "" {
		return false
	}
	if r.Year == 0 || r.Month == 0 || r.Day == 0 {
		return false
	}
	return r.Time != nil && r.Time.Valid()
}

// HasChart returns true if a previously generated chart document is cached.
func (r *BirthRecord) HasChart() bool {
	return strings.TrimSpace(r.ChartText) != ""
}

// DateString formats the birth date day-first.
func (r *BirthRecord) DateString() string {
	return fmt.Sprintf("%02d/%02d/%04d", r.Day, r.Month, r.Year)
}

// TimeString formats the birth time, or an empty string when unset.
func (r *BirthRecord) TimeString() string {
	if r.Time == nil {
		return ""
	}
	return r.Time.String()
}

// Location joins city and country for display.
func (r *BirthRecord) Location() string {
	if r.Country == "" {
		return r.City
	}
	return r.City + ", " + r.Country
}

// Clone returns a deep copy of the record.
func (r *BirthRecord) Clone() *BirthRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Time != nil {
		t := *r.Time
		cp.Time = &t
	}
	return &cp
}
