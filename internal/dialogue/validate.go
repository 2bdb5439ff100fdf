package dialogue

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/natal-chart/internal/domain"
	"github.com/ashureev/natal-chart/internal/i18n"
)

// MinYear is the earliest accepted birth year.
const MinYear = 1900

const minTextLength = 2

// UnknownTimeWord is always accepted as "birth time unknown", in any language.
const UnknownTimeWord = "unknown"

var dateLayouts = []string{
	"2.1.2006",
	"2/1/2006",
	"2-1-2006",
	"2006-1-2",
	"2006/1/2",
	"2006.1.2",
}

// ValidationError is a user-correctable input error. Key names the localized message.
type ValidationError struct {
	Field string
	Key   string
	Vars  i18n.Vars
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s", e.Field)
}

func invalid(field, key string, vars i18n.Vars) *ValidationError {
	return &ValidationError{Field: field, Key: key, Vars: vars}
}

func parseText(field, key, s string) (string, error) {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) < minTextLength {
		return "", invalid(field, key, nil)
	}
	return s, nil
}

// ParseName validates a person's name.
func ParseName(s string) (string, error) {
	return parseText("name", "error.name", s)
}

// ParseCountry validates a free-text country.
func ParseCountry(s string) (string, error) {
	return parseText("country", "error.country", s)
}

// ParseCity validates a city name.
func ParseCity(s string) (string, error) {
	return parseText("city", "error.city", s)
}

// ParseDate parses a day-first or ISO birth date and checks the year range
// against now.
func ParseDate(s string, now time.Time) (year, month, day int, err error) {
	s = strings.TrimSpace(s)
	var (
		t      time.Time
		parsed bool
	)
	for _, layout := range dateLayouts {
		if v, perr := time.Parse(layout, s); perr == nil {
			t, parsed = v, true
			break
		}
	}
	if !parsed {
		return 0, 0, 0, invalid("date", "error.date_format", nil)
	}
	if t.Year() < MinYear || t.Year() > now.Year() {
		return 0, 0, 0, invalid("date", "error.date_range", i18n.Vars{
			"min": strconv.Itoa(MinYear),
			"max": strconv.Itoa(now.Year()),
		})
	}
	return t.Year(), int(t.Month()), t.Day(), nil
}

// ParseTime parses H:MM or HH:MM. Any of the unknown words (case-insensitive)
// yields domain.UnknownTime with unknown set.
func ParseTime(s string, unknownWords ...string) (t domain.ClockTime, unknown bool, err error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, UnknownTimeWord) {
		return domain.UnknownTime, true, nil
	}
	for _, w := range unknownWords {
		if w != "" && strings.EqualFold(s, strings.TrimSpace(w)) {
			return domain.UnknownTime, true, nil
		}
	}

	v, perr := time.Parse("15:04", s)
	if perr != nil {
		return domain.ClockTime{}, false, invalid("time", "error.time_format", nil)
	}
	t = domain.ClockTime{Hour: v.Hour(), Minute: v.Minute()}
	if !t.Valid() {
		return domain.ClockTime{}, false, invalid("time", "error.time_format", nil)
	}
	return t, false, nil
}
