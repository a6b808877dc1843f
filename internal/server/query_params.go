package server

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

const dateOnlyLayout = "2006-01-02"

var errInvalidNumber = errors.New("invalid_number")

func parseOptionalFloat(value string) (*float64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return nil, errInvalidNumber
	}
	return &parsed, nil
}

// parseIntDefault returns def for an absent value.
func parseIntDefault(value string, def int) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, errInvalidNumber
	}
	return parsed, nil
}

// parseOptionalTime accepts RFC3339 or a bare date. A bare date maps to the
// midnight starting that day in loc, or with endOfDay to the next midnight, so
// an exclusive upper bound still covers the whole day.
func parseOptionalTime(value string, endOfDay bool, loc *time.Location) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if parsed, err := time.ParseInLocation(dateOnlyLayout, trimmed, loc); err == nil {
		if endOfDay {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day()+1, 0, 0, 0, 0, loc)
		}
		return &parsed, nil
	}
	return nil, errors.New("invalid_time")
}
