package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyRegistry means the station registry had no entries. A refresh
	// cycle cannot proceed without it.
	ErrEmptyRegistry = errors.New("station registry is empty")

	// ErrNoObservations means a station has no readings for the day.
	ErrNoObservations = errors.New("no observations")

	// ErrMissingForecastWindow means the forecast has no hourly data that
	// brackets the reference time.
	ErrMissingForecastWindow = errors.New("forecast window missing")
)

// ValidationError reports malformed input for a single item.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}
