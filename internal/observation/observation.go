// Package observation picks usable precipitation readings for a place from
// the per-station series returned by the observation source.
package observation

import (
	"fmt"

	"github.com/lox/rainwatch/internal/models"
)

const (
	// PreferredOffset is the reading offset used when a station reports
	// several for the same day.
	PreferredOffset = "PT6H"

	// ValidLimit is how many stations with data are kept per place and day.
	ValidLimit = 3

	// TargetResolution is the observation time resolution we ingest.
	TargetResolution = "P1D"
)

// LookbackDays are the reference dates fetched, in days before today.
var LookbackDays = []int{1, 2, 3}

// SelectOffset returns the reading for the preferred offset, or the first
// reading when the preferred one is absent.
func SelectOffset(series models.ObservationSeries, preferred string) (models.Reading, error) {
	if len(series.Readings) == 0 {
		return models.Reading{}, fmt.Errorf("station %s on %s: %w", series.StationID, series.RefDate, models.ErrNoObservations)
	}
	for _, r := range series.Readings {
		if r.Offset == preferred {
			return r, nil
		}
	}
	return series.Readings[0], nil
}

// FilterValidClosest walks candidates nearest first and returns the ids of
// the first limit stations that have at least one reading.
func FilterValidClosest(series map[string]models.ObservationSeries, candidates []models.PlaceStation, limit int) []string {
	var valid []string
	for _, c := range candidates {
		if len(valid) >= limit {
			break
		}
		if s, ok := series[c.ID]; ok && len(s.Readings) > 0 {
			valid = append(valid, c.ID)
		}
	}
	return valid
}

// Extract builds the precipitation records for one place and day. Stations
// without a usable reading are skipped and their errors returned.
func Extract(series map[string]models.ObservationSeries, candidates []models.PlaceStation, preferred string, limit int) ([]models.PrecipitationRecord, []error) {
	byID := make(map[string]models.PlaceStation, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	var records []models.PrecipitationRecord
	var errs []error
	for _, id := range FilterValidClosest(series, candidates, limit) {
		r, err := SelectOffset(series[id], preferred)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, models.PrecipitationRecord{
			Station: byID[id],
			Offset:  r.Offset,
			Value:   r.Value,
		})
	}
	return records, errs
}
