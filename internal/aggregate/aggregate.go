// Package aggregate regroups per-place observation records by station.
package aggregate

import (
	"github.com/lox/rainwatch/internal/models"
)

// Compute builds the station aggregates for a set of places.
func Compute(places []models.PlaceObservations) map[string]*models.StationAggregate {
	out := make(map[string]*models.StationAggregate)
	for _, p := range places {
		Merge(out, p)
	}
	return out
}

// Merge folds one place's records into dst. The first value seen for a
// (station, date) pair and the first distance seen for a (station, place)
// pair are kept; later ones are ignored.
func Merge(dst map[string]*models.StationAggregate, place models.PlaceObservations) {
	for _, day := range place.Days {
		for _, rec := range day.Records {
			agg, ok := dst[rec.Station.ID]
			if !ok {
				agg = &models.StationAggregate{
					ID:       rec.Station.ID,
					Name:     rec.Station.Name,
					Point:    rec.Station.Point,
					Values:   make(map[string]float64),
					Offsets:  make(map[string]string),
					Distance: make(map[string]float64),
				}
				dst[rec.Station.ID] = agg
			}

			if _, seen := agg.Values[day.RefDate]; !seen {
				agg.Values[day.RefDate] = rec.Value
				agg.Offsets[day.RefDate] = rec.Offset
			}
			if _, seen := agg.Distance[place.Name]; !seen {
				agg.Distance[place.Name] = rec.Station.Distance
			}
		}
	}
}
