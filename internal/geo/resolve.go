package geo

import (
	"fmt"
	"slices"

	"github.com/lox/rainwatch/internal/models"
)

// DefaultNearest is how many stations are kept per place.
const DefaultNearest = 15

type indexed struct {
	station models.Station
	pos     Vec3
}

// Index is a station registry with ECEF positions computed once.
type Index struct {
	entries []indexed
	skipped []error
}

// NewIndex projects every station in the registry. Stations with invalid
// coordinates are left out and reported by Skipped.
func NewIndex(stations []models.Station) *Index {
	idx := &Index{entries: make([]indexed, 0, len(stations))}
	for _, st := range stations {
		pos, err := ToECEF(st.Point)
		if err != nil {
			idx.skipped = append(idx.skipped, fmt.Errorf("station %s: %w", st.ID, err))
			continue
		}
		idx.entries = append(idx.entries, indexed{station: st, pos: pos})
	}
	return idx
}

// Len is the number of usable stations.
func (idx *Index) Len() int { return len(idx.entries) }

// Skipped returns the validation errors of stations left out of the index.
func (idx *Index) Skipped() []error { return idx.skipped }

// Nearest returns up to k stations ordered by ascending distance from p.
// Equal distances keep registry order.
func (idx *Index) Nearest(p models.GeoPoint, k int) ([]models.PlaceStation, error) {
	if len(idx.entries) == 0 {
		return nil, models.ErrEmptyRegistry
	}
	if k < 1 {
		return nil, &models.ValidationError{Field: "k", Value: k, Reason: "must be at least 1"}
	}
	origin, err := ToECEF(p)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.PlaceStation, len(idx.entries))
	for i, e := range idx.entries {
		candidates[i] = models.PlaceStation{Station: e.station, Distance: origin.Distance(e.pos)}
	}
	slices.SortStableFunc(candidates, func(a, b models.PlaceStation) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// Resolve returns the k stations nearest to place.
func Resolve(place models.GeoPoint, stations []models.Station, k int) ([]models.PlaceStation, error) {
	if len(stations) == 0 {
		return nil, models.ErrEmptyRegistry
	}
	return NewIndex(stations).Nearest(place, k)
}

// ResolvePlaces assigns the nearest stations to each place. A place that fails
// keeps its previous stations and its error is returned keyed by name.
func ResolvePlaces(places []models.Place, idx *Index, k int) ([]models.Place, map[string]error) {
	out := make([]models.Place, len(places))
	failed := make(map[string]error)
	for i, p := range places {
		out[i] = p
		stations, err := idx.Nearest(p.Point, k)
		if err != nil {
			failed[p.Name] = err
			continue
		}
		out[i].Stations = stations
	}
	return out, failed
}
