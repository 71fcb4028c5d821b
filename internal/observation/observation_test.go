package observation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/rainwatch/internal/models"
)

func TestSelectOffset(t *testing.T) {
	tests := []struct {
		name     string
		readings []models.Reading
		want     models.Reading
	}{
		{
			name:     "preferred first",
			readings: []models.Reading{{Offset: "PT6H", Value: 1.5}, {Offset: "PT18H", Value: 3}},
			want:     models.Reading{Offset: "PT6H", Value: 1.5},
		},
		{
			name:     "preferred last",
			readings: []models.Reading{{Offset: "PT18H", Value: 3}, {Offset: "PT0H", Value: 0}, {Offset: "PT6H", Value: 4.2}},
			want:     models.Reading{Offset: "PT6H", Value: 4.2},
		},
		{
			name:     "no preferred falls back to first inserted",
			readings: []models.Reading{{Offset: "PT18H", Value: 3}, {Offset: "PT0H", Value: 0}},
			want:     models.Reading{Offset: "PT18H", Value: 3},
		},
		{
			name:     "duplicate preferred keeps first occurrence",
			readings: []models.Reading{{Offset: "PT6H", Value: 1}, {Offset: "PT6H", Value: 2}},
			want:     models.Reading{Offset: "PT6H", Value: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectOffset(models.ObservationSeries{StationID: "SN1", Readings: tt.readings}, PreferredOffset)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectOffsetEmpty(t *testing.T) {
	_, err := SelectOffset(models.ObservationSeries{StationID: "SN1"}, PreferredOffset)
	assert.ErrorIs(t, err, models.ErrNoObservations)
}

func TestFilterValidClosest(t *testing.T) {
	candidates := stations("a", "b", "c", "d", "e")
	series := map[string]models.ObservationSeries{
		"b": {StationID: "b", Readings: []models.Reading{{Offset: "PT6H", Value: 1}}},
		"c": {StationID: "c"},
		"d": {StationID: "d", Readings: []models.Reading{{Offset: "PT6H", Value: 2}}},
		"e": {StationID: "e", Readings: []models.Reading{{Offset: "PT6H", Value: 3}}},
		"x": {StationID: "x", Readings: []models.Reading{{Offset: "PT6H", Value: 9}}},
	}

	assert.Equal(t, []string{"b", "d", "e"}, FilterValidClosest(series, candidates, 3))
	assert.Equal(t, []string{"b", "d"}, FilterValidClosest(series, candidates, 2))
	assert.Empty(t, FilterValidClosest(nil, candidates, 3))
	assert.Empty(t, FilterValidClosest(series, nil, 3))
}

func TestExtract(t *testing.T) {
	candidates := stations("a", "b", "c")
	candidates[1].Distance = 1200
	series := map[string]models.ObservationSeries{
		"b": {StationID: "b", Readings: []models.Reading{{Offset: "PT18H", Value: 0.4}, {Offset: "PT6H", Value: 1.1}}},
		"c": {StationID: "c", Readings: []models.Reading{{Offset: "PT18H", Value: 0.2}}},
	}

	records, errs := Extract(series, candidates, PreferredOffset, ValidLimit)
	assert.Empty(t, errs)

	want := []models.PrecipitationRecord{
		{Station: candidates[1], Offset: "PT6H", Value: 1.1},
		{Station: candidates[2], Offset: "PT18H", Value: 0.2},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func stations(ids ...string) []models.PlaceStation {
	out := make([]models.PlaceStation, len(ids))
	for i, id := range ids {
		out[i] = models.PlaceStation{Station: models.Station{ID: id, Name: "Station " + id}, Distance: float64(i * 1000)}
	}
	return out
}
