package forecast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/rainwatch/internal/models"
)

var base = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

func at(h float64) time.Time {
	return base.Add(time.Duration(h * float64(time.Hour)))
}

func precipPoint(fromH, toH, value float64) models.ForecastPoint {
	return models.ForecastPoint{
		From: at(fromH),
		To:   at(toH),
		Attrs: map[models.Category]models.Attribute{
			models.CategoryPrecipitation: models.Precipitation{Unit: "mm", Value: value},
			models.CategorySymbol:        models.Symbol{ID: "Cloud", Number: 4},
		},
	}
}

func tempPoint(h, value float64) models.ForecastPoint {
	return models.ForecastPoint{
		From: at(h),
		To:   at(h),
		Attrs: map[models.Category]models.Attribute{
			models.CategoryTemperature: models.Temperature{Kind: models.CategoryTemperature, Unit: "celsius", Value: value},
		},
	}
}

func froms(points []models.ForecastPoint) []time.Time {
	out := make([]time.Time, len(points))
	for i, p := range points {
		out[i] = p.From
	}
	return out
}

func TestBucketByResolutionInterval(t *testing.T) {
	p1 := precipPoint(0, 1, 0)
	p2 := precipPoint(1, 2, 0)
	p3 := precipPoint(2, 5, 0)

	got := BucketByResolution([]models.ForecastPoint{p1, tempPoint(1, 5), p2, p3}, models.CategoryPrecipitation)

	require.Len(t, got, 2)
	assert.Equal(t, froms([]models.ForecastPoint{p1, p2}), froms(got[3600]))
	assert.Equal(t, froms([]models.ForecastPoint{p3}), froms(got[10800]))
}

func TestBucketByResolutionPointSampled(t *testing.T) {
	tests := []struct {
		name   string
		hours  []float64
		expect map[int][]time.Time
	}{
		{
			name:  "regular then sparse",
			hours: []float64{0, 1, 2, 5},
			expect: map[int][]time.Time{
				3600:  {at(0), at(1), at(2)},
				10800: {at(5)},
			},
		},
		{
			name:  "first point joins second point's bucket",
			hours: []float64{0, 3, 4},
			expect: map[int][]time.Time{
				10800: {at(0), at(3)},
				3600:  {at(4)},
			},
		},
		{
			name:   "single point is not bucketed",
			hours:  []float64{0},
			expect: map[int][]time.Time{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var points []models.ForecastPoint
			for _, h := range tt.hours {
				points = append(points, tempPoint(h, 10))
				points = append(points, precipPoint(h, h+6, 1))
			}
			got := BucketByResolution(points, models.CategoryTemperature)

			gotFroms := make(map[int][]time.Time, len(got))
			for res, pts := range got {
				gotFroms[res] = froms(pts)
			}
			assert.Equal(t, tt.expect, gotFroms)
		})
	}
}

func TestBucketByResolutionMissingCategory(t *testing.T) {
	got := BucketByResolution([]models.ForecastPoint{tempPoint(0, 1), tempPoint(1, 2)}, models.CategoryPrecipitation)
	assert.Empty(t, got)
}

func TestHourlyWindow(t *testing.T) {
	var bucket []models.ForecastPoint
	for h := 0; h < 30; h++ {
		bucket = append(bucket, precipPoint(float64(h), float64(h+1), 0))
	}
	zero := at(1.5)

	got := HourlyWindow(bucket, zero, 25)
	require.NotEmpty(t, got)
	assert.Equal(t, at(0), got[0].From, "points before zero are kept")
	assert.Equal(t, at(26), got[len(got)-1].From)

	exact := HourlyWindow(bucket, at(1), 25)
	assert.Equal(t, at(26), exact[len(exact)-1].From, "horizon boundary is inclusive")
}

func TestFindWindowStart(t *testing.T) {
	points := []models.ForecastPoint{precipPoint(0, 1, 0), precipPoint(1, 2, 0), precipPoint(2, 3, 0)}

	tests := []struct {
		name   string
		zero   time.Time
		want   time.Time
		wantOK bool
	}{
		{"between second and third", at(1.5), at(1), true},
		{"exactly on first", at(0), at(0), true},
		{"exactly on second picks earlier pair", at(1), at(0), true},
		{"exactly on last", at(2), at(1), true},
		{"before all", at(-1), time.Time{}, false},
		{"after all", at(3), time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindWindowStart(points, tt.zero)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := FindWindowStart(points[:1], at(0))
	assert.False(t, ok)
}

func TestExtractAligned(t *testing.T) {
	points := []models.ForecastPoint{
		precipPoint(0, 1, 0.1),
		precipPoint(1, 2, 0.2),
		tempPoint(2, 12),
		precipPoint(3, 4, 0.4),
	}

	ts := ExtractAligned(points, at(1), models.Selection{
		models.CategoryPrecipitation: {"value", "maxvalue"},
		models.CategoryTemperature:   {"value"},
	})

	assert.Equal(t, at(1), ts.Start)
	assert.Equal(t, []time.Time{at(1), at(2), at(3)}, ts.From)
	assert.Equal(t, []float64{0, 3600, 7200}, ts.RelativeSeconds)
	assert.Equal(t, []any{0.2, 0.4}, ts.Values[models.CategoryPrecipitation]["value"])
	assert.NotContains(t, ts.Values[models.CategoryPrecipitation], "maxvalue")
	assert.Equal(t, []float64{12}, ts.Floats(models.CategoryTemperature, "value"))
	assert.Equal(t, 3, ts.Len())
}
