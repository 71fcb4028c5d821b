package forecast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/rainwatch/internal/models"
)

func hourlyFeed(hours int) []models.ForecastPoint {
	var points []models.ForecastPoint
	for h := 0; h < hours; h++ {
		points = append(points, tempPoint(float64(h), float64(10+h%5)))
		v := 0.0
		if h == 3 || h == 4 {
			v = 1.5
		}
		points = append(points, precipPoint(float64(h), float64(h+1), v))
		if h%6 == 0 {
			points = append(points, precipPoint(float64(h), float64(h+6), 9))
		}
	}
	return points
}

func TestEngineCompute(t *testing.T) {
	place := models.Place{Name: "Oslo", Point: models.GeoPoint{Lon: 10.75, Lat: 59.91}}
	zero := at(1.5)

	got, err := NewEngine().Compute(place, hourlyFeed(40), zero)
	require.NoError(t, err)

	assert.Equal(t, "Oslo", got.Name)
	assert.Equal(t, zero, got.ZeroTime)
	assert.Equal(t, at(1), got.Series.Start)
	// 01:00 through zero+25h
	assert.Equal(t, 26, got.Series.Len())
	assert.Equal(t, at(0), got.Window[0].From)

	assert.True(t, got.Summary.WillItRain)
	assert.Equal(t, []int{2, 3}, got.Summary.RainHours)
	assert.InDelta(t, 3.0, got.Summary.Amount, 1e-9)
	assert.Equal(t, at(3), *got.Summary.Starts)
	assert.Equal(t, at(5), *got.Summary.Stops)

	assert.Len(t, got.Series.Floats(models.CategorySymbol, "number"), 26)
	assert.Equal(t, 26, got.Temperature.Len())
}

func TestEngineComputeMissingWindow(t *testing.T) {
	place := models.Place{Name: "Oslo"}

	t.Run("no hourly precipitation", func(t *testing.T) {
		points := []models.ForecastPoint{precipPoint(0, 6, 1), precipPoint(6, 12, 1)}
		_, err := NewEngine().Compute(place, points, at(1))
		assert.ErrorIs(t, err, models.ErrMissingForecastWindow)
	})

	t.Run("zero before first step", func(t *testing.T) {
		_, err := NewEngine().Compute(place, hourlyFeed(10), at(-2))
		assert.ErrorIs(t, err, models.ErrMissingForecastWindow)
	})

	t.Run("empty feed", func(t *testing.T) {
		_, err := NewEngine().Compute(place, nil, at(0))
		assert.ErrorIs(t, err, models.ErrMissingForecastWindow)
	})
}
