package forecast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/rainwatch/internal/models"
)

func seriesOf(values ...float64) models.TimeSeries {
	var points []models.ForecastPoint
	for i, v := range values {
		points = append(points, precipPoint(float64(i), float64(i+1), v))
	}
	return ExtractAligned(points, at(0), PrecipitationSelection)
}

func TestDeriveRainSummary(t *testing.T) {
	got := DeriveRainSummary(seriesOf(0, 0, 2.5, 1.0, 0))

	assert.True(t, got.WillItRain)
	assert.Equal(t, []int{2, 3}, got.RainHours)
	assert.InDelta(t, 3.5, got.Amount, 1e-9)
	require.NotNil(t, got.Starts)
	require.NotNil(t, got.Stops)
	assert.Equal(t, at(2), *got.Starts)
	assert.Equal(t, at(4), *got.Stops)
}

func TestDeriveRainSummaryDry(t *testing.T) {
	got := DeriveRainSummary(seriesOf(0, 0, 0))

	assert.False(t, got.WillItRain)
	assert.Empty(t, got.RainHours)
	assert.Zero(t, got.Amount)
	assert.Nil(t, got.Starts)
	assert.Nil(t, got.Stops)
}

func TestDeriveRainSummaryAmountCoversWholeWindow(t *testing.T) {
	got := DeriveRainSummary(seriesOf(0.3, 0, 0, 1.2))

	assert.Equal(t, []int{0, 3}, got.RainHours)
	assert.InDelta(t, 1.5, got.Amount, 1e-9)
	assert.Equal(t, at(0), *got.Starts)
	assert.Equal(t, at(4), *got.Stops)
}

func TestDeriveRainSummaryEmptySeries(t *testing.T) {
	got := DeriveRainSummary(models.TimeSeries{})
	assert.False(t, got.WillItRain)
	assert.Nil(t, got.Starts)
}
