package forecast

import (
	"github.com/lox/rainwatch/internal/models"
)

// DeriveRainSummary summarises the precipitation values of an aligned
// series. An hour counts as rain only when its value is above zero.
func DeriveRainSummary(series models.TimeSeries) models.RainSummary {
	values := series.Floats(models.CategoryPrecipitation, "value")

	summary := models.RainSummary{RainHours: []int{}}
	for i, v := range values {
		summary.Amount += v
		if v > 0 {
			summary.RainHours = append(summary.RainHours, i)
		}
	}

	if len(summary.RainHours) == 0 {
		return summary
	}
	summary.WillItRain = true

	first := summary.RainHours[0]
	last := summary.RainHours[len(summary.RainHours)-1]
	if first < len(series.From) {
		starts := series.From[first]
		summary.Starts = &starts
	}
	if last < len(series.To) {
		stops := series.To[last]
		summary.Stops = &stops
	}
	return summary
}
