package forecast

import (
	"fmt"
	"time"

	"github.com/lox/rainwatch/internal/models"
)

// PrecipitationSelection is extracted for the rain summary.
var PrecipitationSelection = models.Selection{
	models.CategoryPrecipitation: {"unit", "value", "minvalue", "maxvalue"},
	models.CategorySymbol:        {"number"},
}

// TemperatureSelection is extracted for display next to the rain summary.
var TemperatureSelection = models.Selection{
	models.CategoryTemperature: {"unit", "value"},
}

// Engine derives per-place forecast artifacts from raw forecast points.
type Engine struct {
	HorizonHours int
	Resolution   int
}

func NewEngine() *Engine {
	return &Engine{
		HorizonHours: DefaultHorizonHours,
		Resolution:   HourlyResolution,
	}
}

// Compute produces the rain summary and aligned series for a place, relative
// to zero. It returns models.ErrMissingForecastWindow when the forecast has no
// hourly precipitation covering zero.
func (e *Engine) Compute(place models.Place, points []models.ForecastPoint, zero time.Time) (models.PlaceForecast, error) {
	result := models.PlaceForecast{
		Name:     place.Name,
		Point:    place.Point,
		ZeroTime: zero,
	}

	precip, ok := BucketByResolution(points, models.CategoryPrecipitation)[e.Resolution]
	if !ok {
		return result, fmt.Errorf("%s: no %ds precipitation: %w", place.Name, e.Resolution, models.ErrMissingForecastWindow)
	}
	window := HourlyWindow(precip, zero, e.HorizonHours)
	start, ok := FindWindowStart(window, zero)
	if !ok {
		return result, fmt.Errorf("%s: no precipitation step brackets %s: %w", place.Name, zero.Format(time.RFC3339), models.ErrMissingForecastWindow)
	}

	result.Window = window
	result.Series = ExtractAligned(window, start, PrecipitationSelection)
	result.Summary = DeriveRainSummary(result.Series)

	if temps, ok := BucketByResolution(points, models.CategoryTemperature)[e.Resolution]; ok {
		tw := HourlyWindow(temps, zero, e.HorizonHours)
		if tstart, ok := FindWindowStart(tw, zero); ok {
			result.Temperature = ExtractAligned(tw, tstart, TemperatureSelection)
		}
	}

	return result, nil
}
