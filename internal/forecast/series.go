package forecast

import (
	"time"

	"github.com/lox/rainwatch/internal/models"
)

const (
	// HourlyResolution is the bucket key for one-hour time steps.
	HourlyResolution = 3600

	// DefaultHorizonHours is how far ahead of the reference time the hourly
	// window reaches.
	DefaultHorizonHours = 25
)

// BucketByResolution groups the points carrying category by their temporal
// resolution in seconds.
//
// Interval-sampled categories use the span of each point. Point-sampled
// categories use the gap to the previous carrying point; the first point has
// no predecessor and goes into the bucket of the second. A lone point-sampled
// point is not bucketed.
func BucketByResolution(points []models.ForecastPoint, category models.Category) models.ForecastBuckets {
	buckets := make(models.ForecastBuckets)

	var carrying []models.ForecastPoint
	for _, p := range points {
		if p.Has(category) {
			carrying = append(carrying, p)
		}
	}

	if category.IntervalSampled() {
		for _, p := range carrying {
			res := seconds(p.To.Sub(p.From))
			buckets[res] = append(buckets[res], p)
		}
		return buckets
	}

	for i := 1; i < len(carrying); i++ {
		res := seconds(carrying[i].From.Sub(carrying[i-1].From))
		if i == 1 {
			buckets[res] = append(buckets[res], carrying[0])
		}
		buckets[res] = append(buckets[res], carrying[i])
	}
	return buckets
}

// HourlyWindow keeps the points starting no later than horizonHours after
// zero. Points before zero are kept.
func HourlyWindow(bucket []models.ForecastPoint, zero time.Time, horizonHours int) models.HourlyWindow {
	horizon := time.Duration(horizonHours) * time.Hour
	var window models.HourlyWindow
	for _, p := range bucket {
		if p.From.Sub(zero) <= horizon {
			window = append(window, p)
		}
	}
	return window
}

// FindWindowStart returns the From of the first point whose successor
// brackets zero, i.e. prev.From <= zero <= next.From.
func FindWindowStart(points []models.ForecastPoint, zero time.Time) (time.Time, bool) {
	for i := 1; i < len(points); i++ {
		prev, curr := points[i-1].From, points[i].From
		if !prev.After(zero) && !zero.After(curr) {
			return prev, true
		}
	}
	return time.Time{}, false
}

// ExtractAligned builds a time series of the selected fields for points at
// or after start. Fields a point does not carry are skipped.
func ExtractAligned(points []models.ForecastPoint, start time.Time, sel models.Selection) models.TimeSeries {
	ts := models.TimeSeries{
		Start:  start,
		Values: make(map[models.Category]map[string][]any, len(sel)),
	}

	for _, p := range points {
		if p.From.Before(start) {
			continue
		}
		ts.From = append(ts.From, p.From)
		ts.To = append(ts.To, p.To)
		ts.RelativeSeconds = append(ts.RelativeSeconds, p.From.Sub(start).Seconds())

		for cat, fields := range sel {
			attr, ok := p.Attrs[cat]
			if !ok {
				continue
			}
			for _, f := range fields {
				v, ok := attr.Field(f)
				if !ok {
					continue
				}
				if ts.Values[cat] == nil {
					ts.Values[cat] = make(map[string][]any)
				}
				ts.Values[cat][f] = append(ts.Values[cat][f], v)
			}
		}
	}
	return ts
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}
