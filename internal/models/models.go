package models

import (
	"time"
)

// GeoPoint is a geodetic position. Elevation is metres above mean sea level.
type GeoPoint struct {
	Lon       float64 `json:"lon"`
	Lat       float64 `json:"lat"`
	Elevation float64 `json:"elevation"`
}

// Station is an entry in the sensor registry.
type Station struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Point GeoPoint `json:"point"`
}

// PlaceStation is a station as seen from one place, with the Earth-fixed
// distance to that place in metres.
type PlaceStation struct {
	Station
	Distance float64 `json:"distance"`
}

// Place is a named location of interest. Stations is ordered nearest first.
type Place struct {
	Name     string         `json:"name"`
	Point    GeoPoint       `json:"point"`
	Stations []PlaceStation `json:"stations,omitempty"`
}

// StationIDs returns the ids of the resolved stations in distance order.
func (p Place) StationIDs() []string {
	ids := make([]string, len(p.Stations))
	for i, st := range p.Stations {
		ids[i] = st.ID
	}
	return ids
}

// Reading is one offset-labelled value, e.g. {"PT6H", 2.4}.
type Reading struct {
	Offset string  `json:"offset"`
	Value  float64 `json:"value"`
}

// ObservationSeries holds a station's readings for one reference date in the
// order the upstream returned them.
type ObservationSeries struct {
	StationID string    `json:"station_id"`
	RefDate   string    `json:"ref_date"`
	Readings  []Reading `json:"readings"`
}

// PrecipitationRecord is the reading chosen for a station on a given day.
type PrecipitationRecord struct {
	Station PlaceStation `json:"station"`
	Offset  string       `json:"offset"`
	Value   float64      `json:"value"`
}

type DayObservations struct {
	RefDate string                `json:"ref_date"`
	Records []PrecipitationRecord `json:"records"`
}

type PlaceObservations struct {
	Name string            `json:"name"`
	Days []DayObservations `json:"days"`
}

// StationAggregate collects everything known about one station across places
// and dates. Values and Offsets are keyed by reference date, Distance by
// place name.
type StationAggregate struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Point    GeoPoint           `json:"point"`
	Values   map[string]float64 `json:"values"`
	Offsets  map[string]string  `json:"offsets"`
	Distance map[string]float64 `json:"distance"`
}

// RefreshState records the last successful refresh. The zero value means
// the system has never refreshed.
type RefreshState struct {
	LastSuccess time.Time `json:"last_success"`
	Valid       bool      `json:"valid"`
}

type RainSummary struct {
	WillItRain bool       `json:"will_it_rain"`
	RainHours  []int      `json:"rain_hours"`
	Amount     float64    `json:"amount"`
	Starts     *time.Time `json:"starts,omitempty"`
	Stops      *time.Time `json:"stops,omitempty"`
}

// PlaceForecast is the derived forecast artifact for one place.
type PlaceForecast struct {
	Name        string       `json:"name"`
	Point       GeoPoint     `json:"point"`
	ZeroTime    time.Time    `json:"zero_time"`
	Summary     RainSummary  `json:"summary"`
	Series      TimeSeries   `json:"series"`
	Temperature TimeSeries   `json:"temperature"`
	Window      HourlyWindow `json:"-"`
}

// IngestRun records one upstream call for auditing.
type IngestRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        time.Time
	Source            string // "frost", "metno"
	Endpoint          string
	Key               string // place name, place/date, or empty for registry calls
	ResponseSizeBytes int
	RecordsParsed     int
	Success           bool
	ErrorMessage      string
}
