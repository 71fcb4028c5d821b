package models

import (
	"time"
)

// Category names the kind of a forecast attribute. It matches the element
// name used by the forecast feed.
type Category string

const (
	CategoryTemperature            Category = "temperature"
	CategoryMinTemperature         Category = "minTemperature"
	CategoryMaxTemperature         Category = "maxTemperature"
	CategoryDewpointTemperature    Category = "dewpointTemperature"
	CategoryPrecipitation          Category = "precipitation"
	CategoryWindDirection          Category = "windDirection"
	CategoryWindSpeed              Category = "windSpeed"
	CategoryWindGust               Category = "windGust"
	CategoryHumidity               Category = "humidity"
	CategoryPressure               Category = "pressure"
	CategoryCloudiness             Category = "cloudiness"
	CategoryFog                    Category = "fog"
	CategoryLowClouds              Category = "lowClouds"
	CategoryMediumClouds           Category = "mediumClouds"
	CategoryHighClouds             Category = "highClouds"
	CategoryTemperatureProbability Category = "temperatureProbability"
	CategoryWindProbability        Category = "windProbability"
	CategorySymbolProbability      Category = "symbolProbability"
	CategorySymbol                 Category = "symbol"
	CategoryTime                   Category = "time"
	CategoryModel                  Category = "model"
	CategoryLocation               Category = "location"
)

// IntervalSampled reports whether values of the category describe a span
// (from..to) rather than an instant.
func (c Category) IntervalSampled() bool {
	switch c {
	case CategoryPrecipitation, CategorySymbol, CategoryMinTemperature, CategoryMaxTemperature:
		return true
	}
	return false
}

// Attribute is one typed value attached to a forecast point. Numeric fields
// are returned as float64, textual fields as string.
type Attribute interface {
	Category() Category
	Field(name string) (any, bool)
}

// Temperature covers temperature, min/max and dewpoint elements.
type Temperature struct {
	Kind  Category
	ID    string
	Unit  string
	Value float64
}

func (a Temperature) Category() Category { return a.Kind }

func (a Temperature) Field(name string) (any, bool) {
	switch name {
	case "id":
		return a.ID, a.ID != ""
	case "unit":
		return a.Unit, a.Unit != ""
	case "value":
		return a.Value, true
	}
	return nil, false
}

type Precipitation struct {
	Unit        string
	Value       float64
	MinValue    *float64
	MaxValue    *float64
	Probability *float64
}

func (a Precipitation) Category() Category { return CategoryPrecipitation }

func (a Precipitation) Field(name string) (any, bool) {
	switch name {
	case "unit":
		return a.Unit, a.Unit != ""
	case "value":
		return a.Value, true
	case "minvalue":
		return deref(a.MinValue)
	case "maxvalue":
		return deref(a.MaxValue)
	case "probability":
		return deref(a.Probability)
	}
	return nil, false
}

type WindDirection struct {
	ID   string
	Deg  float64
	Name string
}

func (a WindDirection) Category() Category { return CategoryWindDirection }

func (a WindDirection) Field(name string) (any, bool) {
	switch name {
	case "id":
		return a.ID, a.ID != ""
	case "deg":
		return a.Deg, true
	case "name":
		return a.Name, a.Name != ""
	}
	return nil, false
}

// WindSpeed covers windSpeed and windGust.
type WindSpeed struct {
	Kind     Category
	ID       string
	MPS      float64
	Beaufort *float64
	Name     string
}

func (a WindSpeed) Category() Category { return a.Kind }

func (a WindSpeed) Field(name string) (any, bool) {
	switch name {
	case "id":
		return a.ID, a.ID != ""
	case "mps":
		return a.MPS, true
	case "beaufort":
		return deref(a.Beaufort)
	case "name":
		return a.Name, a.Name != ""
	}
	return nil, false
}

// Percent covers humidity, pressure, fog and the cloud cover elements. Cloud
// elements carry Percent, the rest carry Unit and Value.
type Percent struct {
	Kind    Category
	ID      string
	Unit    string
	Value   *float64
	Percent *float64
}

func (a Percent) Category() Category { return a.Kind }

func (a Percent) Field(name string) (any, bool) {
	switch name {
	case "id":
		return a.ID, a.ID != ""
	case "unit":
		return a.Unit, a.Unit != ""
	case "value":
		return deref(a.Value)
	case "percent":
		return deref(a.Percent)
	}
	return nil, false
}

type Probability struct {
	Kind  Category
	Unit  string
	Value float64
}

func (a Probability) Category() Category { return a.Kind }

func (a Probability) Field(name string) (any, bool) {
	switch name {
	case "unit":
		return a.Unit, a.Unit != ""
	case "value":
		return a.Value, true
	}
	return nil, false
}

type Symbol struct {
	ID     string
	Number float64
	Code   string
}

func (a Symbol) Category() Category { return CategorySymbol }

func (a Symbol) Field(name string) (any, bool) {
	switch name {
	case "id":
		return a.ID, a.ID != ""
	case "number":
		return a.Number, true
	case "code":
		return a.Code, a.Code != ""
	}
	return nil, false
}

type TimeSpan struct {
	From     time.Time
	To       time.Time
	DataType string
}

func (a TimeSpan) Category() Category { return CategoryTime }

func (a TimeSpan) Field(name string) (any, bool) {
	switch name {
	case "from":
		return a.From, !a.From.IsZero()
	case "to":
		return a.To, !a.To.IsZero()
	case "datatype":
		return a.DataType, a.DataType != ""
	}
	return nil, false
}

// Model describes the numerical model run behind a forecast.
type Model struct {
	Name    string
	Termin  time.Time
	RunEnd  time.Time
	NextRun time.Time
	From    time.Time
	To      time.Time
}

func (a Model) Category() Category { return CategoryModel }

func (a Model) Field(name string) (any, bool) {
	switch name {
	case "name":
		return a.Name, a.Name != ""
	case "termin":
		return a.Termin, !a.Termin.IsZero()
	case "runended":
		return a.RunEnd, !a.RunEnd.IsZero()
	case "nextrun":
		return a.NextRun, !a.NextRun.IsZero()
	case "from":
		return a.From, !a.From.IsZero()
	case "to":
		return a.To, !a.To.IsZero()
	}
	return nil, false
}

type Location struct {
	Name     string
	Altitude float64
	Lat      float64
	Lon      float64
}

func (a Location) Category() Category { return CategoryLocation }

func (a Location) Field(name string) (any, bool) {
	switch name {
	case "name":
		return a.Name, a.Name != ""
	case "altitude":
		return a.Altitude, true
	case "latitude":
		return a.Lat, true
	case "longitude":
		return a.Lon, true
	}
	return nil, false
}

// Opaque keeps the raw attributes of an element the decoder does not know.
type Opaque struct {
	Tag   string
	Attrs map[string]string
}

func (a Opaque) Category() Category { return Category(a.Tag) }

func (a Opaque) Field(name string) (any, bool) {
	v, ok := a.Attrs[name]
	return v, ok
}

func deref(f *float64) (any, bool) {
	if f == nil {
		return nil, false
	}
	return *f, true
}

// ForecastPoint is one forecast time step. Attrs is sparse: a point carries
// only the categories the feed provided for it.
type ForecastPoint struct {
	From  time.Time
	To    time.Time
	Attrs map[Category]Attribute
}

// Has reports whether the point carries the category.
func (p ForecastPoint) Has(c Category) bool {
	_, ok := p.Attrs[c]
	return ok
}

// ForecastBuckets groups points by temporal resolution in seconds.
type ForecastBuckets map[int][]ForecastPoint

type HourlyWindow []ForecastPoint

// Selection picks the fields to extract per category.
type Selection map[Category][]string

// TimeSeries is a set of forecast values aligned to a start time. Values
// is sparse: a field slice only grows for points that carried the field.
type TimeSeries struct {
	Start           time.Time                     `json:"start"`
	From            []time.Time                   `json:"from"`
	To              []time.Time                   `json:"to"`
	RelativeSeconds []float64                     `json:"relative_seconds"`
	Values          map[Category]map[string][]any `json:"values"`
}

// Floats returns the numeric values recorded for a category field.
// Non-numeric entries are skipped.
func (ts TimeSeries) Floats(c Category, field string) []float64 {
	raw := ts.Values[c][field]
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(float64); ok {
			out = append(out, f)
		}
	}
	return out
}

// Len is the length of the time axis.
func (ts TimeSeries) Len() int { return len(ts.From) }
