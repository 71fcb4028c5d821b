// Package config holds command line and environment configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
	_ "time/tzdata" // zone database for minimal containers

	"github.com/lox/rainwatch/internal/ingest"
	"github.com/lox/rainwatch/internal/models"
)

// Globals are the flags shared by every command. Each flag can also be set
// from the environment or a .env file.
type Globals struct {
	Store   string `help:"Artifact store backend." enum:"sqlite,files" default:"sqlite" env:"RAINWATCH_STORE"`
	DB      string `help:"Path to SQLite database." default:"data/rainwatch.db" env:"RAINWATCH_DB"`
	DataDir string `help:"Directory for the file store." default:"data" env:"RAINWATCH_DATA_DIR"`
	Places  string `help:"JSON file of places to seed into the store." env:"RAINWATCH_PLACES"`

	FrostClientID  string `help:"Frost API client id." env:"FROST_CLIENT_ID"`
	FrostURL       string `help:"Frost API base URL." default:"https://frost.met.no" env:"FROST_URL"`
	MetnoURL       string `help:"Classic locationforecast URL." default:"https://api.met.no/weatherapi/locationforecast/2.0/classic" env:"METNO_URL"`
	UserAgent      string `help:"User-Agent sent upstream." default:"rainwatch/1.0 github.com/lox/rainwatch" env:"RAINWATCH_USER_AGENT"`
	ForecastSource string `help:"Where forecasts are read from." enum:"http,ftp" default:"http" env:"RAINWATCH_FORECAST_SOURCE"`
	FTPHost        string `help:"FTP mirror host:port for --forecast-source=ftp." env:"RAINWATCH_FTP_HOST"`
	FTPDir         string `help:"FTP mirror directory holding <place>.xml files." default:"/forecast" env:"RAINWATCH_FTP_DIR"`

	Stations        int           `help:"Nearest stations resolved per place." default:"15"`
	ValidStations   int           `help:"Stations with data kept per place and day." default:"3"`
	PreferredOffset string        `help:"Preferred observation time offset." default:"PT6H"`
	Days            int           `help:"Days of observations to look back." default:"3"`
	Horizon         time.Duration `help:"How far ahead the forecast window reaches." default:"25h"`
	Timezone        string        `help:"Time zone for hour boundaries and reference dates." default:"Europe/Oslo" env:"RAINWATCH_TIMEZONE"`
	RegistryMaxAge  time.Duration `help:"Reuse the cached station registry for this long." default:"168h"`

	LogLevel         string `help:"Log level." enum:"debug,info,warn,error" default:"info" env:"RAINWATCH_LOG_LEVEL"`
	LogFormat        string `help:"Log format." enum:"text,json" default:"text" env:"RAINWATCH_LOG_FORMAT"`
	MetricsFile      string `help:"Write Prometheus metrics to this textfile after each cycle." env:"RAINWATCH_METRICS_FILE"`
	RawRetentionDays int    `help:"Days to keep raw upstream payloads." default:"30"`
}

// Location loads the configured time zone.
func (g *Globals) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", g.Timezone, err)
	}
	return loc, nil
}

// SchedulerOptions converts the flags into scheduler options.
func (g *Globals) SchedulerOptions() (ingest.Options, error) {
	loc, err := g.Location()
	if err != nil {
		return ingest.Options{}, err
	}
	if g.Stations < 1 {
		return ingest.Options{}, &models.ValidationError{Field: "stations", Value: g.Stations, Reason: "must be at least 1"}
	}
	if g.ValidStations < 1 {
		return ingest.Options{}, &models.ValidationError{Field: "valid-stations", Value: g.ValidStations, Reason: "must be at least 1"}
	}
	if g.Days < 1 {
		return ingest.Options{}, &models.ValidationError{Field: "days", Value: g.Days, Reason: "must be at least 1"}
	}

	opts := ingest.DefaultOptions()
	opts.Nearest = g.Stations
	opts.ValidLimit = g.ValidStations
	opts.PreferredOffset = g.PreferredOffset
	opts.RegistryMaxAge = g.RegistryMaxAge
	opts.Location = loc
	opts.LookbackDays = make([]int, g.Days)
	for i := range opts.LookbackDays {
		opts.LookbackDays[i] = i + 1
	}
	return opts, nil
}

// HorizonHours is the forecast horizon in whole hours, at least one.
func (g *Globals) HorizonHours() int {
	h := int(g.Horizon / time.Hour)
	if h < 1 {
		return 1
	}
	return h
}

type placeEntry struct {
	Name     string   `json:"name"`
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	Altitude float64  `json:"altitude"`
}

// LoadPlaces reads a JSON array of {"name", "lat", "lon", "altitude"}
// objects. Altitude is optional.
func LoadPlaces(path string) ([]models.Place, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []placeEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	places := make([]models.Place, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			return nil, &models.ValidationError{Field: "name", Value: i, Reason: "place without a name"}
		}
		if seen[e.Name] {
			return nil, &models.ValidationError{Field: "name", Value: e.Name, Reason: "duplicate place"}
		}
		if e.Lat == nil || e.Lon == nil {
			return nil, &models.ValidationError{Field: "position", Value: e.Name, Reason: "lat and lon are required"}
		}
		seen[e.Name] = true
		places = append(places, models.Place{
			Name:  e.Name,
			Point: models.GeoPoint{Lat: *e.Lat, Lon: *e.Lon, Elevation: e.Altitude},
		})
	}
	return places, nil
}
