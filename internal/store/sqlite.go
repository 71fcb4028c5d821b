package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/rainwatch/internal/models"
)

const (
	stateLastRefresh = "last_refresh"
	stateRegistryAt  = "registry_fetched_at"
)

type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "store"), now: time.Now}
}

// Open opens a SQLite database at path with the pragmas the store expects.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func (s *Store) getState(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func setState(exec interface {
	Exec(string, ...any) (sql.Result, error)
}, key, value string, at time.Time) error {
	_, err := exec.Exec(`
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatTime(at))
	return err
}

func (s *Store) LoadRefreshState() (models.RefreshState, error) {
	value, ok, err := s.getState(stateLastRefresh)
	if err != nil || !ok {
		return models.RefreshState{}, err
	}
	t, err := parseTime(value)
	if err != nil {
		return models.RefreshState{}, fmt.Errorf("parse last refresh %q: %w", value, err)
	}
	return models.RefreshState{LastSuccess: t, Valid: true}, nil
}

func (s *Store) SaveRefreshState(st models.RefreshState) error {
	if !st.Valid {
		_, err := s.db.Exec(`DELETE FROM state WHERE key = ?`, stateLastRefresh)
		return err
	}
	return setState(s.db, stateLastRefresh, formatTime(st.LastSuccess), s.now())
}

// HasArtifacts reports whether a previous cycle left forecast summaries
// behind.
func (s *Store) HasArtifacts() (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM place_forecasts`).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetPlaces returns places in registry order with their resolved stations.
func (s *Store) GetPlaces() ([]models.Place, error) {
	rows, err := s.db.Query(`SELECT name, longitude, latitude, elevation FROM places ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var places []models.Place
	for rows.Next() {
		var p models.Place
		if err := rows.Scan(&p.Name, &p.Point.Lon, &p.Point.Lat, &p.Point.Elevation); err != nil {
			return nil, err
		}
		places = append(places, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range places {
		stations, err := s.placeStations(places[i].Name)
		if err != nil {
			return nil, fmt.Errorf("stations for %s: %w", places[i].Name, err)
		}
		places[i].Stations = stations
	}
	return places, nil
}

func (s *Store) placeStations(place string) ([]models.PlaceStation, error) {
	rows, err := s.db.Query(`
		SELECT station_id, name, longitude, latitude, elevation, distance
		FROM place_stations WHERE place_name = ? ORDER BY rank
	`, place)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PlaceStation
	for rows.Next() {
		var st models.PlaceStation
		if err := rows.Scan(&st.ID, &st.Name, &st.Point.Lon, &st.Point.Lat, &st.Point.Elevation, &st.Distance); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SavePlaces replaces the place registry.
func (s *Store) SavePlaces(places []models.Place) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM place_stations`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM places`); err != nil {
		return err
	}
	for i, p := range places {
		if _, err := tx.Exec(`
			INSERT INTO places (name, position, longitude, latitude, elevation) VALUES (?, ?, ?, ?, ?)
		`, p.Name, i, p.Point.Lon, p.Point.Lat, p.Point.Elevation); err != nil {
			return fmt.Errorf("insert place %s: %w", p.Name, err)
		}
		for rank, st := range p.Stations {
			if _, err := tx.Exec(`
				INSERT INTO place_stations (place_name, rank, station_id, name, longitude, latitude, elevation, distance)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, p.Name, rank, st.ID, st.Name, st.Point.Lon, st.Point.Lat, st.Point.Elevation, st.Distance); err != nil {
				return fmt.Errorf("insert station %s for %s: %w", st.ID, p.Name, err)
			}
		}
	}
	return tx.Commit()
}

// GetStationRegistry returns the cached registry if it was stored less than
// maxAge ago. A maxAge of 0 accepts any age.
func (s *Store) GetStationRegistry(maxAge time.Duration) ([]models.Station, bool, error) {
	value, ok, err := s.getState(stateRegistryAt)
	if err != nil || !ok {
		return nil, false, err
	}
	fetchedAt, err := parseTime(value)
	if err != nil {
		return nil, false, fmt.Errorf("parse registry time %q: %w", value, err)
	}
	if maxAge > 0 && s.now().Sub(fetchedAt) > maxAge {
		return nil, false, nil
	}

	rows, err := s.db.Query(`SELECT station_id, name, longitude, latitude, elevation FROM registry_stations ORDER BY position`)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var st models.Station
		if err := rows.Scan(&st.ID, &st.Name, &st.Point.Lon, &st.Point.Lat, &st.Point.Elevation); err != nil {
			return nil, false, err
		}
		stations = append(stations, st)
	}
	return stations, true, rows.Err()
}

// SaveStationRegistry replaces the cached registry, keeping its order.
func (s *Store) SaveStationRegistry(stations []models.Station) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM registry_stations`); err != nil {
		return err
	}
	for i, st := range stations {
		if _, err := tx.Exec(`
			INSERT INTO registry_stations (station_id, position, name, longitude, latitude, elevation)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(station_id) DO NOTHING
		`, st.ID, i, st.Name, st.Point.Lon, st.Point.Lat, st.Point.Elevation); err != nil {
			return fmt.Errorf("insert station %s: %w", st.ID, err)
		}
	}
	now := s.now()
	if err := setState(tx, stateRegistryAt, formatTime(now), now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetObservationCache(place, refDate string) (map[string]models.ObservationSeries, bool, error) {
	var raw string
	err := s.db.QueryRow(`
		SELECT series_json FROM observation_cache WHERE place_name = ? AND ref_date = ?
	`, place, refDate).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var series map[string]models.ObservationSeries
	if err := json.Unmarshal([]byte(raw), &series); err != nil {
		return nil, false, fmt.Errorf("decode cached observations: %w", err)
	}
	return series, true, nil
}

func (s *Store) SaveObservationCache(place, refDate string, series map[string]models.ObservationSeries) error {
	b, err := json.Marshal(series)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO observation_cache (place_name, ref_date, series_json, fetched_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(place_name, ref_date) DO UPDATE SET series_json = excluded.series_json, fetched_at = excluded.fetched_at
	`, place, refDate, string(b), formatTime(s.now()))
	return err
}

func (s *Store) SavePlaceForecast(pf models.PlaceForecast) error {
	b, err := json.Marshal(pf)
	if err != nil {
		return err
	}
	var starts, stops sql.NullString
	if pf.Summary.Starts != nil {
		starts = sql.NullString{String: formatTime(*pf.Summary.Starts), Valid: true}
	}
	if pf.Summary.Stops != nil {
		stops = sql.NullString{String: formatTime(*pf.Summary.Stops), Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO place_forecasts (place_name, zero_time, will_it_rain, amount, starts, stops, forecast_json, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(place_name) DO UPDATE SET
			zero_time = excluded.zero_time,
			will_it_rain = excluded.will_it_rain,
			amount = excluded.amount,
			starts = excluded.starts,
			stops = excluded.stops,
			forecast_json = excluded.forecast_json,
			computed_at = excluded.computed_at
	`, pf.Name, formatTime(pf.ZeroTime), pf.Summary.WillItRain, pf.Summary.Amount, starts, stops, string(b), formatTime(s.now()))
	return err
}

// GetPlaceForecasts returns stored summaries in place registry order. Places
// no longer in the registry come last, by name.
func (s *Store) GetPlaceForecasts() ([]models.PlaceForecast, error) {
	rows, err := s.db.Query(`
		SELECT f.forecast_json FROM place_forecasts f
		LEFT JOIN places p ON p.name = f.place_name
		ORDER BY p.position IS NULL, p.position, f.place_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PlaceForecast
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var pf models.PlaceForecast
		if err := json.Unmarshal([]byte(raw), &pf); err != nil {
			return nil, fmt.Errorf("decode place forecast: %w", err)
		}
		out = append(out, pf)
	}
	return out, rows.Err()
}

// SaveStationAggregates replaces the stored aggregates. Rows are inserted
// with first-write-wins semantics, matching aggregate.Merge.
func (s *Store) SaveStationAggregates(aggs map[string]*models.StationAggregate) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"aggregate_values", "aggregate_distances", "aggregate_stations"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return err
		}
	}

	for id, agg := range aggs {
		if _, err := tx.Exec(`
			INSERT INTO aggregate_stations (station_id, name, longitude, latitude, elevation) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(station_id) DO NOTHING
		`, id, agg.Name, agg.Point.Lon, agg.Point.Lat, agg.Point.Elevation); err != nil {
			return fmt.Errorf("insert aggregate %s: %w", id, err)
		}
		for date, value := range agg.Values {
			if _, err := tx.Exec(`
				INSERT INTO aggregate_values (station_id, ref_date, value, time_offset) VALUES (?, ?, ?, ?)
				ON CONFLICT(station_id, ref_date) DO NOTHING
			`, id, date, value, agg.Offsets[date]); err != nil {
				return fmt.Errorf("insert value %s/%s: %w", id, date, err)
			}
		}
		for place, d := range agg.Distance {
			if _, err := tx.Exec(`
				INSERT INTO aggregate_distances (station_id, place_name, distance) VALUES (?, ?, ?)
				ON CONFLICT(station_id, place_name) DO NOTHING
			`, id, place, d); err != nil {
				return fmt.Errorf("insert distance %s/%s: %w", id, place, err)
			}
		}
	}
	return tx.Commit()
}

func (s *Store) GetStationAggregates() (map[string]*models.StationAggregate, error) {
	out := make(map[string]*models.StationAggregate)

	rows, err := s.db.Query(`SELECT station_id, name, longitude, latitude, elevation FROM aggregate_stations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		agg := &models.StationAggregate{
			Values:   make(map[string]float64),
			Offsets:  make(map[string]string),
			Distance: make(map[string]float64),
		}
		if err := rows.Scan(&agg.ID, &agg.Name, &agg.Point.Lon, &agg.Point.Lat, &agg.Point.Elevation); err != nil {
			return nil, err
		}
		out[agg.ID] = agg
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := s.db.Query(`SELECT station_id, ref_date, value, time_offset FROM aggregate_values`)
	if err != nil {
		return nil, err
	}
	defer vrows.Close()
	for vrows.Next() {
		var id, date, offset string
		var value float64
		if err := vrows.Scan(&id, &date, &value, &offset); err != nil {
			return nil, err
		}
		if agg, ok := out[id]; ok {
			agg.Values[date] = value
			agg.Offsets[date] = offset
		}
	}
	if err := vrows.Err(); err != nil {
		return nil, err
	}

	drows, err := s.db.Query(`SELECT station_id, place_name, distance FROM aggregate_distances`)
	if err != nil {
		return nil, err
	}
	defer drows.Close()
	for drows.Next() {
		var id, place string
		var d float64
		if err := drows.Scan(&id, &place, &d); err != nil {
			return nil, err
		}
		if agg, ok := out[id]; ok {
			agg.Distance[place] = d
		}
	}
	return out, drows.Err()
}
