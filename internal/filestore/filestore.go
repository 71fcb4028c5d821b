// Package filestore keeps cycle state and artifacts as JSON files in a
// directory tree, for deployments without a database.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lox/rainwatch/internal/models"
)

const (
	lastUpdateFile = "last_update.txt"
	placesFile     = "places.json"
	registryFile   = "observations/sources-frost.json"
	aggregateFile  = "observations/stations-observations.json"
	observationDir = "observations/days"
	forecastDir    = "forecasts"
)

// Store is a directory-backed store. The station registry's age is taken
// from its file modification time.
type Store struct {
	dir string
	now func() time.Time
}

func New(dir string) (*Store, error) {
	for _, sub := range []string{observationDir, forecastDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

func escape(name string) string {
	return url.PathEscape(name)
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) writeJSON(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(s.path(name), b)
}

// readJSON decodes name into v. Missing files report false.
func (s *Store) readJSON(name string, v any) (bool, error) {
	b, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) LoadRefreshState() (models.RefreshState, error) {
	b, err := os.ReadFile(s.path(lastUpdateFile))
	if errors.Is(err, os.ErrNotExist) {
		return models.RefreshState{}, nil
	}
	if err != nil {
		return models.RefreshState{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(b)))
	if err != nil {
		return models.RefreshState{}, fmt.Errorf("parse %s: %w", lastUpdateFile, err)
	}
	return models.RefreshState{LastSuccess: t, Valid: true}, nil
}

func (s *Store) SaveRefreshState(st models.RefreshState) error {
	if !st.Valid {
		err := os.Remove(s.path(lastUpdateFile))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return writeFile(s.path(lastUpdateFile), []byte(st.LastSuccess.Format(time.RFC3339Nano)))
}

func (s *Store) HasArtifacts() (bool, error) {
	entries, err := os.ReadDir(s.path(forecastDir))
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetPlaces() ([]models.Place, error) {
	var places []models.Place
	if _, err := s.readJSON(placesFile, &places); err != nil {
		return nil, err
	}
	return places, nil
}

func (s *Store) SavePlaces(places []models.Place) error {
	return s.writeJSON(placesFile, places)
}

// GetStationRegistry returns the cached registry when the file is younger
// than maxAge. A maxAge of 0 accepts any age.
func (s *Store) GetStationRegistry(maxAge time.Duration) ([]models.Station, bool, error) {
	info, err := os.Stat(s.path(registryFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if maxAge > 0 && s.now().Sub(info.ModTime()) > maxAge {
		return nil, false, nil
	}

	var stations []models.Station
	ok, err := s.readJSON(registryFile, &stations)
	return stations, ok, err
}

func (s *Store) SaveStationRegistry(stations []models.Station) error {
	return s.writeJSON(registryFile, stations)
}

func observationName(place, refDate string) string {
	return observationDir + "/" + escape(place) + "-" + refDate + ".json"
}

func (s *Store) GetObservationCache(place, refDate string) (map[string]models.ObservationSeries, bool, error) {
	var series map[string]models.ObservationSeries
	ok, err := s.readJSON(observationName(place, refDate), &series)
	return series, ok, err
}

func (s *Store) SaveObservationCache(place, refDate string, series map[string]models.ObservationSeries) error {
	return s.writeJSON(observationName(place, refDate), series)
}

func (s *Store) SavePlaceForecast(pf models.PlaceForecast) error {
	return s.writeJSON(forecastDir+"/"+escape(pf.Name)+".json", pf)
}

// GetPlaceForecasts returns stored summaries in place registry order, then
// any others by name.
func (s *Store) GetPlaceForecasts() ([]models.PlaceForecast, error) {
	entries, err := os.ReadDir(s.path(forecastDir))
	if err != nil {
		return nil, err
	}

	var out []models.PlaceForecast
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		var pf models.PlaceForecast
		if _, err := s.readJSON(forecastDir+"/"+e.Name(), &pf); err != nil {
			return nil, err
		}
		out = append(out, pf)
	}

	places, err := s.GetPlaces()
	if err != nil {
		return nil, err
	}
	rank := make(map[string]int, len(places))
	for i, p := range places {
		rank[p.Name] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i].Name]
		rj, jok := rank[out[j].Name]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) SaveStationAggregates(aggs map[string]*models.StationAggregate) error {
	return s.writeJSON(aggregateFile, aggs)
}

func (s *Store) GetStationAggregates() (map[string]*models.StationAggregate, error) {
	aggs := make(map[string]*models.StationAggregate)
	if _, err := s.readJSON(aggregateFile, &aggs); err != nil {
		return nil, err
	}
	return aggs, nil
}
