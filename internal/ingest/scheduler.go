package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/rainwatch/internal/aggregate"
	"github.com/lox/rainwatch/internal/forecast"
	"github.com/lox/rainwatch/internal/freshness"
	"github.com/lox/rainwatch/internal/geo"
	"github.com/lox/rainwatch/internal/metrics"
	"github.com/lox/rainwatch/internal/models"
	"github.com/lox/rainwatch/internal/observation"
)

// ErrIncompleteRefresh means every place failed a pipeline, so the cycle
// produced nothing new and must not be recorded as a refresh.
var ErrIncompleteRefresh = errors.New("refresh incomplete")

type StationRegistry interface {
	FetchStations(ctx context.Context) ([]models.Station, []byte, error)
}

type ObservationSource interface {
	FetchObservations(ctx context.Context, ids []string, refDate string) (map[string]models.ObservationSeries, []byte, error)
}

type ForecastSource interface {
	FetchForecast(ctx context.Context, place models.Place) ([]models.ForecastPoint, []byte, error)
}

// Store holds everything a cycle reads and writes between runs.
type Store interface {
	freshness.StateStore
	freshness.ArtifactChecker

	GetPlaces() ([]models.Place, error)
	SavePlaces([]models.Place) error

	GetStationRegistry(maxAge time.Duration) ([]models.Station, bool, error)
	SaveStationRegistry([]models.Station) error

	GetObservationCache(place, refDate string) (map[string]models.ObservationSeries, bool, error)
	SaveObservationCache(place, refDate string, series map[string]models.ObservationSeries) error

	GetPlaceForecasts() ([]models.PlaceForecast, error)
	SavePlaceForecast(models.PlaceForecast) error

	GetStationAggregates() (map[string]*models.StationAggregate, error)
	SaveStationAggregates(map[string]*models.StationAggregate) error
}

// Auditor is implemented by stores that keep a record of upstream calls.
type Auditor interface {
	StartIngestRun(source, endpoint, key string) (*models.IngestRun, error)
	CompleteIngestRun(run *models.IngestRun) error
	StoreRawPayload(runID int64, source, endpoint, key string, payload []byte) (int64, error)
}

type Options struct {
	Nearest         int
	ValidLimit      int
	PreferredOffset string
	LookbackDays    []int
	RegistryMaxAge  time.Duration
	Location        *time.Location
}

func DefaultOptions() Options {
	return Options{
		Nearest:         geo.DefaultNearest,
		ValidLimit:      observation.ValidLimit,
		PreferredOffset: observation.PreferredOffset,
		LookbackDays:    observation.LookbackDays,
		RegistryMaxAge:  7 * 24 * time.Hour,
		Location:        time.UTC,
	}
}

// Report is what a cycle leaves behind for readers.
type Report struct {
	GeneratedAt time.Time
	Refreshed   bool
	Reason      string
	Places      []models.PlaceForecast
	Stations    map[string]*models.StationAggregate
}

type Scheduler struct {
	store        Store
	registry     StationRegistry
	observations ObservationSource
	forecasts    ForecastSource
	engine       *forecast.Engine
	gate         *freshness.Gate
	opts         Options
	clock        clockwork.Clock
	logger       *slog.Logger
	afterCycle   func(*Report, error)
}

func NewScheduler(st Store, registry StationRegistry, obs ObservationSource, fc ForecastSource, opts Options, logger *slog.Logger) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        st,
		registry:     registry,
		observations: obs,
		forecasts:    fc,
		engine:       forecast.NewEngine(),
		gate:         freshness.NewGate(st, st, opts.Location),
		opts:         opts,
		clock:        clockwork.NewRealClock(),
		logger:       logger.With("component", "scheduler"),
	}
}

// SetClock replaces the clock used for ticks and refresh decisions.
func (s *Scheduler) SetClock(c clockwork.Clock) {
	s.clock = c
	s.gate.SetClock(c)
}

// SetAfterCycle registers fn to be called with the outcome of every cycle
// started by Run.
func (s *Scheduler) SetAfterCycle(fn func(*Report, error)) {
	s.afterCycle = fn
}

// SetHorizon changes how many hours ahead forecasts are windowed.
func (s *Scheduler) SetHorizon(hours int) {
	s.engine.HorizonHours = hours
}

// Run executes a cycle immediately and then once per interval until ctx is
// cancelled. Cycles never overlap.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	s.runLogged(ctx)

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down")
			return
		case <-ticker.Chan():
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	report, err := s.RunCycle(ctx)
	if err != nil {
		s.logger.Error("cycle failed, serving cached artifacts", "error", err)
	}
	if s.afterCycle != nil {
		s.afterCycle(report, err)
	}
}

// RunCycle refreshes derived artifacts when the freshness gate says so. On
// failure the previously stored artifacts are returned with the error and
// the refresh state is left untouched. A place failing on its own is logged
// and skipped; every place failing a pipeline yields ErrIncompleteRefresh.
func (s *Scheduler) RunCycle(ctx context.Context) (*Report, error) {
	d, err := s.gate.Decide()
	if err != nil {
		return s.failed(err, time.Time{}, "")
	}

	if !d.Due {
		s.logger.Info("reusing cached artifacts", "last_refresh", d.Last.LastSuccess, "reason", d.Reason)
		metrics.CyclesTotal.WithLabelValues("cached").Inc()
		return s.cachedReport(d.Last.LastSuccess, false, d.Reason)
	}

	s.logger.Info("refresh due", "reason", d.Reason, "now", d.Now)
	if err := s.refresh(ctx, d.Now); err != nil {
		return s.failed(err, d.Last.LastSuccess, d.Reason)
	}

	if err := s.gate.Commit(d); err != nil {
		return s.failed(err, d.Last.LastSuccess, d.Reason)
	}
	metrics.CyclesTotal.WithLabelValues("refreshed").Inc()
	metrics.LastRefresh.Set(float64(d.Now.Unix()))

	return s.cachedReport(d.Now, true, d.Reason)
}

// failed returns the last stored artifacts together with the cycle error.
func (s *Scheduler) failed(err error, last time.Time, reason string) (*Report, error) {
	metrics.CyclesTotal.WithLabelValues("failed").Inc()
	report, rerr := s.cachedReport(last, false, reason)
	if rerr != nil {
		return nil, errors.Join(err, rerr)
	}
	return report, err
}

func (s *Scheduler) cachedReport(at time.Time, refreshed bool, reason string) (*Report, error) {
	places, err := s.store.GetPlaceForecasts()
	if err != nil {
		return nil, fmt.Errorf("load place forecasts: %w", err)
	}
	stations, err := s.store.GetStationAggregates()
	if err != nil {
		return nil, fmt.Errorf("load station aggregates: %w", err)
	}
	return &Report{GeneratedAt: at, Refreshed: refreshed, Reason: reason, Places: places, Stations: stations}, nil
}

func (s *Scheduler) refresh(ctx context.Context, now time.Time) error {
	places, err := s.ResolvePlaces(ctx)
	if err != nil {
		return err
	}

	if err := s.refreshObservations(ctx, places, now); err != nil {
		return err
	}
	return s.refreshForecasts(ctx, places, now)
}

// ResolvePlaces assigns nearest stations to every configured place and
// stores the result.
func (s *Scheduler) ResolvePlaces(ctx context.Context) ([]models.Place, error) {
	stations, err := s.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}

	idx := geo.NewIndex(stations)
	for _, err := range idx.Skipped() {
		s.logger.Warn("skipping station", "error", err)
	}
	metrics.StationsIndexed.Set(float64(idx.Len()))
	if idx.Len() == 0 {
		return nil, models.ErrEmptyRegistry
	}

	places, err := s.store.GetPlaces()
	if err != nil {
		return nil, fmt.Errorf("load places: %w", err)
	}
	if len(places) == 0 {
		return nil, errors.New("no places configured")
	}

	resolved, failed := geo.ResolvePlaces(places, idx, s.opts.Nearest)
	for name, err := range failed {
		s.logger.Warn("could not resolve stations", "place", name, "error", err)
		metrics.PlaceFailures.WithLabelValues("resolve").Inc()
	}
	for _, p := range resolved {
		if len(p.Stations) > 0 {
			s.logger.Debug("stations resolved", "place", p.Name, "nearest", p.Stations[0].ID, "distance_m", p.Stations[0].Distance)
		}
	}

	if err := s.store.SavePlaces(resolved); err != nil {
		return nil, fmt.Errorf("save places: %w", err)
	}
	return resolved, nil
}

// loadRegistry returns the cached station registry while it is younger than
// the configured max age, downloading a new one otherwise. A stale copy is
// used if the download fails.
func (s *Scheduler) loadRegistry(ctx context.Context) ([]models.Station, error) {
	if cached, ok, err := s.store.GetStationRegistry(s.opts.RegistryMaxAge); err != nil {
		return nil, fmt.Errorf("load station registry: %w", err)
	} else if ok && len(cached) > 0 {
		return cached, nil
	}

	var stations []models.Station
	err := s.audit("frost", frostSourcesEndpoint, "", func() (int, []byte, error) {
		var raw []byte
		var err error
		stations, raw, err = s.registry.FetchStations(ctx)
		return len(stations), raw, err
	})
	if err != nil {
		stale, _, serr := s.store.GetStationRegistry(0)
		if serr == nil && len(stale) > 0 {
			s.logger.Warn("station registry download failed, using stale copy", "error", err)
			return stale, nil
		}
		return nil, fmt.Errorf("fetch station registry: %w", err)
	}
	if len(stations) == 0 {
		return nil, models.ErrEmptyRegistry
	}

	if err := s.store.SaveStationRegistry(stations); err != nil {
		return nil, fmt.Errorf("save station registry: %w", err)
	}
	s.logger.Info("station registry downloaded", "stations", len(stations))
	return stations, nil
}

func (s *Scheduler) refreshObservations(ctx context.Context, places []models.Place, now time.Time) error {
	aggs := make(map[string]*models.StationAggregate)
	local := now.In(s.opts.Location)
	attempted, fetched := 0, 0

	for _, place := range places {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(place.Stations) == 0 {
			continue
		}

		po := models.PlaceObservations{Name: place.Name}
		for _, days := range s.opts.LookbackDays {
			refDate := local.AddDate(0, 0, -days).Format("2006-01-02")
			attempted++
			series, err := s.observationsFor(ctx, place, refDate)
			if err != nil {
				s.logger.Warn("observations unavailable", "place", place.Name, "ref_date", refDate, "error", err)
				metrics.PlaceFailures.WithLabelValues("observations").Inc()
				continue
			}
			fetched++

			records, errs := observation.Extract(series, place.Stations, s.opts.PreferredOffset, s.opts.ValidLimit)
			for _, err := range errs {
				s.logger.Debug("station excluded", "place", place.Name, "ref_date", refDate, "error", err)
			}
			if len(records) == 0 {
				s.logger.Info("no valid observations", "place", place.Name, "ref_date", refDate)
			}
			metrics.ObservationRecords.Add(float64(len(records)))
			po.Days = append(po.Days, models.DayObservations{RefDate: refDate, Records: records})
		}
		aggregate.Merge(aggs, po)
	}

	if attempted > 0 && fetched == 0 {
		return fmt.Errorf("no observation day fetched for %d places: %w", len(places), ErrIncompleteRefresh)
	}
	if err := s.store.SaveStationAggregates(aggs); err != nil {
		return fmt.Errorf("save station aggregates: %w", err)
	}
	s.logger.Info("observations aggregated", "stations", len(aggs))
	return nil
}

// observationsFor returns the observation series for a place and day,
// reusing a cached copy when one exists. Empty results are not cached so
// they are retried on the next cycle.
func (s *Scheduler) observationsFor(ctx context.Context, place models.Place, refDate string) (map[string]models.ObservationSeries, error) {
	cached, ok, err := s.store.GetObservationCache(place.Name, refDate)
	if err != nil {
		return nil, fmt.Errorf("load observation cache: %w", err)
	}
	if ok {
		return cached, nil
	}

	var series map[string]models.ObservationSeries
	err = s.audit("frost", frostObservationsEndpoint, place.Name+"/"+refDate, func() (int, []byte, error) {
		var raw []byte
		var err error
		series, raw, err = s.observations.FetchObservations(ctx, place.StationIDs(), refDate)
		return len(series), raw, err
	})
	if err != nil {
		return nil, err
	}

	if len(series) > 0 {
		if err := s.store.SaveObservationCache(place.Name, refDate, series); err != nil {
			return nil, fmt.Errorf("save observation cache: %w", err)
		}
	}
	return series, nil
}

func (s *Scheduler) refreshForecasts(ctx context.Context, places []models.Place, now time.Time) error {
	computed := 0
	for _, place := range places {
		if err := ctx.Err(); err != nil {
			return err
		}

		var points []models.ForecastPoint
		err := s.audit("metno", "locationforecast", place.Name, func() (int, []byte, error) {
			var raw []byte
			var err error
			points, raw, err = s.forecasts.FetchForecast(ctx, place)
			return len(points), raw, err
		})
		if err != nil {
			s.logger.Warn("forecast unavailable", "place", place.Name, "error", err)
			metrics.PlaceFailures.WithLabelValues("forecast").Inc()
			continue
		}

		pf, err := s.engine.Compute(place, points, now)
		if errors.Is(err, models.ErrMissingForecastWindow) {
			s.logger.Warn("forecast window missing, keeping cached summary", "place", place.Name, "error", err)
			metrics.PlaceFailures.WithLabelValues("forecast").Inc()
			continue
		}
		if err != nil {
			return err
		}

		if err := s.store.SavePlaceForecast(pf); err != nil {
			return fmt.Errorf("save forecast for %s: %w", place.Name, err)
		}
		computed++
		s.logger.Debug("forecast computed", "place", place.Name, "will_it_rain", pf.Summary.WillItRain, "amount", pf.Summary.Amount)
	}
	s.logger.Info("forecasts computed", "places", computed, "total", len(places))
	if len(places) > 0 && computed == 0 {
		return fmt.Errorf("no place forecast computed: %w", ErrIncompleteRefresh)
	}
	return nil
}

// audit runs fn and, when the store keeps an audit trail, records the call
// and its raw payload. Audit failures are logged and never fail the call.
func (s *Scheduler) audit(source, endpoint, key string, fn func() (int, []byte, error)) error {
	a, ok := s.store.(Auditor)
	if !ok {
		_, _, err := fn()
		return err
	}

	run, err := a.StartIngestRun(source, endpoint, key)
	if err != nil {
		s.logger.Warn("failed to start ingest run", "source", source, "error", err)
	}

	records, raw, fnErr := fn()

	if run != nil {
		run.RecordsParsed = records
		run.ResponseSizeBytes = len(raw)
		run.Success = fnErr == nil
		if fnErr != nil {
			run.ErrorMessage = fnErr.Error()
		}
		if err := a.CompleteIngestRun(run); err != nil {
			s.logger.Warn("failed to complete ingest run", "source", source, "error", err)
		}
	}
	if len(raw) > 0 {
		var runID int64
		if run != nil {
			runID = run.ID
		}
		if _, err := a.StoreRawPayload(runID, source, endpoint, key, raw); err != nil {
			s.logger.Warn("failed to store raw payload", "source", source, "error", err)
		}
	}
	return fnErr
}
