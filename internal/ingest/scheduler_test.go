package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/rainwatch/internal/filestore"
	"github.com/lox/rainwatch/internal/freshness"
	"github.com/lox/rainwatch/internal/models"
	"github.com/lox/rainwatch/internal/store"
)

type fakeRegistry struct {
	stations []models.Station
	err      error
	calls    int
}

func (f *fakeRegistry) FetchStations(ctx context.Context) ([]models.Station, []byte, error) {
	f.calls++
	return f.stations, []byte(`{"data":[]}`), f.err
}

type fakeObservations struct {
	calls int
	dates []string
}

func (f *fakeObservations) FetchObservations(ctx context.Context, ids []string, refDate string) (map[string]models.ObservationSeries, []byte, error) {
	f.calls++
	f.dates = append(f.dates, refDate)
	out := make(map[string]models.ObservationSeries, len(ids))
	for i, id := range ids {
		out[id] = models.ObservationSeries{
			StationID: id,
			RefDate:   refDate,
			Readings:  []models.Reading{{Offset: "PT18H", Value: 9}, {Offset: "PT6H", Value: float64(i) + 0.5}},
		}
	}
	return out, []byte(`{"data":[]}`), nil
}

type fakeForecasts struct {
	points func(place models.Place) ([]models.ForecastPoint, error)
	calls  int
}

func (f *fakeForecasts) FetchForecast(ctx context.Context, place models.Place) ([]models.ForecastPoint, []byte, error) {
	f.calls++
	points, err := f.points(place)
	return points, []byte("<weatherdata/>"), err
}

// hourlyForecast returns hourly precipitation steps from start with the given
// values, followed by six-hourly steps.
func hourlyForecast(start time.Time, values ...float64) []models.ForecastPoint {
	var points []models.ForecastPoint
	for i, v := range values {
		from := start.Add(time.Duration(i) * time.Hour)
		points = append(points, models.ForecastPoint{
			From: from,
			To:   from.Add(time.Hour),
			Attrs: map[models.Category]models.Attribute{
				models.CategoryPrecipitation: models.Precipitation{Unit: "mm", Value: v},
			},
		})
	}
	end := start.Add(time.Duration(len(values)) * time.Hour)
	for i := 0; i < 4; i++ {
		from := end.Add(time.Duration(i*6) * time.Hour)
		points = append(points, models.ForecastPoint{
			From: from,
			To:   from.Add(6 * time.Hour),
			Attrs: map[models.Category]models.Attribute{
				models.CategoryPrecipitation: models.Precipitation{Unit: "mm", Value: 4},
			},
		})
	}
	return points
}

func testStations() []models.Station {
	return []models.Station{
		{ID: "SN18700", Name: "OSLO - BLINDERN", Point: models.GeoPoint{Lon: 10.72, Lat: 59.9423, Elevation: 94}},
		{ID: "SN18950", Name: "TRYVANNSHØGDA", Point: models.GeoPoint{Lon: 10.6693, Lat: 59.9847, Elevation: 514}},
		{ID: "SN50540", Name: "BERGEN - FLORIDA", Point: models.GeoPoint{Lon: 5.3327, Lat: 60.383, Elevation: 12}},
	}
}

type schedulerFixture struct {
	sched    *Scheduler
	store    Store
	clock    *clockwork.FakeClock
	registry *fakeRegistry
	obs      *fakeObservations
	fc       *fakeForecasts
}

var testStart = time.Date(2026, 10, 14, 10, 5, 0, 0, time.UTC)

func newSchedulerFixture(t *testing.T, st Store) *schedulerFixture {
	t.Helper()
	if st == nil {
		fs, err := filestore.New(t.TempDir())
		require.NoError(t, err)
		st = fs
	}
	require.NoError(t, st.SavePlaces([]models.Place{
		{Name: "Oslo", Point: models.GeoPoint{Lon: 10.75, Lat: 59.91, Elevation: 10}},
	}))

	f := &schedulerFixture{
		store:    st,
		clock:    clockwork.NewFakeClockAt(testStart),
		registry: &fakeRegistry{stations: testStations()},
		obs:      &fakeObservations{},
	}
	f.fc = &fakeForecasts{points: func(models.Place) ([]models.ForecastPoint, error) {
		hour := f.clock.Now().Truncate(time.Hour)
		return hourlyForecast(hour.Add(-time.Hour), 0, 0, 0.4, 1.1, 0, 0, 0, 0), nil
	}}

	opts := DefaultOptions()
	opts.Nearest = 2
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.sched = NewScheduler(st, f.registry, f.obs, f.fc, opts, logger)
	f.sched.SetClock(f.clock)
	return f
}

func TestRunCycle_RefreshesThenReuses(t *testing.T) {
	f := newSchedulerFixture(t, nil)

	report, err := f.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Refreshed)
	assert.Equal(t, freshness.ReasonNeverRefreshed, report.Reason)
	assert.Equal(t, 1, f.registry.calls)
	assert.Equal(t, 3, f.obs.calls)
	assert.Equal(t, []string{"2026-10-13", "2026-10-12", "2026-10-11"}, f.obs.dates)
	assert.Equal(t, 1, f.fc.calls)

	require.Len(t, report.Places, 1)
	summary := report.Places[0].Summary
	assert.True(t, summary.WillItRain)
	assert.Equal(t, []int{1, 2}, summary.RainHours)
	assert.InDelta(t, 1.5, summary.Amount, 1e-9)
	require.NotNil(t, summary.Starts)
	assert.Equal(t, time.Date(2026, 10, 14, 11, 0, 0, 0, time.UTC), summary.Starts.UTC())

	require.Contains(t, report.Stations, "SN18700")
	assert.Len(t, report.Stations["SN18700"].Values, 3)
	assert.NotContains(t, report.Stations, "SN50540", "only the nearest two stations are resolved")

	state, err := f.store.LoadRefreshState()
	require.NoError(t, err)
	assert.True(t, state.Valid)
	assert.True(t, state.LastSuccess.Equal(testStart))

	// Same hour, under an hour old: nothing is fetched.
	f.clock.Advance(20 * time.Minute)
	report, err = f.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Refreshed)
	assert.Equal(t, freshness.ReasonFresh, report.Reason)
	assert.Equal(t, 1, f.fc.calls)
	assert.Len(t, report.Places, 1)
}

func TestRunCycle_HourChangeReusesRegistryAndObservations(t *testing.T) {
	f := newSchedulerFixture(t, nil)

	_, err := f.sched.RunCycle(context.Background())
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	report, err := f.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Refreshed)
	assert.Equal(t, freshness.ReasonExpired, report.Reason)
	assert.Equal(t, 1, f.registry.calls, "registry is cached")
	assert.Equal(t, 3, f.obs.calls, "same reference dates are cached")
	assert.Equal(t, 2, f.fc.calls)
}

func TestRunCycle_EmptyRegistryLeavesStateUntouched(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.registry.stations = nil

	_, err := f.sched.RunCycle(context.Background())
	require.ErrorIs(t, err, models.ErrEmptyRegistry)

	state, err := f.store.LoadRefreshState()
	require.NoError(t, err)
	assert.False(t, state.Valid)
	assert.Equal(t, 0, f.fc.calls)
}

func TestRunCycle_StaleRegistryOnDownloadFailure(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	require.NoError(t, f.store.SaveStationRegistry(testStations()))
	f.sched.opts.RegistryMaxAge = time.Nanosecond
	f.registry.err = errors.New("connection refused")
	time.Sleep(time.Millisecond)

	report, err := f.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Refreshed)
	assert.Equal(t, 1, f.registry.calls)
	assert.Len(t, report.Places, 1)
}

func TestRunCycle_MissingWindowKeepsCachedSummary(t *testing.T) {
	f := newSchedulerFixture(t, nil)

	first, err := f.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Places, 1)
	zero := first.Places[0].ZeroTime

	// Only six-hourly steps far in the future: no hourly window brackets now.
	f.fc.points = func(models.Place) ([]models.ForecastPoint, error) {
		return hourlyForecast(f.clock.Now().Add(48 * time.Hour)), nil
	}
	f.clock.Advance(2 * time.Hour)

	report, err := f.sched.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrIncompleteRefresh)
	require.NotNil(t, report)
	assert.False(t, report.Refreshed)
	require.Len(t, report.Places, 1)
	assert.True(t, report.Places[0].ZeroTime.Equal(zero), "previous summary is kept")
	assert.True(t, report.Places[0].Summary.WillItRain)

	state, err := f.store.LoadRefreshState()
	require.NoError(t, err)
	assert.True(t, state.LastSuccess.Equal(testStart))
}

func TestRunCycle_AllForecastsFailingIsNotCommitted(t *testing.T) {
	f := newSchedulerFixture(t, nil)

	_, err := f.sched.RunCycle(context.Background())
	require.NoError(t, err)

	working := f.fc.points
	f.fc.points = func(models.Place) ([]models.ForecastPoint, error) {
		return nil, errors.New("upstream down")
	}
	f.clock.Advance(time.Hour)

	report, err := f.sched.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrIncompleteRefresh)
	assert.False(t, report.Refreshed)
	require.Len(t, report.Places, 1)
	assert.True(t, report.Places[0].ZeroTime.Equal(testStart), "stale summary is served, not refreshed")

	state, err := f.store.LoadRefreshState()
	require.NoError(t, err)
	assert.True(t, state.LastSuccess.Equal(testStart))

	// Ten minutes later the cycle is still due and retries the forecasts.
	f.fc.points = working
	f.clock.Advance(10 * time.Minute)
	report, err = f.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Refreshed)
	assert.Equal(t, freshness.ReasonExpired, report.Reason)
	assert.Equal(t, 3, f.fc.calls)
	assert.True(t, report.Places[0].ZeroTime.Equal(testStart.Add(70*time.Minute)))
}

func TestRunCycle_PartialForecastFailureIsIsolated(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	require.NoError(t, f.store.SavePlaces([]models.Place{
		{Name: "Oslo", Point: models.GeoPoint{Lon: 10.75, Lat: 59.91, Elevation: 10}},
		{Name: "Bergen", Point: models.GeoPoint{Lon: 5.32, Lat: 60.39, Elevation: 12}},
	}))
	working := f.fc.points
	f.fc.points = func(p models.Place) ([]models.ForecastPoint, error) {
		if p.Name == "Bergen" {
			return nil, errors.New("upstream down")
		}
		return working(p)
	}

	report, err := f.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Refreshed)
	require.Len(t, report.Places, 1)
	assert.Equal(t, "Oslo", report.Places[0].Name)

	state, err := f.store.LoadRefreshState()
	require.NoError(t, err)
	assert.True(t, state.Valid)
}

type failingObservations struct{ calls int }

func (f *failingObservations) FetchObservations(ctx context.Context, ids []string, refDate string) (map[string]models.ObservationSeries, []byte, error) {
	f.calls++
	return nil, nil, errors.New("frost unavailable")
}

func TestRunCycle_AllObservationsFailingIsNotCommitted(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	obs := &failingObservations{}
	f.sched.observations = obs

	_, err := f.sched.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrIncompleteRefresh)
	assert.Equal(t, 3, obs.calls)

	state, err := f.store.LoadRefreshState()
	require.NoError(t, err)
	assert.False(t, state.Valid)
}

func TestRunCycle_ForecastFailureWithoutArtifactsStaysDue(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.fc.points = func(models.Place) ([]models.ForecastPoint, error) {
		return nil, errors.New("upstream down")
	}

	report, err := f.sched.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrIncompleteRefresh)
	assert.Empty(t, report.Places)

	f.clock.Advance(time.Minute)
	report, err = f.sched.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrIncompleteRefresh)
	assert.Equal(t, freshness.ReasonNeverRefreshed, report.Reason)
	assert.Equal(t, 2, f.fc.calls)
}

func TestRunCycle_CancelledContext(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sched.RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)

	state, err := f.store.LoadRefreshState()
	require.NoError(t, err)
	assert.False(t, state.Valid)
}

func TestRunCycle_AuditsUpstreamCalls(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.New(db, nil)
	require.NoError(t, st.Migrate())

	f := newSchedulerFixture(t, st)
	f.fc.points = func(models.Place) ([]models.ForecastPoint, error) {
		return nil, errors.New("upstream down")
	}

	_, err = f.sched.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrIncompleteRefresh)

	health, err := st.GetIngestHealth(1)
	require.NoError(t, err)
	runs := map[string]int{}
	for _, h := range health {
		runs[h.Source+" "+h.Endpoint] += h.TotalRuns
	}
	assert.Equal(t, 1, runs["frost "+frostSourcesEndpoint])
	assert.Equal(t, 3, runs["frost "+frostObservationsEndpoint])
	assert.Equal(t, 1, runs["metno locationforecast"])

	failures, err := st.GetRecentIngestErrors(10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "Oslo", failures[0].Key)
	assert.Equal(t, "upstream down", failures[0].ErrorMessage)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var cycles atomic.Int32
	f.sched.SetAfterCycle(func(r *Report, err error) {
		if err == nil && r.Refreshed {
			cycles.Add(1)
		}
	})

	done := make(chan struct{})
	go func() {
		f.sched.Run(ctx, time.Hour)
		close(done)
	}()

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(time.Hour)
	require.Eventually(t, func() bool {
		st, err := f.store.LoadRefreshState()
		return err == nil && st.Valid && st.LastSuccess.Equal(testStart.Add(time.Hour))
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, int32(2), cycles.Load())
}
