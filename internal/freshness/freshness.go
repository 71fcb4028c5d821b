// Package freshness decides whether cached upstream data may be reused or a
// refresh cycle has to run.
package freshness

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/rainwatch/internal/models"
)

// MaxAge is the longest a successful refresh is trusted.
const MaxAge = time.Hour

// Reasons reported on a Decision.
const (
	ReasonNeverRefreshed   = "never_refreshed"
	ReasonExpired          = "expired"
	ReasonHourChanged      = "hour_changed"
	ReasonArtifactsMissing = "artifacts_missing"
	ReasonFresh            = "fresh"
)

// IsRefreshDue reports whether data fetched at last must be refreshed at now.
// The hour comparison uses wall clock time in loc.
func IsRefreshDue(last models.RefreshState, now time.Time, loc *time.Location) bool {
	return reason(last, now, loc) != ReasonFresh
}

func reason(last models.RefreshState, now time.Time, loc *time.Location) string {
	if !last.Valid {
		return ReasonNeverRefreshed
	}
	if loc == nil {
		loc = time.UTC
	}
	// A last success in the future counts as elapsed < MaxAge; only the
	// hour comparison can make it due.
	elapsed := now.Sub(last.LastSuccess)
	switch {
	case elapsed >= MaxAge:
		return ReasonExpired
	case now.In(loc).Hour() != last.LastSuccess.In(loc).Hour():
		return ReasonHourChanged
	}
	return ReasonFresh
}

// StateStore persists the refresh state between runs.
type StateStore interface {
	LoadRefreshState() (models.RefreshState, error)
	SaveRefreshState(models.RefreshState) error
}

// ArtifactChecker reports whether derived artifacts from a previous cycle
// are available for reuse.
type ArtifactChecker interface {
	HasArtifacts() (bool, error)
}

// Decision is the outcome of Gate.Decide. Now is the timestamp committed if
// the cycle succeeds.
type Decision struct {
	Due    bool
	Now    time.Time
	Last   models.RefreshState
	Reason string
}

// Gate threads the refresh state through a cycle: Decide at the start,
// Commit once the cycle has succeeded.
type Gate struct {
	clock     clockwork.Clock
	state     StateStore
	artifacts ArtifactChecker
	loc       *time.Location
}

func NewGate(state StateStore, artifacts ArtifactChecker, loc *time.Location) *Gate {
	return &Gate{
		clock:     clockwork.NewRealClock(),
		state:     state,
		artifacts: artifacts,
		loc:       loc,
	}
}

// SetClock replaces the clock, for tests.
func (g *Gate) SetClock(c clockwork.Clock) {
	g.clock = c
}

// Decide reads the last refresh state and decides whether a refresh is due.
// A fresh state still triggers a refresh when the cached artifacts are gone.
func (g *Gate) Decide() (Decision, error) {
	now := g.clock.Now()
	last, err := g.state.LoadRefreshState()
	if err != nil {
		return Decision{}, fmt.Errorf("load refresh state: %w", err)
	}

	d := Decision{Now: now, Last: last, Reason: reason(last, now, g.loc)}
	d.Due = d.Reason != ReasonFresh
	if d.Due || g.artifacts == nil {
		return d, nil
	}

	ok, err := g.artifacts.HasArtifacts()
	if err != nil {
		return Decision{}, fmt.Errorf("check artifacts: %w", err)
	}
	if !ok {
		d.Due = true
		d.Reason = ReasonArtifactsMissing
	}
	return d, nil
}

// Commit records the decision time as the last successful refresh.
func (g *Gate) Commit(d Decision) error {
	if err := g.state.SaveRefreshState(models.RefreshState{LastSuccess: d.Now, Valid: true}); err != nil {
		return fmt.Errorf("save refresh state: %w", err)
	}
	return nil
}
