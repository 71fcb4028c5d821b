package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/lox/rainwatch/internal/report"
)

type RefreshCmd struct{}

func (c *RefreshCmd) Run(ctx context.Context, a *app) error {
	if err := a.requireFrost(); err != nil {
		return err
	}
	r, err := a.scheduler.RunCycle(ctx)
	a.afterCycle(r, err)
	if r != nil {
		if werr := report.WriteForecasts(os.Stdout, r.GeneratedAt, r.Places, a.loc); werr != nil {
			return werr
		}
	}
	return err
}

type WatchCmd struct {
	Interval time.Duration `help:"Time between refresh checks." default:"10m"`
}

func (c *WatchCmd) Run(ctx context.Context, a *app) error {
	if err := a.requireFrost(); err != nil {
		return err
	}
	a.scheduler.SetAfterCycle(a.afterCycle)
	a.logger.Info("watching", "interval", c.Interval, "store", a.cfg.Store)
	a.scheduler.Run(ctx, c.Interval)
	return nil
}

type ResolveCmd struct{}

func (c *ResolveCmd) Run(ctx context.Context, a *app) error {
	if err := a.requireFrost(); err != nil {
		return err
	}
	places, err := a.scheduler.ResolvePlaces(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Place\tStation\tName\tDistance (km)")
	for _, p := range places {
		for _, st := range p.Stations {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\n", p.Name, st.ID, st.Name, st.Distance/1000)
		}
	}
	return tw.Flush()
}

type ReportCmd struct {
	Observations bool `help:"Also print per-station observations." default:"true" negatable:""`
}

func (c *ReportCmd) Run(a *app) error {
	state, err := a.store.LoadRefreshState()
	if err != nil {
		return err
	}
	places, err := a.store.GetPlaceForecasts()
	if err != nil {
		return err
	}
	if err := report.WriteForecasts(os.Stdout, state.LastSuccess, places, a.loc); err != nil {
		return err
	}
	if !c.Observations {
		return nil
	}

	aggs, err := a.store.GetStationAggregates()
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout)
	return report.WriteStations(os.Stdout, aggs)
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(a *app) error {
	if a.sqlite == nil {
		return fmt.Errorf("migrate needs --store=sqlite")
	}
	v, err := a.sqlite.MigrationVersion()
	if err != nil {
		return err
	}
	a.logger.Info("database migrated", "version", v, "db", a.cfg.DB)
	return nil
}

type AuditCmd struct {
	Since   int   `help:"Days of ingest health to summarise." default:"7"`
	Errors  int   `help:"Recent failed runs to list." default:"10"`
	Payload int64 `help:"Print the raw payload stored for this ingest run and exit."`
}

func (c *AuditCmd) Run(a *app) error {
	if a.sqlite == nil {
		return fmt.Errorf("audit needs --store=sqlite")
	}
	if c.Payload != 0 {
		body, err := a.sqlite.GetRunPayload(c.Payload)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("no payload stored for run %d", c.Payload)
		}
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(body)
		return err
	}
	health, err := a.sqlite.GetIngestHealth(c.Since)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Date\tSource\tEndpoint\tRuns\tOK\tFailed\tRecords")
	for _, h := range health {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n", h.Date, h.Source, h.Endpoint, h.TotalRuns, h.SuccessRuns, h.FailedRuns, h.RecordsParsed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	failures, err := a.sqlite.GetRecentIngestErrors(c.Errors)
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		return nil
	}
	fmt.Fprintln(os.Stdout)
	tw = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Run\tStarted\tSource\tKey\tError")
	for _, r := range failures {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.StartedAt.In(a.loc).Format(report.TimeFormat), r.Source, r.Key, r.ErrorMessage)
	}
	return tw.Flush()
}
