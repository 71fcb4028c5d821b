package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/rainwatch/internal/config"
	"github.com/lox/rainwatch/internal/filestore"
	"github.com/lox/rainwatch/internal/httputil"
	"github.com/lox/rainwatch/internal/ingest"
	"github.com/lox/rainwatch/internal/logging"
	"github.com/lox/rainwatch/internal/metrics"
	"github.com/lox/rainwatch/internal/store"
)

type CLI struct {
	config.Globals

	Refresh RefreshCmd `cmd:"" help:"Run one refresh cycle and print the forecast table."`
	Watch   WatchCmd   `cmd:"" help:"Run refresh cycles on an interval until interrupted."`
	Resolve ResolveCmd `cmd:"" help:"Resolve the nearest stations for every place."`
	Report  ReportCmd  `cmd:"" help:"Print the stored forecasts and station observations."`
	Migrate MigrateCmd `cmd:"" help:"Apply database migrations and exit."`
	Audit   AuditCmd   `cmd:"" help:"Show upstream ingest health from the audit tables."`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("rainwatch"),
		kong.Description("Precipitation observed nearby and rain expected over the next day."),
		kong.UsageOnError(),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	level, err := logging.ParseLevel(cli.LogLevel)
	kctx.FatalIfErrorf(err)
	logger, err := logging.New(os.Stderr, level, cli.LogFormat)
	kctx.FatalIfErrorf(err)
	slog.SetDefault(logger)

	app, err := newApp(&cli.Globals, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	err = kctx.Run(app)
	app.Close()
	if err != nil {
		logger.Error("command failed", "command", kctx.Command(), "error", err)
		os.Exit(1)
	}
}

// app carries the wiring shared by commands.
type app struct {
	cfg       *config.Globals
	logger    *slog.Logger
	loc       *time.Location
	db        *sql.DB
	sqlite    *store.Store
	store     ingest.Store
	scheduler *ingest.Scheduler
}

func newApp(cfg *config.Globals, logger *slog.Logger) (*app, error) {
	opts, err := cfg.SchedulerOptions()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, loc: opts.Location}

	switch cfg.Store {
	case "files":
		fs, err := filestore.New(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		a.store = fs
	default:
		if dir := filepath.Dir(cfg.DB); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		db, err := store.Open(cfg.DB)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.sqlite = store.New(db, logger)
		if err := a.sqlite.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.store = a.sqlite
	}

	if cfg.Places != "" {
		places, err := config.LoadPlaces(cfg.Places)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load places: %w", err)
		}
		if err := a.store.SavePlaces(places); err != nil {
			a.Close()
			return nil, fmt.Errorf("seed places: %w", err)
		}
		logger.Info("places seeded", "count", len(places), "file", cfg.Places)
	}

	client := httputil.NewClient(cfg.UserAgent)
	frost := ingest.NewFrostClient(cfg.FrostClientID, cfg.FrostURL, client)

	var forecasts ingest.ForecastSource
	switch cfg.ForecastSource {
	case "ftp":
		if cfg.FTPHost == "" {
			a.Close()
			return nil, errors.New("--ftp-host is required with --forecast-source=ftp")
		}
		forecasts = ingest.NewFTPForecastSource(cfg.FTPHost, cfg.FTPDir)
	default:
		forecasts = ingest.NewMetnoClient(cfg.MetnoURL, client)
	}

	a.scheduler = ingest.NewScheduler(a.store, frost, frost, forecasts, opts, logger)
	a.scheduler.SetHorizon(cfg.HorizonHours())
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) requireFrost() error {
	if a.cfg.FrostClientID == "" {
		return errors.New("FROST_CLIENT_ID (or --frost-client-id) is required")
	}
	return nil
}

// afterCycle writes metrics and prunes raw payloads once a cycle is over.
func (a *app) afterCycle(_ *ingest.Report, _ error) {
	if a.sqlite != nil && a.cfg.RawRetentionDays > 0 {
		if n, err := a.sqlite.CleanupOldRawPayloads(a.cfg.RawRetentionDays); err != nil {
			a.logger.Warn("raw payload cleanup failed", "error", err)
		} else if n > 0 {
			a.logger.Info("raw payloads pruned", "deleted", n)
		}
	}
	if a.cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
			a.logger.Warn("write metrics failed", "file", a.cfg.MetricsFile, "error", err)
		}
	}
}
