package store

import (
	"database/sql"
	"fmt"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS places (
    name TEXT PRIMARY KEY,
    position INTEGER NOT NULL,
    longitude REAL NOT NULL,
    latitude REAL NOT NULL,
    elevation REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS place_stations (
    place_name TEXT NOT NULL REFERENCES places(name) ON DELETE CASCADE,
    rank INTEGER NOT NULL,
    station_id TEXT NOT NULL,
    name TEXT,
    longitude REAL NOT NULL,
    latitude REAL NOT NULL,
    elevation REAL NOT NULL DEFAULT 0,
    distance REAL NOT NULL,
    PRIMARY KEY (place_name, rank)
);

CREATE TABLE IF NOT EXISTS registry_stations (
    station_id TEXT PRIMARY KEY,
    position INTEGER NOT NULL,
    name TEXT,
    longitude REAL NOT NULL,
    latitude REAL NOT NULL,
    elevation REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS observation_cache (
    place_name TEXT NOT NULL,
    ref_date TEXT NOT NULL,
    series_json TEXT NOT NULL,
    fetched_at TEXT NOT NULL,
    PRIMARY KEY (place_name, ref_date)
);

CREATE TABLE IF NOT EXISTS place_forecasts (
    place_name TEXT PRIMARY KEY,
    zero_time TEXT NOT NULL,
    will_it_rain BOOLEAN NOT NULL,
    amount REAL NOT NULL,
    starts TEXT,
    stops TEXT,
    forecast_json TEXT NOT NULL,
    computed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS aggregate_stations (
    station_id TEXT PRIMARY KEY,
    name TEXT,
    longitude REAL NOT NULL,
    latitude REAL NOT NULL,
    elevation REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS aggregate_values (
    station_id TEXT NOT NULL,
    ref_date TEXT NOT NULL,
    value REAL NOT NULL,
    time_offset TEXT NOT NULL,
    PRIMARY KEY (station_id, ref_date)
);

CREATE TABLE IF NOT EXISTS aggregate_distances (
    station_id TEXT NOT NULL,
    place_name TEXT NOT NULL,
    distance REAL NOT NULL,
    PRIMARY KEY (station_id, place_name)
);
`,
	},
	{
		Version:     2,
		Description: "Add ingest audit and raw payload storage",
		SQL: `
CREATE TABLE IF NOT EXISTS ingest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    item_key TEXT,
    response_size_bytes INTEGER,
    records_parsed INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);

CREATE TABLE IF NOT EXISTS raw_payloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ingest_run_id INTEGER REFERENCES ingest_runs(id),
    fetched_at TEXT NOT NULL,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    item_key TEXT,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE
);
`,
	},
}

// Migrate applies pending schema migrations in order, one transaction each.
func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		s.logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, formatTime(time.Now()),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at TEXT
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}
