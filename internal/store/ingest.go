package store

import (
	"database/sql"

	"github.com/lox/rainwatch/internal/models"
)

// StartIngestRun creates a new ingest run record and returns it.
func (s *Store) StartIngestRun(source, endpoint, key string) (*models.IngestRun, error) {
	run := &models.IngestRun{
		StartedAt: s.now().UTC(),
		Source:    source,
		Endpoint:  endpoint,
		Key:       key,
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_runs (started_at, source, endpoint, item_key, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, formatTime(run.StartedAt), run.Source, run.Endpoint, nullString(key))
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteIngestRun updates the ingest run with results.
func (s *Store) CompleteIngestRun(run *models.IngestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = s.now().UTC()

	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			finished_at = ?,
			response_size_bytes = ?,
			records_parsed = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, formatTime(run.FinishedAt), run.ResponseSizeBytes, run.RecordsParsed,
		run.Success, nullString(run.ErrorMessage), run.ID)
	return err
}

// IngestHealthSummary counts runs per day, source and endpoint.
type IngestHealthSummary struct {
	Date          string
	Source        string
	Endpoint      string
	TotalRuns     int
	SuccessRuns   int
	FailedRuns    int
	RecordsParsed int64
}

// GetIngestHealth returns ingest health summaries for the last N days.
func (s *Store) GetIngestHealth(days int) ([]IngestHealthSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) as date,
			source,
			endpoint,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs,
			COALESCE(SUM(records_parsed), 0) as records
		FROM ingest_runs
		WHERE SUBSTR(started_at, 1, 10) > DATE(?, '-' || ? || ' days')
		GROUP BY date, source, endpoint
		ORDER BY date DESC, source, endpoint
	`, s.now().UTC().Format("2006-01-02"), days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestHealthSummary
	for rows.Next() {
		var h IngestHealthSummary
		if err := rows.Scan(&h.Date, &h.Source, &h.Endpoint, &h.TotalRuns,
			&h.SuccessRuns, &h.FailedRuns, &h.RecordsParsed); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

// GetRecentIngestErrors returns recent failed ingest runs.
func (s *Store) GetRecentIngestErrors(limit int) ([]models.IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, COALESCE(finished_at, ''), source, endpoint, COALESCE(item_key, ''),
		       COALESCE(response_size_bytes, 0), COALESCE(records_parsed, 0), COALESCE(error_message, '')
		FROM ingest_runs
		WHERE success = FALSE
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.IngestRun
	for rows.Next() {
		var r models.IngestRun
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.Source, &r.Endpoint, &r.Key,
			&r.ResponseSizeBytes, &r.RecordsParsed, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.StartedAt, _ = parseTime(started)
		if finished != "" {
			r.FinishedAt, _ = parseTime(finished)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
