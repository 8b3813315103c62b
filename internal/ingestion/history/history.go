// Package history keeps a queryable record of ingestion runs in PostgreSQL.
// The run log files remain the authoritative per-file record; this table
// holds one summary row per run.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/runlog"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ingestion_runs (
		run_id         TEXT PRIMARY KEY,
		mode           TEXT NOT NULL,
		outcome        TEXT NOT NULL,
		failed_state   TEXT,
		error          TEXT,
		started_at     TIMESTAMPTZ NOT NULL,
		finished_at    TIMESTAMPTZ NOT NULL,
		scanned        INTEGER NOT NULL DEFAULT 0,
		parsed         INTEGER NOT NULL DEFAULT 0,
		failed         INTEGER NOT NULL DEFAULT 0,
		records        INTEGER NOT NULL DEFAULT 0,
		build_warnings INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS ingestion_runs_started_at_idx ON ingestion_runs (started_at DESC)`,
}

// Run is one row of the history table.
type Run struct {
	RunID         string        `json:"run_id"`
	Mode          string        `json:"mode"`
	Outcome       string        `json:"outcome"`
	FailedState   string        `json:"failed_state,omitempty"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	Counts        runlog.Counts `json:"counts"`
	BuildWarnings int           `json:"build_warnings"`
}

// Store reads and writes the ingestion_runs table.
type Store struct {
	db *postgres.Client
}

func New(db *postgres.Client) *Store {
	return &Store{db: db}
}

// Migrate creates the table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx, schema...)
}

// Record inserts a summary of report. Recording the same run twice is a
// no-op, so callers may retry freely.
func (s *Store) Record(ctx context.Context, report runlog.Report) error {
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO ingestion_runs
			(run_id, mode, outcome, failed_state, error, started_at, finished_at,
			 scanned, parsed, failed, records, build_warnings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id) DO NOTHING`,
		report.RunID, report.Mode, string(report.Outcome),
		nullableString(report.FailedState), nullableString(report.Error),
		report.StartedAt, report.FinishedAt,
		report.Counts.Scanned, report.Counts.Parsed, report.Counts.Failed, report.Counts.Records,
		len(report.BuildWarnings),
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", report.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT run_id, mode, outcome, failed_state, error, started_at, finished_at,
			scanned, parsed, failed, records, build_warnings
		FROM ingestion_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var failedState, errText sql.NullString
		if err := rows.Scan(
			&r.RunID, &r.Mode, &r.Outcome, &failedState, &errText, &r.StartedAt, &r.FinishedAt,
			&r.Counts.Scanned, &r.Counts.Parsed, &r.Counts.Failed, &r.Counts.Records, &r.BuildWarnings,
		); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.FailedState = failedState.String
		r.Error = errText.String
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// nullableString converts a Go string to a sql.NullString, treating the
// empty string as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
