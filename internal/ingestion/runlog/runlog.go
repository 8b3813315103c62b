// Package runlog records the per-file outcomes of one ingestion run. A Log
// is append-only until Finalize, after which it is immutable and can be
// written to the log directory under a unique, timestamped name.
package runlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/errors"
)

var (
	ErrFinalized    = errors.New("run log is finalized")
	ErrNotFinalized = errors.New("run log is not finalized")
)

type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Outcome is the final result of a run.
type Outcome string

const (
	OutcomePublished Outcome = "published"
	OutcomeFailed    Outcome = "failed"
)

// Entry is the outcome of parsing one source file.
type Entry struct {
	File      string            `json:"file"`
	Status    Status            `json:"status"`
	Reason    string            `json:"reason,omitempty"`
	CatalogID int               `json:"catalog_id,omitempty"`
	Warnings  []catalog.Warning `json:"warnings,omitempty"`
}

// Counts summarises a run.
type Counts struct {
	Scanned int `json:"scanned"`
	Parsed  int `json:"parsed"`
	Failed  int `json:"failed"`
	Records int `json:"records"`
}

// Report is the serialisable content of a Log.
type Report struct {
	RunID         string            `json:"run_id"`
	Mode          string            `json:"mode"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	Outcome       Outcome           `json:"outcome"`
	FailedState   string            `json:"failed_state,omitempty"`
	Error         string            `json:"error,omitempty"`
	Counts        Counts            `json:"counts"`
	Entries       []Entry           `json:"entries"`
	BuildWarnings []catalog.Warning `json:"build_warnings,omitempty"`
}

// Log accumulates entries for one run. It is safe for concurrent use.
type Log struct {
	mu        sync.Mutex
	report    Report
	finalized bool
}

func New(runID, mode string, startedAt time.Time) *Log {
	return &Log{report: Report{
		RunID:     runID,
		Mode:      mode,
		StartedAt: startedAt.UTC(),
		Entries:   []Entry{},
	}}
}

// Append adds an entry. It fails once the log is finalized.
func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finalized {
		return ErrFinalized
	}
	l.report.Entries = append(l.report.Entries, e)
	switch e.Status {
	case StatusOK:
		l.report.Counts.Parsed++
	case StatusFailed:
		l.report.Counts.Failed++
	}
	return nil
}

// SetScanned records how many source files the run considered.
func (l *Log) SetScanned(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.finalized {
		l.report.Counts.Scanned = n
	}
}

// Finalize closes the log. runErr is nil for a published run; failedState
// names the pipeline state in which a failed run stopped.
func (l *Log) Finalize(finishedAt time.Time, records int, buildWarnings []catalog.Warning, failedState string, runErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finalized {
		return ErrFinalized
	}
	l.finalized = true
	l.report.FinishedAt = finishedAt.UTC()
	l.report.Counts.Records = records
	l.report.BuildWarnings = slices.Clone(buildWarnings)
	l.report.Outcome = OutcomePublished
	if runErr != nil {
		l.report.Outcome = OutcomeFailed
		l.report.FailedState = failedState
		l.report.Error = runErr.Error()
	}
	return nil
}

// Finalized reports whether Finalize has been called.
func (l *Log) Finalized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finalized
}

// Report returns a copy of the log content.
func (l *Log) Report() Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.report
	r.Entries = slices.Clone(l.report.Entries)
	r.BuildWarnings = slices.Clone(l.report.BuildWarnings)
	return r
}

// ParseErrors returns the number of failed entries.
func (l *Log) ParseErrors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.report.Counts.Failed
}

// FileName returns the log's file name: run-<UTC start>-<run id>.json.
func (l *Log) FileName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("run-%s-%s.json", l.report.StartedAt.Format("20060102T150405Z"), l.report.RunID)
}

// Write stores a finalized log in dir and returns its path. An existing log
// file is never overwritten: the log is written to a temp file and then
// hard-linked into place, which fails if the name is taken. Readers never
// see a partial log.
func (l *Log) Write(dir string) (string, error) {
	if !l.Finalized() {
		return "", ErrNotFinalized
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.NewIOError("create log dir", dir, err)
	}
	path := filepath.Join(dir, l.FileName())
	data, err := json.MarshalIndent(l.Report(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding run log: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".runlog-*.tmp")
	if err != nil {
		return "", apperrors.NewIOError("write", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", apperrors.NewIOError("write", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", apperrors.NewIOError("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", apperrors.NewIOError("write", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", apperrors.NewIOError("write", path, err)
	}
	if err := os.Link(tmp.Name(), path); err != nil {
		return "", apperrors.NewIOError("write", path, err)
	}
	return path, nil
}

// ReadFile loads a report written by Write.
func ReadFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewIOError("read", path, err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding run log %s: %w", path, err)
	}
	return &r, nil
}

// List returns the run log files in dir, newest first.
func List(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "run-*.json"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	slices.Reverse(paths)
	return paths, nil
}
