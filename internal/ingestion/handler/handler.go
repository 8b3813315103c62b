// Package handler exposes run control for the ingestion service over HTTP:
// trigger a run, roll back the last publish and inspect the pipeline state.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/pipeline"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/runlog"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/logger"
)

type Handler struct {
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
}

func New(p *pipeline.Pipeline) *Handler {
	return &Handler{
		pipeline: p,
		logger:   slog.Default().With("component", "ingestion-handler"),
	}
}

// Register mounts the run-control routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /runs", h.Run)
	mux.HandleFunc("GET /runs/last", h.LastRun)
	mux.HandleFunc("POST /rollback", h.Rollback)
	mux.HandleFunc("GET /status", h.Status)
}

// Run performs one ingestion run and responds with its report. The mode
// query parameter selects full (default) or delta. A run already in progress
// yields 409.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	modeParam := r.URL.Query().Get("mode")
	if modeParam == "" {
		modeParam = string(pipeline.ModeFull)
	}
	mode, ok := pipeline.ParseMode(modeParam)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "mode must be full or delta")
		return
	}

	report, err := h.pipeline.Run(r.Context(), mode)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Error("ingestion run failed", "mode", mode, "error", err, "status_code", status)
		body := map[string]any{"error": err.Error()}
		if report != nil {
			body["report"] = summarize(*report)
		}
		h.writeJSON(w, status, body)
		return
	}
	log.Info("ingestion run finished via api", "run_id", report.RunID, "records", report.Counts.Records)
	h.writeJSON(w, http.StatusOK, summarize(*report))
}

func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	report := h.pipeline.LastRun()
	if report == nil {
		h.writeError(w, http.StatusNotFound, "no run has finished yet")
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	idx, err := h.pipeline.Rollback(r.Context())
	switch {
	case errors.Is(err, snapshot.ErrNoPrevious):
		h.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":       idx.Metadata.RunID,
		"records":      idx.Len(),
		"generated_at": idx.Metadata.GeneratedAt,
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"state": h.pipeline.State().String()}
	if last := h.pipeline.LastRun(); last != nil {
		body["last_run"] = summarize(*last)
	}
	h.writeJSON(w, http.StatusOK, body)
}

// runSummary is a report without per-file entries.
type runSummary struct {
	RunID       string         `json:"run_id"`
	Mode        string         `json:"mode"`
	Outcome     runlog.Outcome `json:"outcome"`
	FailedState string         `json:"failed_state,omitempty"`
	Error       string         `json:"error,omitempty"`
	Counts      runlog.Counts  `json:"counts"`
	Warnings    int            `json:"build_warnings"`
}

func summarize(r runlog.Report) runSummary {
	return runSummary{
		RunID:       r.RunID,
		Mode:        r.Mode,
		Outcome:     r.Outcome,
		FailedState: r.FailedState,
		Error:       r.Error,
		Counts:      r.Counts,
		Warnings:    len(r.BuildWarnings),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
