// Package handler exposes the query service over HTTP: it translates query
// parameters into query.Filter values and renders pages as JSON.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/searcher/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/logger"
)

type Handler struct {
	service *query.Service
	qcache  *cache.QueryCache
	logger  *slog.Logger
}

// New creates a Handler. queryCache may be nil to disable caching.
func New(service *query.Service, queryCache *cache.QueryCache) *Handler {
	return &Handler{
		service: service,
		qcache:  queryCache,
		logger:  slog.Default().With("component", "catalog-handler"),
	}
}

// Register adds the catalog routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /books", h.List)
	mux.HandleFunc("GET /books/{id}", h.Get)
	mux.HandleFunc("GET /status", h.Status)
	mux.HandleFunc("GET /cache/stats", h.CacheStats)
	mux.HandleFunc("POST /cache/invalidate", h.CacheInvalidate)
}

type listResponse struct {
	Count    int              `json:"count"`
	Next     *string          `json:"next"`
	Previous *string          `json:"previous"`
	Results  []catalog.Record `json:"results"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logger.FromContext(r.Context())

	filter, page, err := parseListParams(r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := filter.Validate(); err != nil {
		h.writeError(w, err)
		return
	}

	var result *query.Page
	cacheHit := false
	snap, err := h.service.Snapshot()
	if err == nil {
		if h.qcache != nil {
			key := cache.Key(snap.Fingerprint(), filter, page)
			result, cacheHit, err = h.qcache.GetOrCompute(r.Context(), key, func() (*query.Page, error) {
				return snap.List(filter, page)
			})
		} else {
			result, err = snap.List(filter, page)
		}
	}
	if err != nil {
		if !errors.Is(err, apperrors.ErrUninitialized) {
			log.Error("list failed", "error", err)
		}
		h.writeError(w, err)
		return
	}

	log.Debug("list completed",
		"count", result.Count,
		"page", page,
		"returned", len(result.Results),
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	resp := listResponse{Count: result.Count, Results: result.Results}
	if result.HasNext {
		resp.Next = pageURL(r, page+1)
	}
	if result.HasPrevious {
		resp.Previous = pageURL(r, page-1)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "id must be a positive integer"))
		return
	}
	rec, err := h.service.Get(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Status())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.qcache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.qcache.Stats()
	h.writeJSON(w, http.StatusOK, map[string]int64{
		"hits":   hits,
		"misses": misses,
		"total":  hits + misses,
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.qcache == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "caching is disabled"})
		return
	}
	if err := h.qcache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cache invalidation failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// parseListParams maps query parameters onto a Filter:
// languages, topic, author, search, ids, mime_type, author_year_start,
// author_year_end, copyright, sort and page.
func parseListParams(q url.Values) (query.Filter, int, error) {
	f := query.Filter{
		Languages: splitComma(q.Get("languages")),
		Subject:   q.Get("topic"),
		Author:    q.Get("author"),
		Search:    q.Get("search"),
		MimeType:  q.Get("mime_type"),
		Sort:      query.Sort(q.Get("sort")),
	}
	for _, s := range splitComma(q.Get("ids")) {
		id, err := strconv.Atoi(s)
		if err != nil {
			return f, 0, invalid("ids must be comma-separated integers")
		}
		f.IDs = append(f.IDs, id)
	}
	var err error
	if f.AuthorYearStart, err = optionalInt(q, "author_year_start"); err != nil {
		return f, 0, err
	}
	if f.AuthorYearEnd, err = optionalInt(q, "author_year_end"); err != nil {
		return f, 0, err
	}
	if v := q.Get("copyright"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, 0, invalid("copyright must be true or false")
		}
		f.Copyright = &b
	}
	page := 1
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, 0, invalid("page must be an integer")
		}
		page = n
	}
	return f, page, nil
}

func optionalInt(q url.Values, name string) (*int, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, invalid(name + " must be an integer")
	}
	return &n, nil
}

func invalid(msg string) error {
	return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, msg)
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func pageURL(r *http.Request, page int) *string {
	u := *r.URL
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	s := u.RequestURI()
	return &s
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	h.writeJSON(w, status, map[string]string{"error": msg})
}
