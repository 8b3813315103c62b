// Package query answers read-only lookups against the published catalog
// index. The current snapshot is held behind an atomic pointer; every call
// reads the pointer once, so a concurrent swap is seen either entirely or
// not at all.
package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/runlog"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/metrics"
)

// Loader reads the canonical index. A nil index with a nil error means no
// snapshot has been published yet.
type Loader interface {
	Load() (*catalog.Index, error)
}

// Page is one page of a List result. Page numbers start at 1.
type Page struct {
	Count       int              `json:"count"`
	Page        int              `json:"page"`
	PageSize    int              `json:"page_size"`
	HasNext     bool             `json:"has_next"`
	HasPrevious bool             `json:"has_previous"`
	Results     []catalog.Record `json:"results"`
}

// Status describes the snapshot currently served.
type Status struct {
	Initialized bool      `json:"initialized"`
	Generation  uint64    `json:"generation"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Records     int       `json:"records"`
	RunID       string    `json:"run_id,omitempty"`
	GeneratedAt time.Time `json:"generated_at,omitempty"`
	LoadedAt    time.Time `json:"loaded_at,omitempty"`
}

// view is an immutable snapshot plus precomputed orderings.
type view struct {
	idx        *catalog.Index
	ascending  []int
	popular    []int
	generation  uint64
	fingerprint string
	loadedAt    time.Time
}

// Service serves one catalog index at a time.
type Service struct {
	loader   Loader
	pageSize int
	metrics  *metrics.Metrics
	logger   *slog.Logger

	current    atomic.Pointer[view]
	generation atomic.Uint64
}

// Option configures a Service.
type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates an uninitialized Service. Call Load or Swap to serve an index.
func New(loader Loader, pageSize int, opts ...Option) *Service {
	if pageSize <= 0 {
		pageSize = 32
	}
	s := &Service{
		loader:   loader,
		pageSize: pageSize,
		logger:   slog.Default().With("component", "query-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PageSize returns the fixed page size.
func (s *Service) PageSize() int {
	return s.pageSize
}

// Load reads the canonical index and serves it. A missing index leaves the
// service in its current state and is not an error.
func (s *Service) Load() error {
	idx, err := s.loader.Load()
	if err != nil {
		return err
	}
	if idx == nil {
		s.logger.Info("no published index yet, serving uninitialized")
		return nil
	}
	s.Swap(idx)
	return nil
}

// Swap replaces the served index. idx must not be mutated afterwards.
func (s *Service) Swap(idx *catalog.Index) {
	if idx == nil {
		return
	}
	ascending := idx.IDs()
	popular := append([]int(nil), ascending...)
	sort.SliceStable(popular, func(i, j int) bool {
		return idx.Records[popular[i]].DownloadCount > idx.Records[popular[j]].DownloadCount
	})
	v := &view{
		idx:         idx,
		ascending:   ascending,
		popular:     popular,
		generation:  s.generation.Add(1),
		fingerprint: fingerprint(idx),
		loadedAt:    time.Now().UTC(),
	}
	s.current.Store(v)
	s.metrics.SnapshotPublished(idx.Len(), idx.Metadata.GeneratedAt)
	s.logger.Info("index swapped",
		"generation", v.generation,
		"fingerprint", v.fingerprint,
		"records", idx.Len(),
		"run_id", idx.Metadata.RunID,
	)
}

// RunCompleted serves the index of a successful ingestion run, letting the
// Service act as an in-process pipeline notifier.
func (s *Service) RunCompleted(_ context.Context, _ runlog.Report, idx *catalog.Index) {
	s.Swap(idx)
}

// fingerprint is a digest of the canonical encoding of idx. Identical
// snapshots share a fingerprint in every process.
func fingerprint(idx *catalog.Index) string {
	h := sha256.New()
	if err := catalog.EncodeIndex(h, idx); err != nil {
		// Unencodable indexes never share cache entries.
		return "unencoded-" + idx.Metadata.RunID + "-" + time.Now().Format(time.RFC3339Nano)
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Snapshot pins the currently served index so that several reads, and any
// cache key derived from Fingerprint, refer to the same data.
type Snapshot struct {
	s *Service
	v *view
}

// Snapshot returns the served snapshot, or ErrUninitialized.
func (s *Service) Snapshot() (*Snapshot, error) {
	v := s.current.Load()
	if v == nil {
		return nil, apperrors.ErrUninitialized
	}
	return &Snapshot{s: s, v: v}, nil
}

// Fingerprint identifies the snapshot's content independently of the
// process serving it.
func (sn *Snapshot) Fingerprint() string {
	return sn.v.fingerprint
}

// List is Service.List evaluated against this snapshot.
func (sn *Snapshot) List(f Filter, page int) (*Page, error) {
	return sn.s.list(sn.v, f, page)
}

// Generation counts swaps within this process; it changes on every Swap.
func (s *Service) Generation() uint64 {
	if v := s.current.Load(); v != nil {
		return v.generation
	}
	return 0
}

// Get returns a copy of the record with the given catalog ID.
func (s *Service) Get(id int) (catalog.Record, error) {
	start := time.Now()
	v := s.current.Load()
	if v == nil {
		s.metrics.ObserveQuery("get", "uninitialized", time.Since(start))
		return catalog.Record{}, apperrors.ErrUninitialized
	}
	rec, ok := v.idx.Records[id]
	if !ok {
		s.metrics.ObserveQuery("get", "not_found", time.Since(start))
		return catalog.Record{}, apperrors.ErrNotFound
	}
	s.metrics.ObserveQuery("get", "ok", time.Since(start))
	return rec.Clone(), nil
}

// List returns page number page of the records matching f. A page past the
// end, or below 1, is an empty page rather than an error.
func (s *Service) List(f Filter, page int) (*Page, error) {
	return s.list(s.current.Load(), f, page)
}

func (s *Service) list(v *view, f Filter, page int) (*Page, error) {
	start := time.Now()
	if err := f.Validate(); err != nil {
		s.metrics.ObserveQuery("list", "invalid", time.Since(start))
		return nil, err
	}
	if v == nil {
		s.metrics.ObserveQuery("list", "uninitialized", time.Since(start))
		return nil, apperrors.ErrUninitialized
	}

	order := v.ascending
	if f.Sort == SortPopular {
		order = v.popular
	}
	m := compile(f)

	out := &Page{Page: page, PageSize: s.pageSize, Results: []catalog.Record{}}
	inRange := page >= 1 && page <= math.MaxInt32
	first := 0
	if inRange {
		first = (page - 1) * s.pageSize
	}
	for i := range order {
		id := order[i]
		if f.Sort == SortDescending {
			id = order[len(order)-1-i]
		}
		rec := v.idx.Records[id]
		if !m.match(rec) {
			continue
		}
		if inRange && out.Count >= first && out.Count < first+s.pageSize {
			out.Results = append(out.Results, rec.Clone())
		}
		out.Count++
	}
	if inRange {
		out.HasNext = page*s.pageSize < out.Count
		out.HasPrevious = page > 1 && first-s.pageSize < out.Count
	}
	s.metrics.ObserveQuery("list", "ok", time.Since(start))
	return out, nil
}

// Status describes the served snapshot.
func (s *Service) Status() Status {
	v := s.current.Load()
	if v == nil {
		return Status{}
	}
	return Status{
		Initialized: true,
		Generation:  v.generation,
		Fingerprint: v.fingerprint,
		Records:     v.idx.Len(),
		RunID:       v.idx.Metadata.RunID,
		GeneratedAt: v.idx.Metadata.GeneratedAt,
		LoadedAt:    v.loadedAt,
	}
}
