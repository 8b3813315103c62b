// Package pipeline orchestrates an ingestion run: it scans the source
// directory, parses files in parallel, merges the records into an index,
// publishes the snapshot atomically and writes the run log. Only one run may
// be active at a time; a concurrent request fails with ErrBusy.
package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/parser"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/runlog"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/tracing"
)

// Config holds the paths and limits a Pipeline works with.
type Config struct {
	SourceDir     string
	IndexPath     string
	LogDir        string
	TempDir       string
	Pattern       string
	Workers       int
	MaxRecordSize int64
	KeepPrevious  bool
}

// ConfigFrom extracts the pipeline settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		SourceDir:     cfg.Catalog.SourceDir,
		IndexPath:     cfg.Catalog.IndexPath,
		LogDir:        cfg.Catalog.LogDir,
		TempDir:       cfg.Catalog.TempDir,
		Pattern:       cfg.Ingestion.SourcePattern,
		Workers:       cfg.Ingestion.Workers,
		MaxRecordSize: cfg.Ingestion.MaxRecordBytes(),
		KeepPrevious:  cfg.Ingestion.KeepPrevious,
	}
}

// Notifier is told about every finished run. idx is the published index, or
// nil when the run failed. Implementations handle their own errors.
type Notifier interface {
	RunCompleted(ctx context.Context, report runlog.Report, idx *catalog.Index)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, report runlog.Report, idx *catalog.Index)

func (f NotifierFunc) RunCompleted(ctx context.Context, report runlog.Report, idx *catalog.Index) {
	f(ctx, report, idx)
}

// Pipeline runs ingestion against one catalog layout.
type Pipeline struct {
	cfg       Config
	parser    *parser.Parser
	store     *snapshot.Store
	notifiers []Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	running atomic.Bool
	state   stateHolder

	mu   sync.Mutex
	last *runlog.Report
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNotifier adds a Notifier called after every run.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifiers = append(p.notifiers, n) }
}

// WithMetrics records run and parse metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(cfg Config, opts ...Option) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Pattern == "" {
		cfg.Pattern = "*.rdf"
	}
	p := &Pipeline{
		cfg:    cfg,
		parser: parser.New(cfg.MaxRecordSize),
		store:  snapshot.NewStore(cfg.IndexPath, cfg.KeepPrevious),
		logger: slog.Default().With("component", "ingestion-pipeline"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current phase.
func (p *Pipeline) State() State {
	return p.state.load()
}

// LastRun returns the report of the most recent finished run, or nil.
func (p *Pipeline) LastRun() *runlog.Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	r := *p.last
	return &r
}

// Store exposes the snapshot store the pipeline publishes to.
func (p *Pipeline) Store() *snapshot.Store {
	return p.store
}

// Run executes one ingestion run. Per-file parse failures are recorded in the
// returned report; only fatal failures are returned as an error, in which
// case the canonical index is left untouched. The report is nil only when
// the run was rejected with ErrBusy.
func (p *Pipeline) Run(ctx context.Context, mode Mode) (*runlog.Report, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, apperrors.ErrBusy
	}
	defer p.running.Store(false)

	r := &run{
		p:         p,
		id:        newRunID(),
		mode:      mode,
		startedAt: p.now(),
	}
	r.runDir = filepath.Join(p.cfg.TempDir, "run-"+r.id)
	r.log = runlog.New(r.id, string(mode), r.startedAt)
	r.logger = p.logger.With("run_id", r.id)

	ctx, span := tracing.StartSpan(ctx, "ingestion.run", r.id)
	span.SetAttr("mode", string(mode))
	r.logger.Info("ingestion run started", "mode", mode, "source_dir", p.cfg.SourceDir)

	idx, runErr := r.execute(ctx)

	failedState := ""
	records := 0
	if runErr != nil {
		failedState = p.state.load().String()
		p.state.store(StateFailed)
		idx = nil
	} else {
		records = idx.Len()
	}
	if err := os.RemoveAll(r.runDir); err != nil {
		r.logger.Warn("failed to remove run directory", "dir", r.runDir, "error", err)
	}
	_ = r.log.Finalize(p.now(), records, r.buildWarnings, failedState, runErr)
	if path, err := r.log.Write(p.cfg.LogDir); err != nil {
		r.logger.Error("failed to write run log", "error", err)
	} else {
		r.logger.Debug("run log written", "path", path)
	}

	span.SetAttr("records", records)
	span.End()
	span.Log(r.logger)

	report := r.log.Report()
	status := string(report.Outcome)
	p.metrics.ObserveRun(status, span.Duration)
	if idx != nil {
		p.metrics.SnapshotPublished(idx.Len(), idx.Metadata.GeneratedAt)
	}

	p.mu.Lock()
	p.last = &report
	p.mu.Unlock()

	notifyCtx := context.WithoutCancel(ctx)
	for _, n := range p.notifiers {
		n.RunCompleted(notifyCtx, report, idx)
	}

	if runErr != nil {
		r.logger.Error("ingestion run failed",
			"state", failedState,
			"parsed", report.Counts.Parsed,
			"failed", report.Counts.Failed,
			"duration", span.Duration,
			"error", runErr,
		)
		return &report, runErr
	}
	p.state.store(StateIdle)
	r.logger.Info("ingestion run completed",
		"records", records,
		"scanned", report.Counts.Scanned,
		"parsed", report.Counts.Parsed,
		"failed", report.Counts.Failed,
		"duration", span.Duration,
	)
	return &report, nil
}

// Rollback restores the previously published snapshot and notifies as if a
// run had published it.
func (p *Pipeline) Rollback(ctx context.Context) (*catalog.Index, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, apperrors.ErrBusy
	}
	defer p.running.Store(false)

	idx, err := p.store.Rollback()
	if err != nil {
		return nil, err
	}
	now := p.now()
	log := runlog.New(newRunID(), "rollback", now)
	_ = log.Finalize(now, idx.Len(), nil, "", nil)
	if _, err := log.Write(p.cfg.LogDir); err != nil {
		p.logger.Error("failed to write rollback log", "error", err)
	}
	report := log.Report()
	p.mu.Lock()
	p.last = &report
	p.mu.Unlock()
	p.metrics.SnapshotPublished(idx.Len(), idx.Metadata.GeneratedAt)
	for _, n := range p.notifiers {
		n.RunCompleted(context.WithoutCancel(ctx), report, idx)
	}
	p.state.store(StateIdle)
	return idx, nil
}

type sourceFile struct {
	rel     string
	path    string
	modTime time.Time
}

type outcome struct {
	file   sourceFile
	result *parser.Result
	err    error
}

// run carries the state of one Run call.
type run struct {
	p         *Pipeline
	id        string
	mode      Mode
	startedAt time.Time
	runDir    string
	log       *runlog.Log
	logger    *slog.Logger

	buildWarnings []catalog.Warning
}

func (r *run) execute(ctx context.Context) (*catalog.Index, error) {
	p := r.p

	p.state.store(StateScanning)
	scanCtx, scanSpan := tracing.StartChildSpan(ctx, "scan")
	scanStartedAt := p.now()
	files, err := r.scan(scanCtx)
	if err != nil {
		scanSpan.End()
		return nil, err
	}
	prior, err := r.loadPrior()
	if err != nil {
		scanSpan.End()
		return nil, err
	}
	toParse := files
	if prior != nil {
		toParse = deltaCandidates(files, prior)
	}
	r.log.SetScanned(len(files))
	scanSpan.SetAttr("files", len(files))
	scanSpan.SetAttr("to_parse", len(toParse))
	scanSpan.End()

	p.state.store(StateParsing)
	parseCtx, parseSpan := tracing.StartChildSpan(ctx, "parse")
	outcomes, err := r.parse(parseCtx, toParse)
	parseSpan.End()
	if err != nil {
		return nil, err
	}

	p.state.store(StateMerging)
	_, mergeSpan := tracing.StartChildSpan(ctx, "merge")
	records := make([]*catalog.Record, 0, len(outcomes))
	changed := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.err == nil {
			records = append(records, o.result.Record)
			changed = append(changed, o.file.rel)
		}
	}
	opts := []indexer.Option{indexer.WithClock(p.now)}
	if prior != nil {
		present := make([]string, len(files))
		for i, f := range files {
			present[i] = f.rel
		}
		opts = append(opts, indexer.WithPrior(prior, changed, present))
	}
	idx, warnings, err := indexer.Build(records, opts...)
	if err != nil {
		mergeSpan.End()
		return nil, err
	}
	r.buildWarnings = warnings
	idx.Metadata.RunID = r.id
	idx.Metadata.ScanStartedAt = scanStartedAt.UTC()
	idx.Metadata.SourceFileCount = len(files)
	idx.Metadata.ParseErrorCount = r.log.ParseErrors()

	builtPath := filepath.Join(r.runDir, "index.json")
	size, err := snapshot.WriteTemp(builtPath, idx)
	mergeSpan.SetAttr("records", idx.Len())
	mergeSpan.SetAttr("warnings", len(warnings))
	mergeSpan.End()
	if err != nil {
		return nil, err
	}
	r.logger.Info("index built",
		"records", idx.Len(),
		"mode", idx.Metadata.Mode,
		"size", humanize.Bytes(uint64(size)),
		"duplicates", len(warnings),
	)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.state.store(StatePublishing)
	_, pubSpan := tracing.StartChildSpan(ctx, "publish")
	err = p.store.Publish(builtPath)
	pubSpan.End()
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// loadPrior returns the snapshot a delta run builds on, or nil for a full
// run. A delta run without a usable prior snapshot falls back to full.
func (r *run) loadPrior() (*catalog.Index, error) {
	if r.mode != ModeDelta {
		return nil, nil
	}
	prior, err := r.p.store.Load()
	switch {
	case errors.Is(err, apperrors.ErrIO):
		return nil, err
	case err != nil:
		r.logger.Warn("prior snapshot unreadable, running full rebuild", "error", err)
		return nil, nil
	case prior == nil:
		r.logger.Info("no prior snapshot, running full rebuild")
	}
	return prior, nil
}

// scan checks that the working directories are usable and lists matching
// source files in lexicographic order of their relative path.
func (r *run) scan(ctx context.Context) ([]sourceFile, error) {
	cfg := r.p.cfg
	for _, dir := range []string{cfg.TempDir, cfg.LogDir} {
		if err := ensureWritable(dir); err != nil {
			return nil, err
		}
	}
	info, err := os.Stat(cfg.SourceDir)
	if err != nil {
		return nil, apperrors.NewIOError("stat source dir", cfg.SourceDir, err)
	}
	if !info.IsDir() {
		return nil, apperrors.NewIOError("stat source dir", cfg.SourceDir, fmt.Errorf("not a directory"))
	}

	skipDirs := []string{absPath(cfg.TempDir), absPath(cfg.LogDir)}
	skipFiles := map[string]bool{
		absPath(cfg.IndexPath):                           true,
		absPath(cfg.IndexPath + snapshot.PreviousSuffix): true,
	}
	root := cfg.SourceDir
	var files []sourceFile
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return apperrors.NewIOError("scan", path, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root {
				abs := absPath(path)
				for _, skip := range skipDirs {
					if abs == skip {
						return filepath.SkipDir
					}
				}
			}
			return nil
		}
		if !d.Type().IsRegular() || skipFiles[absPath(path)] {
			return nil
		}
		if ok, _ := filepath.Match(cfg.Pattern, d.Name()); !ok {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return apperrors.NewIOError("stat", path, err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return apperrors.NewIOError("scan", path, err)
		}
		files = append(files, sourceFile{rel: filepath.ToSlash(rel), path: path, modTime: fi.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

// parse runs the parser over files with at most Workers in flight. Results
// are recorded in the run log in input order.
func (r *run) parse(ctx context.Context, files []sourceFile) ([]outcome, error) {
	results := make([]outcome, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.p.cfg.Workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := r.p.parser.ParseFile(f.path, f.rel)
			results[i] = outcome{file: f, result: res, err: err}
			r.p.metrics.FileParsed(err == nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, o := range results {
		entry := runlog.Entry{File: o.file.rel, Status: runlog.StatusOK}
		if o.err != nil {
			entry.Status = runlog.StatusFailed
			entry.Reason = o.err.Error()
			r.logger.Warn("file skipped", "file", o.file.rel, "error", o.err)
		} else {
			entry.CatalogID = o.result.Record.ID
			entry.Warnings = o.result.Warnings
		}
		if err := r.log.Append(entry); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// deltaCandidates selects the files a delta run re-parses: those modified
// since the prior scan started, plus those no prior record came from. The
// latter covers renamed or copied files that kept an old mtime, files that
// failed before, and files whose record lost a duplicate ID.
func deltaCandidates(files []sourceFile, prior *catalog.Index) []sourceFile {
	baseline := prior.Metadata.ScanStartedAt
	known := make(map[string]struct{}, len(prior.Records))
	for _, rec := range prior.Records {
		if rec != nil {
			known[rec.Source] = struct{}{}
		}
	}
	out := make([]sourceFile, 0, len(files))
	for _, f := range files {
		_, seen := known[f.rel]
		if !seen || !f.modTime.Before(baseline) {
			out = append(out, f)
		}
	}
	return out
}

// ensureWritable creates dir if needed and proves a file can be created in
// it.
func ensureWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.NewIOError("create dir", dir, err)
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return apperrors.NewIOError("write", dir, err)
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		return apperrors.NewIOError("remove", name, err)
	}
	return nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

func newRunID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
