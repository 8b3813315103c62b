package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/runlog"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/errors"
)

func rdf(id int, title string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<rdf:RDF
  xmlns:dcterms="http://purl.org/dc/terms/"
  xmlns:pgterms="http://www.gutenberg.org/2009/pgterms/"
  xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <pgterms:ebook rdf:about="ebooks/%d">
    <dcterms:title>%s</dcterms:title>
    <dcterms:language><rdf:Description><rdf:value>en</rdf:value></rdf:Description></dcterms:language>
  </pgterms:ebook>
</rdf:RDF>
`, id, title)
}

type layout struct {
	root   string
	source string
	cfg    Config
}

func newLayout(t *testing.T) layout {
	t.Helper()
	root := t.TempDir()
	l := layout{root: root, source: filepath.Join(root, "rdf")}
	l.cfg = Config{
		SourceDir:    l.source,
		IndexPath:    filepath.Join(root, "index.json"),
		LogDir:       filepath.Join(root, "logs"),
		TempDir:      filepath.Join(root, "tmp"),
		Workers:      4,
		KeepPrevious: true,
	}
	if err := os.MkdirAll(l.source, 0o755); err != nil {
		t.Fatal(err)
	}
	return l
}

func (l layout) write(t *testing.T, rel, content string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(l.source, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
}

func (l layout) load(t *testing.T) *catalog.Index {
	t.Helper()
	p := New(l.cfg)
	idx, err := p.Store().Load()
	if err != nil {
		t.Fatalf("loading canonical index: %v", err)
	}
	return idx
}

func clockAt(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestRunFullWithOneCorruptFile(t *testing.T) {
	l := newLayout(t)
	const n = 5
	for i := 1; i <= n; i++ {
		l.write(t, fmt.Sprintf("%d/pg%d.rdf", i, i), rdf(i, fmt.Sprintf("Book %d", i)), time.Time{})
	}
	l.write(t, "broken/pg99.rdf", "<rdf:RDF><pgterms:ebook", time.Time{})
	l.write(t, "notes.txt", "ignored", time.Time{})

	var notified []runlog.Report
	p := New(l.cfg, WithNotifier(NotifierFunc(func(_ context.Context, r runlog.Report, idx *catalog.Index) {
		if idx == nil {
			t.Error("notifier got nil index for a published run")
		}
		notified = append(notified, r)
	})))

	report, err := p.Run(context.Background(), ModeFull)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := runlog.Counts{Scanned: n + 1, Parsed: n, Failed: 1, Records: n}
	if diff := cmp.Diff(want, report.Counts); diff != "" {
		t.Errorf("counts (-want +got):\n%s", diff)
	}
	if report.Outcome != runlog.OutcomePublished {
		t.Errorf("outcome = %q", report.Outcome)
	}

	var failed []string
	for _, e := range report.Entries {
		if e.Status == runlog.StatusFailed {
			failed = append(failed, e.File)
		}
	}
	if diff := cmp.Diff([]string{"broken/pg99.rdf"}, failed); diff != "" {
		t.Errorf("failed entries (-want +got):\n%s", diff)
	}

	idx := l.load(t)
	if idx.Len() != n {
		t.Errorf("published %d records, want %d", idx.Len(), n)
	}
	if idx.Metadata.ParseErrorCount != 1 || idx.Metadata.SourceFileCount != n+1 {
		t.Errorf("metadata = %+v", idx.Metadata)
	}
	if idx.Metadata.RunID != report.RunID {
		t.Errorf("index run id %q, report run id %q", idx.Metadata.RunID, report.RunID)
	}
	if len(notified) != 1 {
		t.Errorf("notified %d times", len(notified))
	}
	if p.State() != StateIdle {
		t.Errorf("state = %v, want idle", p.State())
	}

	logs, err := runlog.List(l.cfg.LogDir)
	if err != nil || len(logs) != 1 {
		t.Fatalf("run logs = %v, %v", logs, err)
	}
	if entries, _ := os.ReadDir(l.cfg.TempDir); len(entries) != 0 {
		t.Errorf("temp dir not cleaned: %v", entries)
	}
}

func TestRunInvalidRecordIsPerFileFailure(t *testing.T) {
	l := newLayout(t)
	for i := 1; i <= 3; i++ {
		l.write(t, fmt.Sprintf("pg%d.rdf", i), rdf(i, fmt.Sprintf("Book %d", i)), time.Time{})
	}
	l.write(t, "pg9.rdf", rdf(9, strings.Repeat("x", 5000)), time.Time{})

	report, err := New(l.cfg).Run(context.Background(), ModeFull)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Outcome != runlog.OutcomePublished {
		t.Errorf("outcome = %q", report.Outcome)
	}
	want := runlog.Counts{Scanned: 4, Parsed: 3, Failed: 1, Records: 3}
	if diff := cmp.Diff(want, report.Counts); diff != "" {
		t.Errorf("counts (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, l.load(t).IDs()); diff != "" {
		t.Errorf("IDs (-want +got):\n%s", diff)
	}
}

func TestRunIsDeterministicAcrossWorkerCounts(t *testing.T) {
	l := newLayout(t)
	for i := 1; i <= 30; i++ {
		l.write(t, fmt.Sprintf("pg%02d.rdf", i), rdf(i%11+1, fmt.Sprintf("Copy %d", i)), time.Time{})
	}
	var first *catalog.Index
	for _, workers := range []int{1, 8} {
		cfg := l.cfg
		cfg.Workers = workers
		if _, err := New(cfg, WithClock(clockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))).Run(context.Background(), ModeFull); err != nil {
			t.Fatal(err)
		}
		idx := l.load(t)
		if first == nil {
			first = idx
			continue
		}
		if diff := cmp.Diff(first.Records, idx.Records); diff != "" {
			t.Errorf("records differ between worker counts (-1 +8):\n%s", diff)
		}
	}
}

func TestRunBusy(t *testing.T) {
	l := newLayout(t)
	l.write(t, "pg1.rdf", rdf(1, "One"), time.Time{})

	var p *Pipeline
	var busyErr error
	var busyReport *runlog.Report
	p = New(l.cfg, WithNotifier(NotifierFunc(func(ctx context.Context, _ runlog.Report, _ *catalog.Index) {
		busyReport, busyErr = p.Run(ctx, ModeFull)
	})))
	if _, err := p.Run(context.Background(), ModeFull); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(busyErr, apperrors.ErrBusy) {
		t.Errorf("overlapping run returned %v, want ErrBusy", busyErr)
	}
	if busyReport != nil {
		t.Error("rejected run produced a report")
	}
	if _, err := p.Run(context.Background(), ModeFull); err != nil {
		t.Errorf("run after completion = %v", err)
	}
}

func TestRunConcurrentCallsOneWins(t *testing.T) {
	l := newLayout(t)
	for i := 1; i <= 20; i++ {
		l.write(t, fmt.Sprintf("pg%d.rdf", i), rdf(i, "t"), time.Time{})
	}
	p := New(l.cfg)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Run(context.Background(), ModeFull)
		}(i)
	}
	wg.Wait()
	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, apperrors.ErrBusy):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok < 1 {
		t.Error("no run succeeded")
	}
}

func TestRunMissingSourceDirLeavesCanonical(t *testing.T) {
	l := newLayout(t)
	l.write(t, "pg1.rdf", rdf(1, "One"), time.Time{})
	p := New(l.cfg)
	first, err := p.Run(context.Background(), ModeFull)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.RemoveAll(l.source); err != nil {
		t.Fatal(err)
	}
	var notifiedNil bool
	p = New(l.cfg, WithNotifier(NotifierFunc(func(_ context.Context, _ runlog.Report, idx *catalog.Index) {
		notifiedNil = idx == nil
	})))
	report, err := p.Run(context.Background(), ModeFull)
	if !errors.Is(err, apperrors.ErrIO) {
		t.Fatalf("got %v, want ErrIO", err)
	}
	if report == nil || report.Outcome != runlog.OutcomeFailed || report.FailedState != "scanning" {
		t.Errorf("report = %+v", report)
	}
	if p.State() != StateFailed {
		t.Errorf("state = %v, want failed", p.State())
	}
	if !notifiedNil {
		t.Error("failed run not notified with nil index")
	}
	if idx := l.load(t); idx.Metadata.RunID != first.RunID {
		t.Errorf("canonical index replaced by failed run")
	}
}

func TestRunCancelledDoesNotPublish(t *testing.T) {
	l := newLayout(t)
	l.write(t, "pg1.rdf", rdf(1, "One"), time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(l.cfg).Run(ctx, ModeFull)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if _, statErr := os.Stat(l.cfg.IndexPath); !os.IsNotExist(statErr) {
		t.Error("cancelled run published an index")
	}
}

func TestRunEmptySourcePublishesEmptyIndex(t *testing.T) {
	l := newLayout(t)
	report, err := New(l.cfg).Run(context.Background(), ModeFull)
	if err != nil {
		t.Fatal(err)
	}
	if report.Counts.Records != 0 {
		t.Errorf("records = %d", report.Counts.Records)
	}
	if idx := l.load(t); idx == nil || idx.Len() != 0 {
		t.Errorf("index = %v, want empty published index", idx)
	}
}

func TestRunDelta(t *testing.T) {
	l := newLayout(t)
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	old := t0.Add(-time.Hour)
	l.write(t, "pg1.rdf", rdf(1, "One"), old)
	l.write(t, "pg2.rdf", rdf(2, "Two"), old)
	l.write(t, "pg3.rdf", rdf(3, "Three"), old)

	if _, err := New(l.cfg, WithClock(clockAt(t0))).Run(context.Background(), ModeFull); err != nil {
		t.Fatal(err)
	}

	later := t0.Add(time.Hour)
	l.write(t, "pg2.rdf", rdf(2, "Two, revised"), later)
	l.write(t, "pg3.rdf", "<truncated", later)
	l.write(t, "pg4.rdf", rdf(4, "Four"), later)
	if err := os.Remove(filepath.Join(l.source, "pg1.rdf")); err != nil {
		t.Fatal(err)
	}

	report, err := New(l.cfg, WithClock(clockAt(later.Add(time.Minute)))).Run(context.Background(), ModeDelta)
	if err != nil {
		t.Fatalf("delta run: %v", err)
	}
	if report.Counts.Scanned != 3 || report.Counts.Parsed != 2 || report.Counts.Failed != 1 {
		t.Errorf("counts = %+v", report.Counts)
	}

	idx := l.load(t)
	if idx.Metadata.Mode != catalog.ModeIncremental {
		t.Errorf("mode = %q", idx.Metadata.Mode)
	}
	if diff := cmp.Diff([]int{2, 3, 4}, idx.IDs()); diff != "" {
		t.Errorf("IDs (-want +got):\n%s", diff)
	}
	if got := idx.Records[2].Title; got != "Two, revised" {
		t.Errorf("record 2 title = %q", got)
	}
	if got := idx.Records[3].Title; got != "Three" {
		t.Errorf("record 3 should keep its prior version, got %q", got)
	}
}

func TestRunDeltaKeepsFullBuildDuplicateWinner(t *testing.T) {
	l := newLayout(t)
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.write(t, "a.rdf", rdf(5, "From A"), t0.Add(-time.Hour))
	l.write(t, "b.rdf", rdf(5, "From B"), t0.Add(-time.Hour))

	if _, err := New(l.cfg, WithClock(clockAt(t0))).Run(context.Background(), ModeFull); err != nil {
		t.Fatal(err)
	}
	if got := l.load(t).Records[5].Title; got != "From B" {
		t.Fatalf("full run winner = %q", got)
	}

	later := t0.Add(time.Hour)
	l.write(t, "a.rdf", rdf(5, "From A"), later)
	if _, err := New(l.cfg, WithClock(clockAt(later.Add(time.Minute)))).Run(context.Background(), ModeDelta); err != nil {
		t.Fatal(err)
	}
	if got := l.load(t).Records[5].Title; got != "From B" {
		t.Errorf("delta run winner = %q, want %q", got, "From B")
	}
}

func TestRunDeltaPicksUpFilesWithOldMtimes(t *testing.T) {
	l := newLayout(t)
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	old := t0.Add(-24 * time.Hour)
	l.write(t, "pg1.rdf", rdf(1, "One"), old)

	if _, err := New(l.cfg, WithClock(clockAt(t0))).Run(context.Background(), ModeFull); err != nil {
		t.Fatal(err)
	}

	// A rename and a copied-in file both keep mtimes older than the prior scan.
	if err := os.Rename(filepath.Join(l.source, "pg1.rdf"), filepath.Join(l.source, "pg1-renamed.rdf")); err != nil {
		t.Fatal(err)
	}
	l.write(t, "pg2.rdf", rdf(2, "Two"), old)

	report, err := New(l.cfg, WithClock(clockAt(t0.Add(time.Hour)))).Run(context.Background(), ModeDelta)
	if err != nil {
		t.Fatal(err)
	}
	if report.Counts.Parsed != 2 {
		t.Errorf("counts = %+v, want both files parsed", report.Counts)
	}
	idx := l.load(t)
	if diff := cmp.Diff([]int{1, 2}, idx.IDs()); diff != "" {
		t.Errorf("IDs (-want +got):\n%s", diff)
	}
	if got := idx.Records[1].Source; got != "pg1-renamed.rdf" {
		t.Errorf("record 1 source = %q", got)
	}
}

func TestRunDeltaWithoutPriorIsFull(t *testing.T) {
	l := newLayout(t)
	l.write(t, "pg1.rdf", rdf(1, "One"), time.Time{})
	if _, err := New(l.cfg).Run(context.Background(), ModeDelta); err != nil {
		t.Fatal(err)
	}
	if idx := l.load(t); idx.Metadata.Mode != catalog.ModeFull || idx.Len() != 1 {
		t.Errorf("metadata = %+v, len %d", idx.Metadata, idx.Len())
	}
}

func TestRollback(t *testing.T) {
	l := newLayout(t)
	l.write(t, "pg1.rdf", rdf(1, "One"), time.Time{})
	p := New(l.cfg)
	if _, err := p.Rollback(context.Background()); err == nil {
		t.Fatal("rollback without previous snapshot succeeded")
	}
	first, err := p.Run(context.Background(), ModeFull)
	if err != nil {
		t.Fatal(err)
	}
	l.write(t, "pg2.rdf", rdf(2, "Two"), time.Time{})
	if _, err := p.Run(context.Background(), ModeFull); err != nil {
		t.Fatal(err)
	}

	var restored *catalog.Index
	p = New(l.cfg, WithNotifier(NotifierFunc(func(_ context.Context, r runlog.Report, idx *catalog.Index) {
		if r.Mode == "rollback" {
			restored = idx
		}
	})))
	idx, err := p.Rollback(context.Background())
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if idx.Metadata.RunID != first.RunID || idx.Len() != 1 {
		t.Errorf("restored run %q with %d records", idx.Metadata.RunID, idx.Len())
	}
	if restored == nil {
		t.Error("rollback not notified")
	}
	if cur := l.load(t); cur.Metadata.RunID != first.RunID {
		t.Errorf("canonical run %q after rollback", cur.Metadata.RunID)
	}
}

func TestScanSkipsOutputs(t *testing.T) {
	l := newLayout(t)
	l.cfg.SourceDir = l.root
	l.cfg.Pattern = "*.json"
	l.write(t, "pg1.rdf", rdf(1, "One"), time.Time{})

	p := New(l.cfg)
	if _, err := p.Run(context.Background(), ModeFull); err != nil {
		t.Fatal(err)
	}
	report, err := p.Run(context.Background(), ModeFull)
	if err != nil {
		t.Fatal(err)
	}
	// The index, its .prev and the run logs all match *.json but live in
	// output locations.
	if report.Counts.Scanned != 0 {
		for _, e := range report.Entries {
			t.Logf("scanned %s", e.File)
		}
		t.Errorf("scanned %d output files", report.Counts.Scanned)
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"full", "delta"} {
		if m, ok := ParseMode(s); !ok || string(m) != s {
			t.Errorf("ParseMode(%q) = %q, %v", s, m, ok)
		}
	}
	if _, ok := ParseMode("FULL"); ok {
		t.Error("ParseMode accepted FULL")
	}
}
