package runlog

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/errors"
)

var start = time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)

func TestAppendCounts(t *testing.T) {
	l := New("abc", "full", start)
	l.SetScanned(3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := StatusOK
			if i == 0 {
				status = StatusFailed
			}
			if err := l.Append(Entry{File: "f", Status: status}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	want := Counts{Scanned: 3, Parsed: 2, Failed: 1}
	if diff := cmp.Diff(want, l.Report().Counts); diff != "" {
		t.Errorf("counts (-want +got):\n%s", diff)
	}
	if l.ParseErrors() != 1 {
		t.Errorf("ParseErrors = %d", l.ParseErrors())
	}
}

func TestFinalizeFreezesLog(t *testing.T) {
	l := New("abc", "full", start)
	if err := l.Finalize(start.Add(time.Minute), 10, nil, "", nil); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(Entry{File: "late.rdf", Status: StatusOK}); !errors.Is(err, ErrFinalized) {
		t.Errorf("Append after Finalize = %v, want ErrFinalized", err)
	}
	if err := l.Finalize(start, 0, nil, "", nil); !errors.Is(err, ErrFinalized) {
		t.Errorf("second Finalize = %v, want ErrFinalized", err)
	}
	l.SetScanned(99)
	r := l.Report()
	if r.Counts.Scanned != 0 || len(r.Entries) != 0 {
		t.Errorf("finalized log changed: %+v", r)
	}
	if r.Outcome != OutcomePublished || r.Counts.Records != 10 {
		t.Errorf("report = %+v", r)
	}
}

func TestFinalizeFailure(t *testing.T) {
	l := New("abc", "delta", start)
	err := l.Finalize(start, 0, nil, "Merging", errors.New("boom"))
	if err != nil {
		t.Fatal(err)
	}
	r := l.Report()
	if r.Outcome != OutcomeFailed || r.FailedState != "Merging" || r.Error != "boom" {
		t.Errorf("report = %+v", r)
	}
}

func TestWriteRequiresFinalize(t *testing.T) {
	l := New("abc", "full", start)
	if _, err := l.Write(t.TempDir()); !errors.Is(err, ErrNotFinalized) {
		t.Fatalf("got %v, want ErrNotFinalized", err)
	}
}

func TestWriteReadAndNoOverwrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l := New("abc", "full", start)
	_ = l.Append(Entry{File: "pg1.rdf", Status: StatusOK, CatalogID: 1,
		Warnings: []catalog.Warning{{Source: "pg1.rdf", CatalogID: 1, Message: "missing language"}}})
	_ = l.Append(Entry{File: "bad.rdf", Status: StatusFailed, Reason: "malformed document"})
	_ = l.Finalize(start.Add(2*time.Second), 1, nil, "", nil)

	path, err := l.Write(dir)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Base(path) != "run-20250402T080000Z-abc.json" {
		t.Errorf("file name = %q", filepath.Base(path))
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if diff := cmp.Diff(l.Report(), *got); diff != "" {
		t.Errorf("read back (-want +got):\n%s", diff)
	}

	_, err = l.Write(dir)
	if !errors.Is(err, fs.ErrExist) || !errors.Is(err, apperrors.ErrIO) {
		t.Errorf("second Write = %v, want ErrIO wrapping ErrExist", err)
	}
}

func TestWriteConcurrentSameNameOneWins(t *testing.T) {
	dir := t.TempDir()
	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l := New("same", "full", start)
			_ = l.Finalize(start, i, nil, "", nil)
			_, errs[i] = l.Write(dir)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, fs.ErrExist):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("%d writers succeeded, want 1", ok)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("log dir holds %d entries, want only the log", len(entries))
	}
}

func TestWriteKeepsExistingFile(t *testing.T) {
	dir := t.TempDir()
	l := New("abc", "full", start)
	_ = l.Finalize(start, 0, nil, "", nil)
	path := filepath.Join(dir, l.FileName())
	if err := os.WriteFile(path, []byte("earlier"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Write(dir); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("got %v, want ErrExist", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "earlier" {
		t.Errorf("existing log replaced with %q", data)
	}
}

func TestListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	for i, id := range []string{"a", "b", "c"} {
		l := New(id, "full", start.Add(time.Duration(i)*time.Hour))
		_ = l.Finalize(start, 0, nil, "", nil)
		if _, err := l.Write(dir); err != nil {
			t.Fatal(err)
		}
	}
	paths, err := List(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	want := []string{
		"run-20250402T100000Z-c.json",
		"run-20250402T090000Z-b.json",
		"run-20250402T080000Z-a.json",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("List (-want +got):\n%s", diff)
	}
}
