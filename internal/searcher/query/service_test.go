package query

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/runlog"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/errors"
)

type staticLoader struct {
	idx *catalog.Index
	err error
}

func (l staticLoader) Load() (*catalog.Index, error) { return l.idx, l.err }

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func testIndex() *catalog.Index {
	idx := catalog.NewIndex()
	idx.Metadata.RunID = "run1"
	add := func(r *catalog.Record) { idx.Records[r.ID] = r }
	add(&catalog.Record{
		ID: 1342, Title: "Pride and Prejudice",
		Authors:   []catalog.Agent{{Name: "Austen, Jane", BirthYear: intPtr(1775), DeathYear: intPtr(1817)}},
		Languages: []string{"en"}, Subjects: []string{"England -- Fiction", "Sisters -- Fiction"},
		Bookshelves: []string{"Best Books Ever Listings"}, Copyright: boolPtr(false),
		Formats:       map[string]string{"text/html": "h", "application/epub+zip": "e"},
		DownloadCount: 50000,
	})
	add(&catalog.Record{
		ID: 84, Title: "Frankenstein; Or, The Modern Prometheus",
		Authors:   []catalog.Agent{{Name: "Shelley, Mary Wollstonecraft", BirthYear: intPtr(1797), DeathYear: intPtr(1851)}},
		Languages: []string{"en"}, Subjects: []string{"Science fiction"},
		Copyright: boolPtr(false), Formats: map[string]string{"text/plain": "p"},
		DownloadCount: 70000,
	})
	add(&catalog.Record{
		ID: 17989, Title: "Le comte de Monte-Cristo, Tome I",
		Authors:   []catalog.Agent{{Name: "Dumas, Alexandre", BirthYear: intPtr(1802), DeathYear: intPtr(1870)}},
		Languages: []string{"fr"}, Subjects: []string{"Adventure stories"},
		Copyright: boolPtr(false), Formats: map[string]string{"text/html": "h"},
		DownloadCount: 900,
	})
	add(&catalog.Record{
		ID: 70000, Title: "A Modern Anthology",
		Authors:   []catalog.Agent{{Name: "Anonymous"}},
		Languages: []string{"en", "fr"}, Copyright: boolPtr(true),
		DownloadCount: 900,
	})
	add(&catalog.Record{ID: 5, Title: "Untitled pamphlet"})
	return idx
}

func newService(t *testing.T, pageSize int) *Service {
	t.Helper()
	s := New(staticLoader{idx: testIndex()}, pageSize)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	return s
}

func ids(p *Page) []int {
	out := make([]int, 0, len(p.Results))
	for _, r := range p.Results {
		out = append(out, r.ID)
	}
	return out
}

func TestUninitialized(t *testing.T) {
	s := New(staticLoader{}, 10)
	if err := s.Load(); err != nil {
		t.Fatalf("Load with no snapshot: %v", err)
	}
	if _, err := s.Get(1); !errors.Is(err, apperrors.ErrUninitialized) {
		t.Errorf("Get = %v, want ErrUninitialized", err)
	}
	if _, err := s.List(Filter{}, 1); !errors.Is(err, apperrors.ErrUninitialized) {
		t.Errorf("List = %v, want ErrUninitialized", err)
	}
	if s.Status().Initialized || s.Generation() != 0 {
		t.Errorf("status = %+v", s.Status())
	}
}

func TestLoadError(t *testing.T) {
	s := New(staticLoader{err: errors.New("disk on fire")}, 10)
	if err := s.Load(); err == nil {
		t.Fatal("expected error")
	}
}

func TestGet(t *testing.T) {
	s := newService(t, 10)
	rec, err := s.Get(84)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Title != "Frankenstein; Or, The Modern Prometheus" {
		t.Errorf("title = %q", rec.Title)
	}
	rec.Languages[0] = "xx"
	again, _ := s.Get(84)
	if again.Languages[0] != "en" {
		t.Error("Get returned a record sharing state with the snapshot")
	}
	if _, err := s.Get(999); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Get(999) = %v, want ErrNotFound", err)
	}
}

func TestListFilters(t *testing.T) {
	s := newService(t, 10)
	tests := []struct {
		name   string
		filter Filter
		want   []int
	}{
		{"all ascending", Filter{}, []int{5, 84, 1342, 17989, 70000}},
		{"descending", Filter{Sort: SortDescending}, []int{70000, 17989, 1342, 84, 5}},
		{"popular", Filter{Sort: SortPopular}, []int{84, 1342, 17989, 70000, 5}},
		{"language", Filter{Languages: []string{"FR"}}, []int{17989, 70000}},
		{"languages any", Filter{Languages: []string{"de", "en"}}, []int{84, 1342, 70000}},
		{"blank language ignored", Filter{Languages: []string{" "}}, []int{5, 84, 1342, 17989, 70000}},
		{"topic subject", Filter{Subject: "fiction"}, []int{84, 1342}},
		{"topic bookshelf", Filter{Subject: "best books"}, []int{1342}},
		{"author", Filter{Author: "austen"}, []int{1342}},
		{"search title", Filter{Search: "modern"}, []int{84, 70000}},
		{"search title and author", Filter{Search: "pride austen"}, []int{1342}},
		{"search punctuation", Filter{Search: "monte cristo"}, []int{17989}},
		{"search or", Filter{Search: "prejudice OR cristo"}, []int{1342, 17989}},
		{"search not", Filter{Search: "modern NOT shelley"}, []int{70000}},
		{"ids", Filter{IDs: []int{84, 5, 404}}, []int{5, 84}},
		{"mime prefix", Filter{MimeType: "text/"}, []int{84, 1342, 17989}},
		{"mime exact", Filter{MimeType: "application/epub+zip"}, []int{1342}},
		{"copyrighted", Filter{Copyright: boolPtr(true)}, []int{70000}},
		{"public domain", Filter{Copyright: boolPtr(false)}, []int{84, 1342, 17989}},
		{"alive after 1850", Filter{AuthorYearStart: intPtr(1850)}, []int{84, 17989}},
		{"alive before 1790", Filter{AuthorYearEnd: intPtr(1790)}, []int{1342}},
		{"alive 1800-1810", Filter{AuthorYearStart: intPtr(1800), AuthorYearEnd: intPtr(1810)}, []int{84, 1342, 17989}},
		{"combined", Filter{Languages: []string{"en"}, Copyright: boolPtr(false), Sort: SortPopular}, []int{84, 1342}},
		{"no match", Filter{Author: "tolkien"}, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.List(tt.filter, 1)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, ids(page)); diff != "" {
				t.Errorf("ids (-want +got):\n%s", diff)
			}
			if page.Count != len(tt.want) {
				t.Errorf("count = %d, want %d", page.Count, len(tt.want))
			}
		})
	}
}

func TestListPaging(t *testing.T) {
	s := newService(t, 2)
	tests := []struct {
		page     int
		want     []int
		next     bool
		previous bool
	}{
		{1, []int{5, 84}, true, false},
		{2, []int{1342, 17989}, true, true},
		{3, []int{70000}, false, true},
		{4, []int{}, false, true},
		{99, []int{}, false, false},
		{0, []int{}, false, false},
		{-1, []int{}, false, false},
		{1 << 40, []int{}, false, false},
	}
	for _, tt := range tests {
		p, err := s.List(Filter{}, tt.page)
		if err != nil {
			t.Fatalf("page %d: %v", tt.page, err)
		}
		if diff := cmp.Diff(tt.want, ids(p)); diff != "" {
			t.Errorf("page %d ids (-want +got):\n%s", tt.page, diff)
		}
		if p.Count != 5 {
			t.Errorf("page %d count = %d, want 5", tt.page, p.Count)
		}
		if p.HasNext != tt.next || p.HasPrevious != tt.previous {
			t.Errorf("page %d next=%v previous=%v, want %v %v", tt.page, p.HasNext, p.HasPrevious, tt.next, tt.previous)
		}
	}
}

func TestListInvalidFilter(t *testing.T) {
	s := newService(t, 10)
	for _, f := range []Filter{{Sort: "sideways"}, {IDs: []int{0}}} {
		_, err := s.List(f, 1)
		if !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Errorf("List(%+v) = %v, want ErrInvalidInput", f, err)
		}
	}
}

func TestSwapIsAtomic(t *testing.T) {
	small := catalog.NewIndex()
	small.Metadata.RunID = "small"
	small.Records[1] = &catalog.Record{ID: 1, Title: "one"}
	large := catalog.NewIndex()
	large.Metadata.RunID = "large"
	for i := 1; i <= 50; i++ {
		large.Records[i] = &catalog.Record{ID: i, Title: "many"}
	}

	s := New(staticLoader{}, 100)
	s.Swap(small)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				s.Swap(large)
			} else {
				s.Swap(small)
			}
		}
	}()
	for i := 0; i < 500; i++ {
		p, err := s.List(Filter{}, 1)
		if err != nil {
			t.Fatal(err)
		}
		// Every page must come from exactly one snapshot.
		title := p.Results[0].Title
		for _, r := range p.Results {
			if r.Title != title {
				t.Fatalf("mixed snapshot page: %q and %q", title, r.Title)
			}
		}
		if (title == "one" && p.Count != 1) || (title == "many" && p.Count != 50) {
			t.Fatalf("count %d inconsistent with snapshot %q", p.Count, title)
		}
	}
	close(stop)
	wg.Wait()
}

func TestRunCompletedSwaps(t *testing.T) {
	s := newService(t, 10)
	gen := s.Generation()
	next := catalog.NewIndex()
	next.Metadata.RunID = "run2"
	s.RunCompleted(t.Context(), runlogReport(), next)
	if s.Generation() == gen || s.Status().RunID != "run2" {
		t.Errorf("status after RunCompleted = %+v", s.Status())
	}
	s.RunCompleted(t.Context(), runlogReport(), nil)
	if s.Status().RunID != "run2" {
		t.Error("nil index replaced the served snapshot")
	}
}

func TestSnapshotFingerprint(t *testing.T) {
	if _, err := New(staticLoader{}, 10).Snapshot(); !errors.Is(err, apperrors.ErrUninitialized) {
		t.Fatalf("got %v, want ErrUninitialized", err)
	}

	a, b := newService(t, 10), newService(t, 10)
	snapA, err := a.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	snapB, _ := b.Snapshot()
	if snapA.Fingerprint() == "" || snapA.Fingerprint() != snapB.Fingerprint() {
		t.Errorf("identical indexes fingerprinted %q and %q", snapA.Fingerprint(), snapB.Fingerprint())
	}

	next := testIndex()
	next.Records[5].Title = "Retitled pamphlet"
	a.Swap(next)
	if fp := a.Status().Fingerprint; fp == snapA.Fingerprint() {
		t.Error("fingerprint unchanged after swapping in different content")
	}

	// A pinned snapshot keeps listing the index it was taken from.
	p, err := snapA.List(Filter{IDs: []int{5}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Results[0].Title; got != "Untitled pamphlet" {
		t.Errorf("pinned snapshot listed %q", got)
	}
}

func TestFilterKey(t *testing.T) {
	a := Filter{Languages: []string{"fr", "EN"}, IDs: []int{3, 1}, Search: "b a"}
	b := Filter{Languages: []string{"en", "fr", "fr"}, IDs: []int{1, 3, 3}, Search: "a  b", Sort: SortAscending}
	if a.Key() != b.Key() {
		t.Errorf("equivalent filters differ:\n%s\n%s", a.Key(), b.Key())
	}
	c := b
	c.Copyright = boolPtr(true)
	if c.Key() == b.Key() {
		t.Error("copyright ignored in key")
	}
}

func runlogReport() runlog.Report {
	return runlog.Report{RunID: "run2", Outcome: runlog.OutcomePublished}
}
