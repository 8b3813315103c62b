package query

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/errors"
)

// Sort orders a result list.
type Sort string

const (
	SortAscending  Sort = "ascending"
	SortDescending Sort = "descending"
	SortPopular    Sort = "popular"
)

// Filter selects records. Zero-valued fields do not constrain the result.
type Filter struct {
	// Languages matches records with at least one of these language codes.
	Languages []string
	// Subject is a case-insensitive substring of a subject or bookshelf.
	Subject string
	// Author is a case-insensitive substring of an author name.
	Author string
	// Search is free text matched against title and author names.
	Search string
	IDs    []int
	// MimeType is a prefix of at least one download format.
	MimeType string
	// AuthorYearStart and AuthorYearEnd match records with an author alive
	// at some point in the range.
	AuthorYearStart *int
	AuthorYearEnd   *int
	Copyright       *bool
	Sort            Sort
}

// Validate rejects filters that can never be evaluated.
func (f Filter) Validate() error {
	switch f.Sort {
	case "", SortAscending, SortDescending, SortPopular:
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown sort %q", f.Sort)
	}
	for _, id := range f.IDs {
		if id <= 0 {
			return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid id %d", id)
		}
	}
	return nil
}

// Key is a canonical encoding of the filter. Equivalent filters share a key.
func (f Filter) Key() string {
	var b strings.Builder
	langs := lowerAll(f.Languages)
	slices.Sort(langs)
	ids := slices.Clone(f.IDs)
	slices.Sort(ids)
	b.WriteString("lang=" + strings.Join(slices.Compact(langs), ","))
	b.WriteString("|subject=" + strings.ToLower(f.Subject))
	b.WriteString("|author=" + strings.ToLower(f.Author))
	b.WriteString("|search=" + parser.Parse(f.Search).Key())
	b.WriteString("|ids=")
	for i, id := range slices.Compact(ids) {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(id))
	}
	b.WriteString("|mime=" + strings.ToLower(f.MimeType))
	b.WriteString("|start=" + optInt(f.AuthorYearStart))
	b.WriteString("|end=" + optInt(f.AuthorYearEnd))
	b.WriteString("|copyright=")
	if f.Copyright != nil {
		b.WriteString(strconv.FormatBool(*f.Copyright))
	}
	sort := f.Sort
	if sort == "" {
		sort = SortAscending
	}
	b.WriteString("|sort=" + string(sort))
	return b.String()
}

// matcher is a Filter compiled for repeated evaluation.
type matcher struct {
	languages map[string]struct{}
	ids       map[int]struct{}
	subject   string
	author    string
	mime      string
	plan      *parser.QueryPlan
	yearStart *int
	yearEnd   *int
	copyright *bool
}

func compile(f Filter) *matcher {
	m := &matcher{
		subject:   strings.ToLower(strings.TrimSpace(f.Subject)),
		author:    strings.ToLower(strings.TrimSpace(f.Author)),
		mime:      strings.ToLower(strings.TrimSpace(f.MimeType)),
		yearStart: f.AuthorYearStart,
		yearEnd:   f.AuthorYearEnd,
		copyright: f.Copyright,
	}
	if langs := lowerAll(f.Languages); len(langs) > 0 {
		m.languages = make(map[string]struct{}, len(langs))
		for _, l := range langs {
			m.languages[l] = struct{}{}
		}
	}
	if len(f.IDs) > 0 {
		m.ids = make(map[int]struct{}, len(f.IDs))
		for _, id := range f.IDs {
			m.ids[id] = struct{}{}
		}
	}
	if plan := parser.Parse(f.Search); !plan.Empty() {
		m.plan = plan
	}
	return m
}

func (m *matcher) match(r *catalog.Record) bool {
	if m.ids != nil {
		if _, ok := m.ids[r.ID]; !ok {
			return false
		}
	}
	if m.languages != nil && !m.matchLanguage(r) {
		return false
	}
	if m.copyright != nil && (r.Copyright == nil || *r.Copyright != *m.copyright) {
		return false
	}
	if m.subject != "" && !containsFold(r.Subjects, m.subject) && !containsFold(r.Bookshelves, m.subject) {
		return false
	}
	if m.author != "" && !containsFold(r.AuthorNames(), m.author) {
		return false
	}
	if m.mime != "" && !m.matchMime(r) {
		return false
	}
	if (m.yearStart != nil || m.yearEnd != nil) && !m.matchYears(r) {
		return false
	}
	if m.plan != nil {
		text := tokenizer.Normalize(r.Title + " " + strings.Join(r.AuthorNames(), " "))
		if !m.plan.Matches(text) {
			return false
		}
	}
	return true
}

func (m *matcher) matchLanguage(r *catalog.Record) bool {
	for _, l := range r.Languages {
		if _, ok := m.languages[strings.ToLower(l)]; ok {
			return true
		}
	}
	return false
}

func (m *matcher) matchMime(r *catalog.Record) bool {
	for mime := range r.Formats {
		if strings.HasPrefix(strings.ToLower(mime), m.mime) {
			return true
		}
	}
	return false
}

// matchYears requires one author whose lifetime overlaps the range. A
// missing death year passes a start bound if the birth year is known; a
// missing birth year fails an end bound.
func (m *matcher) matchYears(r *catalog.Record) bool {
	for _, a := range r.Authors {
		if m.yearStart != nil && a.DeathYear != nil && *a.DeathYear < *m.yearStart {
			continue
		}
		if m.yearStart != nil && a.DeathYear == nil && a.BirthYear == nil {
			continue
		}
		if m.yearEnd != nil && (a.BirthYear == nil || *a.BirthYear > *m.yearEnd) {
			continue
		}
		return true
	}
	return false
}

func containsFold(values []string, lowerSub string) bool {
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), lowerSub) {
			return true
		}
	}
	return false
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func optInt(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}
