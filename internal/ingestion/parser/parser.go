// Package parser turns one Project Gutenberg RDF/XML catalog file into a
// catalog.Record. Parsing is a pure transform: anomalies in optional fields
// come back as warnings and only structural problems fail with a ParseError.
package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/errors"
)

// Kind classifies why a file could not be parsed.
type Kind string

const (
	KindUnreadable   Kind = "unreadable"
	KindTooLarge     Kind = "too large"
	KindEncoding     Kind = "unsupported encoding"
	KindMalformed    Kind = "malformed document"
	KindMissingField Kind = "missing mandatory field"
	KindInvalid      Kind = "invalid record"
)

// ParseError reports a file that produced no record. It matches
// apperrors.ErrParse.
type ParseError struct {
	Source string
	Kind   Kind
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s: %s", e.Source, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == apperrors.ErrParse
}

// Result is a successfully parsed record and the warnings raised for it.
type Result struct {
	Record   *catalog.Record
	Warnings []catalog.Warning
}

// Parser parses catalog files no larger than its size limit.
type Parser struct {
	maxSize int64
}

// New returns a Parser. A maxSize of zero or less disables the size limit.
func New(maxSize int64) *Parser {
	return &Parser{maxSize: maxSize}
}

// ParseFile opens path and parses it, recording source as the record's
// origin.
func (p *Parser) ParseFile(path, source string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Source: source, Kind: KindUnreadable, Err: err}
	}
	defer f.Close()
	return p.Parse(source, f)
}

// Parse reads one RDF document from r.
func (p *Parser) Parse(source string, r io.Reader) (*Result, error) {
	if p.maxSize > 0 {
		r = io.LimitReader(r, p.maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Source: source, Kind: KindUnreadable, Err: err}
	}
	if p.maxSize > 0 && int64(len(data)) > p.maxSize {
		return nil, &ParseError{Source: source, Kind: KindTooLarge, Detail: fmt.Sprintf("limit is %d bytes", p.maxSize)}
	}

	var doc rdfDocument
	var badCharset string
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "us-ascii", "ascii", "utf8":
			return input, nil
		}
		badCharset = charset
		return nil, fmt.Errorf("charset %q", charset)
	}
	if err := dec.Decode(&doc); err != nil {
		if badCharset != "" {
			return nil, &ParseError{Source: source, Kind: KindEncoding, Detail: badCharset}
		}
		return nil, &ParseError{Source: source, Kind: KindMalformed, Err: err}
	}

	switch len(doc.Ebooks) {
	case 0:
		return nil, &ParseError{Source: source, Kind: KindMissingField, Detail: "pgterms:ebook"}
	case 1:
	default:
		return nil, &ParseError{Source: source, Kind: KindMalformed, Detail: fmt.Sprintf("%d ebook elements", len(doc.Ebooks))}
	}
	ebook := doc.Ebooks[0]

	id, err := catalogID(ebook.About)
	if err != nil {
		return nil, &ParseError{Source: source, Kind: KindMissingField, Detail: "catalog id", Err: err}
	}

	b := &recordBuilder{rec: &catalog.Record{ID: id, Source: source}}
	b.build(&ebook)
	if err := validator.ValidateRecord(b.rec); err != nil {
		return nil, &ParseError{Source: source, Kind: KindInvalid, Err: err}
	}
	return &Result{Record: b.rec, Warnings: b.warnings}, nil
}

var errNoID = errors.New("no numeric id in rdf:about")

// catalogID extracts N from an rdf:about value of the form "ebooks/N".
func catalogID(about string) (int, error) {
	about = strings.TrimSpace(about)
	tail := about[strings.LastIndex(about, "/")+1:]
	if tail == "" {
		return 0, errNoID
	}
	id, err := strconv.Atoi(tail)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", errNoID, about)
	}
	return id, nil
}

type recordBuilder struct {
	rec      *catalog.Record
	warnings []catalog.Warning
}

func (b *recordBuilder) warn(format string, args ...any) {
	b.warnings = append(b.warnings, catalog.Warning{
		Source:    b.rec.Source,
		CatalogID: b.rec.ID,
		Message:   fmt.Sprintf(format, args...),
	})
}

func (b *recordBuilder) build(e *rdfEbook) {
	rec := b.rec

	if len(e.Titles) > 0 {
		rec.Title = strings.TrimSpace(e.Titles[0])
	}
	if rec.Title == "" {
		b.warn("missing title")
	}

	rec.Authors = b.agents(e.Creators, "author")
	rec.Translators = b.agents(e.Translators, "translator")

	var langs, subjects, shelves []string
	for _, l := range e.Languages {
		langs = append(langs, trimAll(l.values())...)
	}
	for _, s := range e.Subjects {
		subjects = append(subjects, trimAll(s.values())...)
	}
	for _, s := range e.Bookshelves {
		shelves = append(shelves, trimAll(s.values())...)
	}
	rec.Languages = catalog.NormalizeSet(langs)
	rec.Subjects = catalog.NormalizeSet(subjects)
	rec.Bookshelves = catalog.NormalizeSet(shelves)
	if len(rec.Languages) == 0 {
		b.warn("missing language")
	}

	for _, t := range e.Types {
		if v := trimAll(t.values()); len(v) > 0 {
			rec.MediaType = v[0]
			break
		}
	}

	rec.Copyright = copyright(e.Rights)

	if d := strings.TrimSpace(e.Downloads); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			b.warn("invalid download count %q", d)
		} else {
			rec.DownloadCount = n
		}
	}

	b.formats(e.Formats)
}

func (b *recordBuilder) agents(holders []rdfAgentHolder, role string) []catalog.Agent {
	var out []catalog.Agent
	for _, h := range holders {
		for _, a := range h.Agents {
			var name string
			if len(a.Names) > 0 {
				name = strings.TrimSpace(a.Names[0])
			}
			if name == "" {
				b.warn("%s without a name", role)
				continue
			}
			out = append(out, catalog.Agent{
				Name:      name,
				BirthYear: b.year(a.BirthDate, name),
				DeathYear: b.year(a.DeathDate, name),
			})
		}
	}
	return out
}

func (b *recordBuilder) year(raw, name string) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	y, err := strconv.Atoi(raw)
	if err != nil {
		b.warn("invalid year %q for %s", raw, name)
		return nil
	}
	return &y
}

// formats keeps the first URL seen for each MIME type and tracks the latest
// file modification time as the record's last-modified time.
func (b *recordBuilder) formats(holders []rdfFileHolder) {
	rec := b.rec
	rec.Formats = make(map[string]string)
	for _, h := range holders {
		for _, f := range h.Files {
			url := strings.TrimSpace(f.About)
			var mime string
			for _, d := range f.Formats {
				if v := trimAll(d.values()); len(v) > 0 {
					mime = v[0]
					break
				}
			}
			if url == "" || mime == "" {
				b.warn("format entry without url or mime type")
				continue
			}
			if _, dup := rec.Formats[mime]; !dup {
				rec.Formats[mime] = url
			}
			for _, m := range f.Modified {
				t, err := parseTimestamp(m)
				if err != nil {
					b.warn("invalid modified time %q", strings.TrimSpace(m))
					continue
				}
				if t.After(rec.Modified) {
					rec.Modified = t
				}
			}
		}
	}
	if len(rec.Formats) == 0 {
		b.warn("no download formats")
	}
	if rec.Modified.IsZero() {
		b.warn("missing modified time")
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp accepts the timestamp shapes found in catalog files.
// Values without a zone are taken as UTC.
func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func copyright(rights []string) *bool {
	for _, r := range rights {
		switch {
		case strings.Contains(r, "Copyrighted"):
			v := true
			return &v
		case strings.Contains(r, "Public domain"):
			v := false
			return &v
		}
	}
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
