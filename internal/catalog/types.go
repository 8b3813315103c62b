// Package catalog defines the bibliographic record and index types shared by
// the ingestion pipeline and the query service, together with the explicit
// JSON serialization of the persisted index snapshot.
package catalog

import (
	"maps"
	"slices"
	"sort"
	"time"
)

// FormatVersion is the snapshot layout version written by EncodeIndex.
const FormatVersion = 1

// Build modes recorded in snapshot metadata.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Agent is a person credited on a record.
type Agent struct {
	Name      string `json:"name"`
	BirthYear *int   `json:"birth_year"`
	DeathYear *int   `json:"death_year"`
}

// Record is one catalog entry. Subjects, Bookshelves and Languages are kept
// sorted and deduplicated; Authors and Translators keep source order.
type Record struct {
	ID            int               `json:"id"`
	Title         string            `json:"title"`
	Authors       []Agent           `json:"authors"`
	Translators   []Agent           `json:"translators"`
	Subjects      []string          `json:"subjects"`
	Bookshelves   []string          `json:"bookshelves"`
	Languages     []string          `json:"languages"`
	Copyright     *bool             `json:"copyright"`
	MediaType     string            `json:"media_type"`
	Formats       map[string]string `json:"formats"`
	DownloadCount int               `json:"download_count"`
	Modified      time.Time         `json:"modified"`
	Source        string            `json:"source"`
}

// AuthorNames returns the author names in credit order.
func (r *Record) AuthorNames() []string {
	names := make([]string, len(r.Authors))
	for i, a := range r.Authors {
		names[i] = a.Name
	}
	return names
}

// Clone returns a deep copy so callers cannot mutate a published snapshot.
func (r *Record) Clone() Record {
	out := *r
	out.Authors = cloneAgents(r.Authors)
	out.Translators = cloneAgents(r.Translators)
	out.Subjects = slices.Clone(r.Subjects)
	out.Bookshelves = slices.Clone(r.Bookshelves)
	out.Languages = slices.Clone(r.Languages)
	out.Formats = maps.Clone(r.Formats)
	if r.Copyright != nil {
		c := *r.Copyright
		out.Copyright = &c
	}
	return out
}

func cloneAgents(in []Agent) []Agent {
	if in == nil {
		return nil
	}
	out := make([]Agent, len(in))
	for i, a := range in {
		out[i] = Agent{Name: a.Name, BirthYear: cloneInt(a.BirthYear), DeathYear: cloneInt(a.DeathYear)}
	}
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Metadata describes how and when a snapshot was produced.
type Metadata struct {
	FormatVersion   int       `json:"format_version"`
	RunID           string    `json:"run_id"`
	Mode            string    `json:"mode"`
	GeneratedAt     time.Time `json:"generated_at"`
	ScanStartedAt   time.Time `json:"scan_started_at"`
	SourceFileCount int       `json:"source_file_count"`
	ParseErrorCount int       `json:"parse_error_count"`
}

// Index maps catalog IDs to records. Once published it is treated as
// immutable by every reader.
type Index struct {
	Metadata Metadata        `json:"metadata"`
	Records  map[int]*Record `json:"records"`
}

// NewIndex returns an empty index with the current format version.
func NewIndex() *Index {
	return &Index{
		Metadata: Metadata{FormatVersion: FormatVersion},
		Records:  make(map[int]*Record),
	}
}

// Len returns the number of records.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.Records)
}

// IDs returns every catalog ID in ascending order.
func (idx *Index) IDs() []int {
	ids := make([]int, 0, len(idx.Records))
	for id := range idx.Records {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Warning is a non-fatal anomaly found while parsing or building.
type Warning struct {
	Source    string `json:"source,omitempty"`
	CatalogID int    `json:"catalog_id,omitempty"`
	Message   string `json:"message"`
}

// NormalizeSet sorts and deduplicates values, dropping empty strings.
func NormalizeSet(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}
