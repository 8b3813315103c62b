// Package validator checks the structural invariants of a catalog record
// before it enters an index and returns per-field error details.
package validator

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/catalog"
)

const maxTitleLength = 4096

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	ID     int
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%s", k, e.Fields[k]))
	}
	return fmt.Sprintf("record %d: %s", e.ID, strings.Join(parts, "; "))
}

// ValidateRecord checks that rec has a positive ID, bounded title, sorted
// and deduplicated sets, and complete format entries.
func ValidateRecord(rec *catalog.Record) error {
	if rec == nil {
		return &ValidationError{Fields: map[string]string{"record": "is nil"}}
	}
	errs := make(map[string]string)

	if rec.ID <= 0 {
		errs["id"] = "must be positive"
	}
	if len(rec.Title) > maxTitleLength {
		errs["title"] = fmt.Sprintf("must be at most %d bytes", maxTitleLength)
	}
	for field, set := range map[string][]string{
		"languages":   rec.Languages,
		"subjects":    rec.Subjects,
		"bookshelves": rec.Bookshelves,
	} {
		if !isNormalized(set) {
			errs[field] = "must be sorted and unique"
		}
	}
	for mime, url := range rec.Formats {
		if mime == "" || url == "" {
			errs["formats"] = "entries need a mime type and url"
			break
		}
	}
	for _, a := range rec.Authors {
		if a.Name == "" {
			errs["authors"] = "names must not be empty"
			break
		}
	}
	if rec.DownloadCount < 0 {
		errs["download_count"] = "must not be negative"
	}

	if len(errs) > 0 {
		return &ValidationError{ID: rec.ID, Fields: errs}
	}
	return nil
}

func isNormalized(set []string) bool {
	return slices.IsSorted(set) && len(slices.Compact(slices.Clone(set))) == len(set)
}
