// Package tokenizer normalises text for catalog search. It lower-cases input
// and splits on non-alphanumeric boundaries. Terms are not stemmed because
// catalog search matches substrings of titles and names.
package tokenizer

import (
	"strings"
	"unicode"
)

// Terms returns the distinct terms of text in first-seen order.
func Terms(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), isSeparator)
	seen := make(map[string]struct{}, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}

// Normalize lower-cases text and collapses every run of separators into a
// single space, so substring checks against a Term work across punctuation.
func Normalize(text string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(text), isSeparator), " ")
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
