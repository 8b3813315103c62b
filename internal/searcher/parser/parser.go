// Package parser turns a free-text catalog search into a query plan. Terms
// are combined with AND unless the query says OR; a term preceded by NOT is
// excluded. Operators are recognised only in upper case so that titles such
// as "War and Peace" search as plain words.
package parser

import (
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/indexer/tokenizer"
)

type QueryType int

const (
	QueryAND QueryType = iota
	QueryOR
)

func (t QueryType) String() string {
	if t == QueryOR {
		return "OR"
	}
	return "AND"
}

type QueryPlan struct {
	Terms        []string
	Type         QueryType
	ExcludeTerms []string
	RawQuery     string
}

// Empty reports whether the plan places no constraint on results.
func (p *QueryPlan) Empty() bool {
	return len(p.Terms) == 0 && len(p.ExcludeTerms) == 0
}

// Matches reports whether normalized text (see tokenizer.Normalize)
// satisfies the plan. Terms match as substrings.
func (p *QueryPlan) Matches(text string) bool {
	for _, t := range p.ExcludeTerms {
		if strings.Contains(text, t) {
			return false
		}
	}
	if len(p.Terms) == 0 {
		return true
	}
	if p.Type == QueryOR {
		for _, t := range p.Terms {
			if strings.Contains(text, t) {
				return true
			}
		}
		return false
	}
	for _, t := range p.Terms {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}

// Key is a canonical form of the plan: equivalent queries share a key.
func (p *QueryPlan) Key() string {
	terms := sortedUnique(p.Terms)
	excludes := sortedUnique(p.ExcludeTerms)
	key := p.Type.String() + "|" + strings.Join(terms, ",")
	if len(excludes) > 0 {
		key += "|NOT:" + strings.Join(excludes, ",")
	}
	return key
}

func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		Terms:        make([]string, 0),
		ExcludeTerms: make([]string, 0),
		Type:         QueryAND,
		RawQuery:     query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	excludeNext := false
	for _, word := range strings.Fields(query) {
		switch word {
		case "AND":
			plan.Type = QueryAND
			continue
		case "OR":
			plan.Type = QueryOR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		terms := tokenizer.Terms(word)
		if len(terms) == 0 {
			continue
		}
		if excludeNext {
			plan.ExcludeTerms = append(plan.ExcludeTerms, terms...)
			excludeNext = false
		} else {
			plan.Terms = append(plan.Terms, terms...)
		}
	}
	return plan
}

func sortedUnique(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
