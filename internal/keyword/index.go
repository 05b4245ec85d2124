// Package keyword indexes curated reply rules by keyword and resolves inbound
// text to the rule that should answer it.
//
// Priority follows configuration order: keywords are scanned in the order
// they were first seen during Build, and within a keyword the first enabled
// rule that declared it wins. Whether that tie-break is an intended priority
// or an accident of the original rule list is not known; it is kept as is.
package keyword

import (
	"strings"

	"github.com/nextlevelbuilder/autoreply/internal/matcher"
)

// Rule maps one or more keywords to a canned response.
type Rule struct {
	Keywords []string `json:"keywords" yaml:"keywords"`
	Response string   `json:"response" yaml:"response"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`
}

// Match is the result of a successful Lookup.
type Match struct {
	Rule    *Rule
	Keyword string // normalized keyword that matched
	Fuzzy   bool   // true when matched by edit distance rather than containment
}

// Index is an immutable keyword → rules lookup table. Safe for concurrent reads.
type Index struct {
	rules    []Rule
	keywords []string
	buckets  map[string][]*Rule
}

// Normalize lower-cases and trims s the same way keywords are stored.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Build indexes the enabled rules. The input slice is copied, so later
// changes by the caller do not leak into the index.
func Build(rules []Rule) *Index {
	idx := &Index{
		buckets: make(map[string][]*Rule),
	}

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		cp := r
		cp.Keywords = append([]string(nil), r.Keywords...)
		idx.rules = append(idx.rules, cp)
	}

	for i := range idx.rules {
		rule := &idx.rules[i]
		seen := make(map[string]bool, len(rule.Keywords))
		for _, kw := range rule.Keywords {
			norm := Normalize(kw)
			if norm == "" || seen[norm] {
				continue
			}
			seen[norm] = true
			if _, ok := idx.buckets[norm]; !ok {
				idx.keywords = append(idx.keywords, norm)
			}
			idx.buckets[norm] = append(idx.buckets[norm], rule)
		}
	}

	return idx
}

// Lookup finds the rule for already-normalized text. Containment matches are
// preferred; fuzzy matches are only tried when no keyword is contained.
func (idx *Index) Lookup(normalizedText string) (Match, bool) {
	if idx == nil || normalizedText == "" {
		return Match{}, false
	}

	for _, kw := range idx.keywords {
		if strings.Contains(normalizedText, kw) {
			return Match{Rule: idx.buckets[kw][0], Keyword: kw}, true
		}
	}

	for _, kw := range idx.keywords {
		if matcher.FuzzyMatch(normalizedText, kw) {
			return Match{Rule: idx.buckets[kw][0], Keyword: kw, Fuzzy: true}, true
		}
	}

	return Match{}, false
}

// Keywords returns the indexed keywords in priority order.
func (idx *Index) Keywords() []string {
	if idx == nil {
		return nil
	}
	return append([]string(nil), idx.keywords...)
}

// Len returns the number of enabled rules in the index.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.rules)
}
