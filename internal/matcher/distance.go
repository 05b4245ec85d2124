// Package matcher provides the edit-distance primitives used by keyword lookup.
package matcher

import "unicode/utf8"

// The fuzzy threshold is floor(3/10 × shorter length), kept in integers so
// the floor is exact.
const (
	fuzzyNum = 3
	fuzzyDen = 10
)

// minFuzzyLen is the shortest string (in runes) considered for fuzzy matching.
const minFuzzyLen = 3

// Distance returns the Levenshtein distance between a and b, counted in
// Unicode code points. It keeps two rows of the DP table, sized by the
// shorter input.
func Distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// FuzzyMatch reports whether text is within the fuzzy threshold of keyword.
// Strings shorter than three runes never match.
func FuzzyMatch(text, keyword string) bool {
	lt, lk := utf8.RuneCountInString(text), utf8.RuneCountInString(keyword)
	if lt < minFuzzyLen || lk < minFuzzyLen {
		return false
	}
	return Distance(text, keyword) <= Threshold(min(lt, lk))
}

// Threshold returns the maximum accepted distance for a string of n runes.
func Threshold(n int) int {
	return n * fuzzyNum / fuzzyDen
}

