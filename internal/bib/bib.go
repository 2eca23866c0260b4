// Package bib computes the first-appearance ordering of reference
// identifiers across a manuscript. Citation tokens are numbered by
// looking identifiers up in this ordering at render time; the number is
// never stored.
package bib

import (
	"fmt"
	"sort"
	"strings"

	"quill/api/internal/doc"
)

// Order scans section interchange texts in input order, left to right,
// and returns each citation identifier once, in order of first
// appearance.
func Order(sections []string) []string {
	seen := make(map[string]struct{})
	order := make([]string, 0)
	for _, section := range sections {
		for _, id := range doc.CitationRefs(doc.Decode(section)) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			order = append(order, id)
		}
	}
	return order
}

// Positions maps each identifier in order to its 1-based number.
func Positions(order []string) map[string]int {
	positions := make(map[string]int, len(order))
	for index, id := range order {
		positions[id] = index + 1
	}
	return positions
}

// Label renders the visible text for a citation token holding ids, e.g.
// "[2]", "[1–3]" for a contiguous run, or "[1,4]" otherwise. Unknown
// identifiers render as "?" so a stale token is visible rather than
// silently renumbered.
func Label(order []string, ids []string) string {
	positions := Positions(order)
	numbers := make([]int, 0, len(ids))
	unknown := 0
	for _, id := range ids {
		if n, ok := positions[id]; ok {
			numbers = append(numbers, n)
		} else {
			unknown++
		}
	}
	sort.Ints(numbers)

	parts := make([]string, 0, len(numbers)+unknown)
	for start := 0; start < len(numbers); {
		end := start
		for end+1 < len(numbers) && numbers[end+1] == numbers[end]+1 {
			end++
		}
		if end-start >= 2 {
			parts = append(parts, fmt.Sprintf("%d–%d", numbers[start], numbers[end]))
		} else {
			for i := start; i <= end; i++ {
				parts = append(parts, fmt.Sprintf("%d", numbers[i]))
			}
		}
		start = end + 1
	}
	for i := 0; i < unknown; i++ {
		parts = append(parts, "?")
	}
	if len(parts) == 0 {
		return "[?]"
	}
	return "[" + strings.Join(parts, ",") + "]"
}
