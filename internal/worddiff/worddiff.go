// Package worddiff provides a word-level diff over two texts using a
// classic LCS dynamic program. Output order and tie-breaks are
// deterministic so identical inputs always produce identical diffs.
package worddiff

import (
	"strings"
	"unicode"
)

type PartType int

const (
	Equal PartType = iota
	Insert
	Delete
)

func (t PartType) String() string {
	switch t {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	default:
		return "equal"
	}
}

type Part struct {
	Type  PartType `json:"type"`
	Value string   `json:"value"`
}

const markerOpen = "[[ref:"

// Tokenize splits text into diff tokens: whole citation markers, runs
// of non-newline whitespace, individual newlines, single punctuation
// characters, and word runs. Keeping markers whole makes the citation
// token atomic in every diff path.
func Tokenize(text string) []string {
	tokens := make([]string, 0, len(text)/4)
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}

	runes := []rune(text)
	for i := 0; i < len(runes); {
		if marker, length := markerAt(runes, i); length > 0 {
			flush()
			tokens = append(tokens, marker)
			i += length
			continue
		}
		r := runes[i]
		switch {
		case r == '\n':
			flush()
			tokens = append(tokens, "\n")
			i++
		case unicode.IsSpace(r):
			flush()
			start := i
			for i < len(runes) && unicode.IsSpace(runes[i]) && runes[i] != '\n' {
				i++
			}
			tokens = append(tokens, string(runes[start:i]))
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			tokens = append(tokens, string(r))
			i++
		default:
			word.WriteRune(r)
			i++
		}
	}
	flush()
	return tokens
}

// markerAt reports a well-formed citation marker starting at index i,
// returning its text and rune length, or 0 when there is none.
func markerAt(runes []rune, i int) (string, int) {
	open := []rune(markerOpen)
	if i+len(open) >= len(runes) {
		return "", 0
	}
	for k, r := range open {
		if runes[i+k] != r {
			return "", 0
		}
	}
	for j := i + len(open); j+1 < len(runes); j++ {
		r := runes[j]
		if r == ' ' || r == '\t' || r == '\n' || r == '[' {
			return "", 0
		}
		if r == ']' {
			if runes[j+1] != ']' || j == i+len(open) {
				return "", 0
			}
			return string(runes[i : j+2]), j + 2 - i
		}
	}
	return "", 0
}

// Diff computes the token-level difference between a and b. The LCS
// table is O(m·n); sections are bounded so no sub-quadratic algorithm
// is needed, but callers treat this as a drop-in replacement point.
func Diff(a, b string) []Part {
	aTokens := Tokenize(a)
	bTokens := Tokenize(b)
	m, n := len(aTokens), len(bTokens)

	table := make([][]int, m+1)
	for i := range table {
		table[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if aTokens[i-1] == bTokens[j-1] {
				table[i][j] = table[i-1][j-1] + 1
			} else if table[i-1][j] > table[i][j-1] {
				table[i][j] = table[i-1][j]
			} else {
				table[i][j] = table[i][j-1]
			}
		}
	}

	// Backtrack from (m,n); ties prefer Insert so output is reproducible.
	parts := make([]Part, 0)
	i, j := m, n
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && aTokens[i-1] == bTokens[j-1]:
			parts = append(parts, Part{Type: Equal, Value: aTokens[i-1]})
			i--
			j--
		case j > 0 && (i == 0 || table[i][j-1] >= table[i-1][j]):
			parts = append(parts, Part{Type: Insert, Value: bTokens[j-1]})
			j--
		default:
			parts = append(parts, Part{Type: Delete, Value: aTokens[i-1]})
			i--
		}
	}

	// Reverse into left-to-right order, merging adjacent same-type runs.
	merged := make([]Part, 0, len(parts))
	for k := len(parts) - 1; k >= 0; k-- {
		part := parts[k]
		if len(merged) > 0 && merged[len(merged)-1].Type == part.Type {
			merged[len(merged)-1].Value += part.Value
			continue
		}
		merged = append(merged, part)
	}
	return merged
}

// Reconstruct rebuilds one side of a diff: b from non-delete parts,
// or a when fromDeletes selects the non-insert parts.
func Reconstruct(parts []Part, fromDeletes bool) string {
	var builder strings.Builder
	for _, part := range parts {
		switch part.Type {
		case Equal:
			builder.WriteString(part.Value)
		case Insert:
			if !fromDeletes {
				builder.WriteString(part.Value)
			}
		case Delete:
			if fromDeletes {
				builder.WriteString(part.Value)
			}
		}
	}
	return builder.String()
}
