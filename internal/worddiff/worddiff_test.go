package worddiff

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		input string
		want  []string
	}{
		{"one two", []string{"one", " ", "two"}},
		{"a, b", []string{"a", ",", " ", "b"}},
		{"line\nbreak", []string{"line", "\n", "break"}},
		{"tabs\t end", []string{"tabs", "\t ", "end"}},
		{"cite [[ref:x]] here", []string{"cite", " ", "[[ref:x]]", " ", "here"}},
		{"", nil},
	}
	for _, tc := range cases {
		got := Tokenize(tc.input)
		if len(got) == 0 && len(tc.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestTokenizeKeepsMarkerAtomic(t *testing.T) {
	tokens := Tokenize("[[ref:smith2020]]")
	if len(tokens) != 1 || tokens[0] != "[[ref:smith2020]]" {
		t.Errorf("marker split into %v", tokens)
	}
	// Malformed markers fall back to ordinary tokenization.
	tokens = Tokenize("[[ref:]]")
	if len(tokens) == 1 {
		t.Errorf("malformed marker kept atomic: %v", tokens)
	}
}

func TestDiffIdentical(t *testing.T) {
	parts := Diff("same old text", "same old text")
	if len(parts) != 1 || parts[0].Type != Equal {
		t.Fatalf("Diff(a,a) = %v, want single equal part", parts)
	}
	if parts[0].Value != "same old text" {
		t.Errorf("merged equal value = %q", parts[0].Value)
	}
}

func TestDiffReconstruction(t *testing.T) {
	pairs := [][2]string{
		{"the quick brown fox", "the slow brown fox jumps"},
		{"", "fresh content"},
		{"gone entirely", ""},
		{"a b c", "a x c"},
		{"punctuation, matters.", "punctuation; matters!"},
		{"with [[ref:1]] marker", "with [[ref:1]] [[ref:2]] marker"},
		{"line one\nline two", "line one\nline 2"},
	}
	for _, pair := range pairs {
		parts := Diff(pair[0], pair[1])
		if got := Reconstruct(parts, false); got != pair[1] {
			t.Errorf("non-delete parts of Diff(%q,%q) = %q, want b", pair[0], pair[1], got)
		}
		if got := Reconstruct(parts, true); got != pair[0] {
			t.Errorf("non-insert parts of Diff(%q,%q) = %q, want a", pair[0], pair[1], got)
		}
	}
}

func TestDiffDeterministic(t *testing.T) {
	first := Diff("alpha beta gamma", "alpha gamma beta")
	second := Diff("alpha beta gamma", "alpha gamma beta")
	if !reflect.DeepEqual(first, second) {
		t.Errorf("identical inputs diffed differently: %v vs %v", first, second)
	}
}

func TestDiffInsertAndDelete(t *testing.T) {
	parts := Diff("keep removed keep", "keep added keep")
	var sawInsert, sawDelete bool
	for _, part := range parts {
		switch part.Type {
		case Insert:
			sawInsert = true
		case Delete:
			sawDelete = true
		}
	}
	if !sawInsert || !sawDelete {
		t.Errorf("expected both insert and delete parts, got %v", parts)
	}
}
