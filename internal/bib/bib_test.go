package bib

import (
	"reflect"
	"testing"
)

func TestOrderFirstAppearance(t *testing.T) {
	sections := []string{"x [[ref:b]]", "y [[ref:a]] [[ref:b]]"}
	if got := Order(sections); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Errorf("Order = %v, want [b a]", got)
	}
}

func TestOrderStableUnderRescan(t *testing.T) {
	sections := []string{
		"intro [[ref:c]] [[ref:a]]",
		"methods [[ref:a]] and [[ref:d]]",
		"results [[ref:c]]",
	}
	first := Order(sections)
	second := Order(sections)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("rescan changed order: %v then %v", first, second)
	}
	if !reflect.DeepEqual(first, []string{"c", "a", "d"}) {
		t.Errorf("Order = %v, want [c a d]", first)
	}
}

func TestOrderEmptyAndMarkerless(t *testing.T) {
	if got := Order(nil); len(got) != 0 {
		t.Errorf("Order(nil) = %v, want empty", got)
	}
	if got := Order([]string{"no markers here", ""}); len(got) != 0 {
		t.Errorf("Order without markers = %v, want empty", got)
	}
}

func TestLabel(t *testing.T) {
	order := []string{"a", "b", "c", "d", "e"}
	cases := []struct {
		ids  []string
		want string
	}{
		{[]string{"b"}, "[2]"},
		{[]string{"a", "b", "c"}, "[1–3]"},
		{[]string{"c", "a", "b"}, "[1–3]"},
		{[]string{"a", "d"}, "[1,4]"},
		{[]string{"a", "b", "d", "e"}, "[1,2,4,5]"},
		{[]string{"missing"}, "[?]"},
		{[]string{"a", "missing"}, "[1,?]"},
		{nil, "[?]"},
	}
	for _, tc := range cases {
		if got := Label(order, tc.ids); got != tc.want {
			t.Errorf("Label(%v) = %q, want %q", tc.ids, got, tc.want)
		}
	}
}
