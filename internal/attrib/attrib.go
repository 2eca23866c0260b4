// Package attrib tags diff output with the actor responsible for each
// change. When a full change-event log exists it replays it for exact
// attribution; with only text snapshots it falls back to a documented
// three-way heuristic.
package attrib

import (
	"sort"

	"quill/api/internal/trackchanges"
	"quill/api/internal/worddiff"
)

// Part is one attributed diff fragment. Source is empty for equal
// parts.
type Part struct {
	Type   worddiff.PartType      `json:"type"`
	Value  string                 `json:"value"`
	Source trackchanges.ActorKind `json:"source,omitempty"`
}

// Options selects the optional inputs of the heuristic.
type Options struct {
	// LLMSnapshot is the most recent AI-produced content between base
	// and target, when known.
	LLMSnapshot string
	HasSnapshot bool
	// ForceSource attributes every change to one actor, used for
	// first-draft-from-empty where there is no ambiguity.
	ForceSource trackchanges.ActorKind
}

// Compute diffs base against target and tags each inserted or deleted
// token with its likely author. A token changed in diff(base, llm) is
// tagged LLM; one changed in diff(llm, target) is tagged USER; a token
// that could belong to both (e.g. text reinserted after AI deletion)
// defaults to USER.
func Compute(base, target string, opts Options) []Part {
	final := worddiff.Diff(base, target)

	if opts.ForceSource != "" {
		parts := make([]Part, 0, len(final))
		for _, part := range final {
			tagged := Part{Type: part.Type, Value: part.Value}
			if part.Type != worddiff.Equal {
				tagged.Source = opts.ForceSource
			}
			parts = append(parts, tagged)
		}
		return merge(parts)
	}

	llmInserts := map[string]int{}
	llmDeletes := map[string]int{}
	userInserts := map[string]int{}
	userDeletes := map[string]int{}

	middle := base
	if opts.HasSnapshot {
		middle = opts.LLMSnapshot
		countTokens(worddiff.Diff(base, middle), llmInserts, llmDeletes)
	}
	countTokens(worddiff.Diff(middle, target), userInserts, userDeletes)

	parts := make([]Part, 0, len(final))
	for _, part := range final {
		if part.Type == worddiff.Equal {
			parts = append(parts, Part{Type: part.Type, Value: part.Value})
			continue
		}
		for _, token := range worddiff.Tokenize(part.Value) {
			source := trackchanges.ActorUser
			switch part.Type {
			case worddiff.Insert:
				source = claim(token, llmInserts, userInserts)
			case worddiff.Delete:
				source = claim(token, llmDeletes, userDeletes)
			}
			parts = append(parts, Part{Type: part.Type, Value: token, Source: source})
		}
	}
	return merge(parts)
}

// claim consumes one occurrence of token from the partial-diff
// multisets. USER wins whenever the token appears in the user-side
// diff, including the ambiguous both-sides case.
func claim(token string, llm, user map[string]int) trackchanges.ActorKind {
	if user[token] > 0 {
		user[token]--
		return trackchanges.ActorUser
	}
	if llm[token] > 0 {
		llm[token]--
		return trackchanges.ActorLLM
	}
	return trackchanges.ActorUser
}

func countTokens(parts []worddiff.Part, inserts, deletes map[string]int) {
	for _, part := range parts {
		var into map[string]int
		switch part.Type {
		case worddiff.Insert:
			into = inserts
		case worddiff.Delete:
			into = deletes
		default:
			continue
		}
		for _, token := range worddiff.Tokenize(part.Value) {
			into[token]++
		}
	}
}

func merge(parts []Part) []Part {
	merged := make([]Part, 0, len(parts))
	for _, part := range parts {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if last.Type == part.Type && last.Source == part.Source {
				last.Value += part.Value
				continue
			}
		}
		merged = append(merged, part)
	}
	return merged
}

// FromLog converts a replayed change-set into attributed parts over the
// final text: byte-exact attribution, available whenever the base
// snapshot and its full event log survive. Insert spans are disjoint
// after replay, so the text is walked segment by segment between cut
// points, emitting delete markers at their exact anchors.
func FromLog(base string, log trackchanges.Log) []Part {
	text, changeset := trackchanges.Replay(base, log)
	runes := []rune(text)

	deletesAt := make(map[int][]trackchanges.DeleteMark)
	for _, mark := range changeset.Deletes {
		deletesAt[mark.Pos] = append(deletesAt[mark.Pos], mark)
	}

	cutSet := map[int]struct{}{0: {}, len(runes): {}}
	for _, span := range changeset.Inserts {
		cutSet[span.From] = struct{}{}
		cutSet[span.To] = struct{}{}
	}
	for pos := range deletesAt {
		cutSet[pos] = struct{}{}
	}
	cuts := make([]int, 0, len(cutSet))
	for pos := range cutSet {
		cuts = append(cuts, pos)
	}
	sort.Ints(cuts)

	spanAt := func(pos int) *trackchanges.InsertSpan {
		for i := range changeset.Inserts {
			if changeset.Inserts[i].From <= pos && pos < changeset.Inserts[i].To {
				return &changeset.Inserts[i]
			}
		}
		return nil
	}

	parts := make([]Part, 0, len(cuts)+len(changeset.Deletes))
	for i, from := range cuts {
		for _, mark := range deletesAt[from] {
			parts = append(parts, Part{Type: worddiff.Delete, Value: mark.Text, Source: mark.Actor.Kind})
		}
		if i+1 >= len(cuts) {
			break
		}
		to := cuts[i+1]
		if from == to {
			continue
		}
		if span := spanAt(from); span != nil {
			parts = append(parts, Part{Type: worddiff.Insert, Value: string(runes[from:to]), Source: span.Actor.Kind})
		} else {
			parts = append(parts, Part{Type: worddiff.Equal, Value: string(runes[from:to])})
		}
	}
	return merge(parts)
}
