// Package doc models the structured document tree behind the editable
// surface and converts it to and from interchange text. The only rich
// inline node is the citation token, which is atomic: it is never split
// by edits and its visible numbering is computed at render time.
package doc

import "strings"

type InlineKind int

const (
	InlineText InlineKind = iota
	InlineHardBreak
	InlineCitation
)

// Inline is a tagged inline node. Text is set for InlineText, Refs for
// InlineCitation. A citation's Refs list is never empty; removing the
// last identifier removes the node itself.
type Inline struct {
	Kind InlineKind
	Text string
	Refs []string
}

type Paragraph struct {
	Inlines []Inline
}

type Document struct {
	Paragraphs []Paragraph
}

func TextInline(text string) Inline {
	return Inline{Kind: InlineText, Text: text}
}

func CitationInline(refs ...string) Inline {
	return Inline{Kind: InlineCitation, Refs: dedupeRefs(refs)}
}

// AddRef merges an identifier into a citation token, keeping first
// occurrence order and ignoring duplicates.
func (n *Inline) AddRef(id string) {
	if n.Kind != InlineCitation {
		return
	}
	for _, existing := range n.Refs {
		if existing == id {
			return
		}
	}
	n.Refs = append(n.Refs, id)
}

// RemoveRef drops an identifier from a citation token. It reports
// whether the token is now empty and must be removed by the caller.
func (n *Inline) RemoveRef(id string) bool {
	if n.Kind != InlineCitation {
		return false
	}
	kept := n.Refs[:0]
	for _, existing := range n.Refs {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	n.Refs = kept
	return len(n.Refs) == 0
}

// RemoveCitationRef removes one identifier from every citation token in
// the document and deletes tokens whose identifier set becomes empty.
func RemoveCitationRef(document *Document, id string) {
	for pi := range document.Paragraphs {
		paragraph := &document.Paragraphs[pi]
		kept := paragraph.Inlines[:0]
		for _, inline := range paragraph.Inlines {
			if inline.Kind == InlineCitation {
				if inline.RemoveRef(id) {
					continue
				}
			}
			kept = append(kept, inline)
		}
		paragraph.Inlines = kept
	}
}

// CitationRefs returns every citation identifier in document order,
// including duplicates across tokens.
func CitationRefs(document Document) []string {
	refs := make([]string, 0)
	for _, paragraph := range document.Paragraphs {
		for _, inline := range paragraph.Inlines {
			if inline.Kind == InlineCitation {
				refs = append(refs, inline.Refs...)
			}
		}
	}
	return refs
}

// PlainText flattens the document without citation markers, for word
// counting and search-style consumers.
func PlainText(document Document) string {
	var builder strings.Builder
	for pi, paragraph := range document.Paragraphs {
		if pi > 0 {
			builder.WriteString("\n")
		}
		for _, inline := range paragraph.Inlines {
			switch inline.Kind {
			case InlineText:
				builder.WriteString(inline.Text)
			case InlineHardBreak:
				builder.WriteString("\n")
			}
		}
	}
	return builder.String()
}

func dedupeRefs(refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	result := make([]string, 0, len(refs))
	for _, id := range refs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
