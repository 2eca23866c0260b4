// Package export renders interchange text and attributed diffs to
// HTML for read-only viewing.
package export

import (
	"fmt"
	"html"
	"strings"

	"quill/api/internal/attrib"
	"quill/api/internal/bib"
	"quill/api/internal/doc"
	"quill/api/internal/trackchanges"
	"quill/api/internal/worddiff"
)

// DocumentToHTML renders a document tree as paragraphs. Citations
// become numbered superscript labels resolved against the manuscript's
// citation order.
func DocumentToHTML(document doc.Document, order []string) string {
	var out strings.Builder
	for _, paragraph := range document.Paragraphs {
		out.WriteString("<p>")
		for _, inline := range paragraph.Inlines {
			out.WriteString(renderInline(inline, order))
		}
		out.WriteString("</p>\n")
	}
	return out.String()
}

func renderInline(inline doc.Inline, order []string) string {
	switch inline.Kind {
	case doc.InlineText:
		return html.EscapeString(inline.Text)
	case doc.InlineHardBreak:
		return "<br>"
	case doc.InlineCitation:
		label := bib.Label(order, inline.Refs)
		return fmt.Sprintf(`<sup class="citation">%s</sup>`, html.EscapeString(label))
	default:
		return ""
	}
}

// AttributedDiffToHTML renders attributed parts as marked-up prose.
// Insertions get an <ins> keyed by source, deletions a <del>, equal
// runs pass through escaped.
func AttributedDiffToHTML(parts []attrib.Part) string {
	var out strings.Builder
	for _, part := range parts {
		value := html.EscapeString(part.Value)
		value = strings.ReplaceAll(value, "\n", "<br>\n")
		switch part.Type {
		case worddiff.Insert:
			fmt.Fprintf(&out, `<ins class="%s">%s</ins>`, sourceClass(part.Source), value)
		case worddiff.Delete:
			fmt.Fprintf(&out, `<del class="%s">%s</del>`, sourceClass(part.Source), value)
		default:
			out.WriteString(value)
		}
	}
	return out.String()
}

func sourceClass(source trackchanges.ActorKind) string {
	if source == trackchanges.ActorLLM {
		return "change-llm"
	}
	return "change-user"
}
