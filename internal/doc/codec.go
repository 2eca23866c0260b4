package doc

import "strings"

const (
	markerOpen  = "[[ref:"
	markerClose = "]]"
)

// Marker renders the interchange marker for a single identifier.
func Marker(id string) string {
	return markerOpen + id + markerClose
}

// Encode walks the tree depth-first and produces interchange text.
// Paragraph boundaries and hard breaks become line breaks; citation
// tokens become one marker per identifier, space-joined.
func Encode(document Document) string {
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
			case InlineCitation:
				markers := make([]string, 0, len(inline.Refs))
				for _, id := range inline.Refs {
					markers = append(markers, Marker(id))
				}
				builder.WriteString(strings.Join(markers, " "))
			}
		}
	}
	return builder.String()
}

// Decode parses interchange text into a document tree. Adjacent markers
// separated only by whitespace coalesce into one citation token, which
// is how inserting a citation next to an existing one merges instead of
// stacking. Malformed markers stay in the text verbatim.
func Decode(text string) Document {
	lines := strings.Split(text, "\n")
	paragraphs := make([]Paragraph, 0, len(lines))
	for _, line := range lines {
		paragraphs = append(paragraphs, decodeParagraph(line))
	}
	return Document{Paragraphs: paragraphs}
}

func decodeParagraph(line string) Paragraph {
	inlines := make([]Inline, 0)
	appendText := func(text string) {
		if text == "" {
			return
		}
		if len(inlines) > 0 && inlines[len(inlines)-1].Kind == InlineText {
			inlines[len(inlines)-1].Text += text
			return
		}
		inlines = append(inlines, TextInline(text))
	}

	rest := line
	for rest != "" {
		open := strings.Index(rest, markerOpen)
		if open < 0 {
			appendText(rest)
			break
		}
		id, consumed := parseMarker(rest[open:])
		if consumed == 0 {
			// Malformed marker: keep the opener as literal text and move on.
			appendText(rest[:open+len(markerOpen)])
			rest = rest[open+len(markerOpen):]
			continue
		}

		before := rest[:open]
		rest = rest[open+consumed:]

		// Whitespace-only gap before a marker following a citation token
		// is swallowed so the identifiers merge into that token.
		if len(inlines) > 0 && inlines[len(inlines)-1].Kind == InlineCitation && strings.TrimSpace(before) == "" {
			inlines[len(inlines)-1].AddRef(id)
			continue
		}
		appendText(before)
		inlines = append(inlines, CitationInline(id))
	}
	return Paragraph{Inlines: inlines}
}

// parseMarker reads one marker at the start of input. It returns the
// identifier and the number of bytes consumed, or 0 when the marker is
// malformed (unterminated, empty, or whitespace in the identifier).
func parseMarker(input string) (string, int) {
	body := input[len(markerOpen):]
	end := strings.Index(body, markerClose)
	if end < 0 {
		return "", 0
	}
	id := body[:end]
	if id == "" || strings.ContainsAny(id, " \t\n[]") {
		return "", 0
	}
	return id, len(markerOpen) + end + len(markerClose)
}
