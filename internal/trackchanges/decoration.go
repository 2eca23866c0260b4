package trackchanges

import "sort"

type DecorationKind string

const (
	DecorationInsert DecorationKind = "insert"
	DecorationDelete DecorationKind = "delete"
)

// Decoration is a render instruction for the editable surface: a
// background highlight over an inserted span, or a non-editable inline
// marker showing deleted text struck through. Both are keyed by actor.
type Decoration struct {
	Kind    DecorationKind `json:"kind"`
	From    int            `json:"from"`
	To      int            `json:"to"`
	Text    string         `json:"text,omitempty"`
	EventID string         `json:"eventId"`
	Actor   Actor          `json:"actor"`
	Focused bool           `json:"focused,omitempty"`
}

// DecorationOptions is pure view state. Toggling highlights or focusing
// an event never touches the log or the base snapshot.
type DecorationOptions struct {
	ShowHighlights bool
	FocusedEventID string
}

// Decorations renders a change-set into position-ordered decorations.
func Decorations(changeset ChangeSet, opts DecorationOptions) []Decoration {
	if !opts.ShowHighlights {
		return nil
	}
	decorations := make([]Decoration, 0, len(changeset.Inserts)+len(changeset.Deletes))
	for _, span := range changeset.Inserts {
		decorations = append(decorations, Decoration{
			Kind:    DecorationInsert,
			From:    span.From,
			To:      span.To,
			EventID: span.EventID,
			Actor:   span.Actor,
			Focused: opts.FocusedEventID != "" && span.EventID == opts.FocusedEventID,
		})
	}
	for _, mark := range changeset.Deletes {
		decorations = append(decorations, Decoration{
			Kind:    DecorationDelete,
			From:    mark.Pos,
			To:      mark.Pos,
			Text:    mark.Text,
			EventID: mark.EventID,
			Actor:   mark.Actor,
			Focused: opts.FocusedEventID != "" && mark.EventID == opts.FocusedEventID,
		})
	}
	sort.SliceStable(decorations, func(i, j int) bool {
		if decorations[i].From != decorations[j].From {
			return decorations[i].From < decorations[j].From
		}
		// Delete markers sort before the highlight starting at the same
		// position so the strikethrough renders ahead of new text.
		return decorations[i].Kind == DecorationDelete && decorations[j].Kind == DecorationInsert
	})
	return decorations
}
