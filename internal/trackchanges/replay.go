package trackchanges

import "time"

// InsertSpan is a rune range of the replayed text inserted by one
// event.
type InsertSpan struct {
	From      int
	To        int
	EventID   string
	Actor     Actor
	Timestamp time.Time
}

// DeleteMark anchors removed text at a position in the replayed text.
type DeleteMark struct {
	Pos       int
	Text      string
	EventID   string
	Actor     Actor
	Timestamp time.Time
}

// ChangeSet is the replay-derived attribution of the current text:
// which event inserted each surviving span and which event deleted
// text at each anchor.
type ChangeSet struct {
	Inserts []InsertSpan
	Deletes []DeleteMark
}

// Replay applies every event's steps in order against the base
// snapshot, accumulating attribution. Unreplayable steps (unknown type
// or out-of-range, e.g. from a future schema version) are skipped
// individually; the rest of the reconstruction proceeds.
func Replay(base string, log Log) (string, ChangeSet) {
	runes := []rune(base)
	changeset := ChangeSet{}

	// Log is newest-first; replay runs oldest-first.
	for i := len(log) - 1; i >= 0; i-- {
		event := log[i]
		for _, step := range event.Steps {
			if step.Type != StepReplace {
				continue
			}
			if step.From < 0 || step.To < step.From || step.To > len(runes) {
				continue
			}
			runes = applyAttributedStep(runes, &changeset, step, event)
		}
	}
	return string(runes), changeset
}

func applyAttributedStep(runes []rune, changeset *ChangeSet, step Step, event ChangeEvent) []rune {
	insertLen := len([]rune(step.Text))
	delta := insertLen - (step.To - step.From)

	// Deleted text that this same actor inserted earlier in the log
	// leaves no trace; everything else becomes a strikethrough mark.
	if step.To > step.From {
		removed := runes[step.From:step.To]
		ownInsert := make([]bool, step.To-step.From)
		for _, span := range changeset.Inserts {
			if span.Actor.Key() != event.Actor.Key() {
				continue
			}
			for pos := max(span.From, step.From); pos < min(span.To, step.To); pos++ {
				ownInsert[pos-step.From] = true
			}
		}
		marked := make([]rune, 0, len(removed))
		for idx, r := range removed {
			if !ownInsert[idx] {
				marked = append(marked, r)
			}
		}
		if len(marked) > 0 {
			changeset.Deletes = append(changeset.Deletes, DeleteMark{
				Pos:       step.From,
				Text:      string(marked),
				EventID:   event.ID,
				Actor:     event.Actor,
				Timestamp: event.Timestamp,
			})
		}
	}

	// Remap existing insert spans around the replaced range.
	remapped := make([]InsertSpan, 0, len(changeset.Inserts)+1)
	for _, span := range changeset.Inserts {
		left := InsertSpan{From: span.From, To: min(span.To, step.From), EventID: span.EventID, Actor: span.Actor, Timestamp: span.Timestamp}
		if left.From < left.To {
			remapped = append(remapped, left)
		}
		right := InsertSpan{From: max(span.From, step.To) + delta, To: span.To + delta, EventID: span.EventID, Actor: span.Actor, Timestamp: span.Timestamp}
		if right.From < right.To && span.To > step.To {
			remapped = append(remapped, right)
		}
	}
	if insertLen > 0 {
		remapped = append(remapped, InsertSpan{
			From:      step.From,
			To:        step.From + insertLen,
			EventID:   event.ID,
			Actor:     event.Actor,
			Timestamp: event.Timestamp,
		})
	}
	changeset.Inserts = remapped

	// Shift delete anchors; anchors inside the replaced range collapse
	// to its start.
	for idx := range changeset.Deletes {
		switch {
		case changeset.Deletes[idx].Pos >= step.To:
			changeset.Deletes[idx].Pos += delta
		case changeset.Deletes[idx].Pos > step.From:
			changeset.Deletes[idx].Pos = step.From
		}
	}

	next := make([]rune, 0, len(runes)+delta)
	next = append(next, runes[:step.From]...)
	next = append(next, []rune(step.Text)...)
	next = append(next, runes[step.To:]...)
	return next
}

// EventFor looks up the event that produced the insert span covering
// position pos, or nil when the text there is from the base snapshot.
func (cs ChangeSet) EventFor(pos int) *InsertSpan {
	for i := range cs.Inserts {
		if cs.Inserts[i].From <= pos && pos < cs.Inserts[i].To {
			return &cs.Inserts[i]
		}
	}
	return nil
}
