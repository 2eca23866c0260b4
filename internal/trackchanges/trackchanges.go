// Package trackchanges captures every edit on a section as a
// serializable, actor-tagged change event and replays event logs
// against a base snapshot to reconstruct content and per-actor
// insert/delete decorations.
//
// The log is a value owned by the host: Record never mutates its input,
// it returns the next log. That keeps live logs and version-snapshot
// copies from aliasing each other.
package trackchanges

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ActorKind string

const (
	ActorUser ActorKind = "USER"
	ActorLLM  ActorKind = "LLM"
)

// Actor identifies who made an edit: a human user or a named AI model.
type Actor struct {
	Kind   ActorKind `json:"kind"`
	UserID string    `json:"userId,omitempty"`
	Name   string    `json:"name,omitempty"`
	Model  string    `json:"model,omitempty"`
}

func UserActor(userID, name string) Actor {
	return Actor{Kind: ActorUser, UserID: userID, Name: name}
}

func LLMActor(model string) Actor {
	return Actor{Kind: ActorLLM, Model: model}
}

// Key is the merge identity of an actor: consecutive edits with the
// same key may be grouped into one event.
func (a Actor) Key() string {
	if a.Kind == ActorLLM {
		return "llm:" + a.Model
	}
	return "user:" + a.UserID
}

func (a Actor) Display() string {
	if a.Kind == ActorLLM {
		return a.Model
	}
	if a.Name != "" {
		return a.Name
	}
	return a.UserID
}

// StepReplace is the only step type the current schema emits. Steps
// with other types are preserved in the log but skipped on replay.
const StepReplace = "replace"

// Step is one low-level edit: replace the rune range [From,To) with
// Text. A pure insertion has From == To; a pure deletion has Text "".
type Step struct {
	Type string `json:"type"`
	From int    `json:"from"`
	To   int    `json:"to"`
	Text string `json:"text"`
}

type Selection struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// ChangeEvent groups the steps of one edit session by one actor.
// Replaying Steps in order against the text immediately before the
// event reproduces the text immediately after it.
type ChangeEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     Actor     `json:"actor"`
	Selection Selection `json:"selectionAtApply"`
	Steps     []Step    `json:"steps"`
}

// Log is the newest-first list of change events since the base
// snapshot.
type Log []ChangeEvent

// MergeWindow is how close together two edits by the same actor must
// land to be grouped into a single change event. Keystroke granularity
// is useless for attribution; grouping produces human-meaningful edit
// sessions without losing replay fidelity.
const MergeWindow = 2 * time.Second

// Transaction is one document-mutating edit arriving from the editable
// surface.
type Transaction struct {
	Steps     []Step
	Actor     *Actor    // override for the config actor, e.g. AI-applied replacements
	EventID   string    // explicit id forces a new event even inside the merge window
	Selection Selection
	Time      time.Time // zero means now
}

// Config is the host-owned engine input: the base snapshot, the current
// log, and the default actor for the session.
type Config struct {
	BaseContent string
	Actor       Actor
}

// Record applies a transaction: it computes the next content from the
// current log plus the transaction's steps and returns the next log
// value. The input log is never modified.
func Record(cfg Config, log Log, tx Transaction) (Log, string, error) {
	if len(tx.Steps) == 0 {
		current, _ := Replay(cfg.BaseContent, log)
		return log, current, nil
	}

	actor := cfg.Actor
	if tx.Actor != nil {
		actor = *tx.Actor
	}
	at := tx.Time
	if at.IsZero() {
		at = time.Now()
	}

	current, _ := Replay(cfg.BaseContent, log)
	next, err := applySteps(current, tx.Steps)
	if err != nil {
		return log, current, fmt.Errorf("apply transaction steps: %w", err)
	}

	if len(log) > 0 && tx.EventID == "" {
		head := log[0]
		if head.Actor.Key() == actor.Key() && at.Sub(head.Timestamp) < MergeWindow {
			merged := head
			merged.Steps = append(append([]Step(nil), head.Steps...), tx.Steps...)
			merged.Timestamp = at
			merged.Selection = tx.Selection
			out := make(Log, len(log))
			copy(out, log)
			out[0] = merged
			return out, next, nil
		}
	}

	eventID := tx.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	event := ChangeEvent{
		ID:        eventID,
		Timestamp: at,
		Actor:     actor,
		Selection: tx.Selection,
		Steps:     append([]Step(nil), tx.Steps...),
	}
	out := make(Log, 0, len(log)+1)
	out = append(out, event)
	out = append(out, log...)
	return out, next, nil
}

// ReplacementTransaction builds a whole-document replace step list from
// the current and next content.
func ReplacementTransaction(current, next string, actor Actor, eventID string) Transaction {
	step := Step{Type: StepReplace, From: 0, To: len([]rune(current)), Text: next}
	return Transaction{
		Steps:     []Step{step},
		Actor:     &actor,
		EventID:   eventID,
		Selection: Selection{From: len([]rune(next)), To: len([]rune(next))},
	}
}

// applySteps is the strict variant used when recording fresh
// transactions: a malformed incoming step is rejected rather than
// silently dropped. Replay of persisted logs is lenient instead.
func applySteps(text string, steps []Step) (string, error) {
	runes := []rune(text)
	for _, step := range steps {
		if step.Type != StepReplace {
			return "", fmt.Errorf("unsupported step type %q", step.Type)
		}
		if step.From < 0 || step.To < step.From || step.To > len(runes) {
			return "", fmt.Errorf("step range [%d,%d) out of bounds for length %d", step.From, step.To, len(runes))
		}
		replaced := make([]rune, 0, len(runes)+len(step.Text))
		replaced = append(replaced, runes[:step.From]...)
		replaced = append(replaced, []rune(step.Text)...)
		replaced = append(replaced, runes[step.To:]...)
		runes = replaced
	}
	return string(runes), nil
}
