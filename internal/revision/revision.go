// Package revision owns the live editing session of a section: the
// working state anchored to a base snapshot, the staged-review flow for
// AI proposals, explicit save-point versions, and restoration.
package revision

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quill/api/internal/trackchanges"
)

type Provenance string

const (
	ProvenanceUser Provenance = "USER"
	ProvenanceLLM  Provenance = "LLM"
)

// Version is an immutable save point: content, notes, the base snapshot
// and event log it accumulated, and who authored the state being
// frozen.
type Version struct {
	ID          string            `json:"id"`
	Message     string            `json:"message,omitempty"`
	Content     string            `json:"content"`
	Notes       string            `json:"notes,omitempty"`
	BaseContent string            `json:"baseContent"`
	Events      trackchanges.Log  `json:"events"`
	Provenance  Provenance        `json:"provenance"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// ReviewState is a tagged union: the session is either Live or holding
// exactly one pending AI proposal. Illegal combinations (pending
// content while live) are unrepresentable.
type ReviewState interface {
	reviewState()
}

type Live struct{}

type Reviewing struct {
	PendingContent string
	Source         string // "draft" or "refine"
	Model          string
}

func (Live) reviewState()      {}
func (Reviewing) reviewState() {}

// SelectionLock pins a text range while an external refine call is in
// flight. It is advisory: if the content changes underneath it, the
// lock is invalidated rather than applied against stale offsets.
type SelectionLock struct {
	From int    `json:"from"`
	To   int    `json:"to"`
	Text string `json:"text"`
}

// Working is the live, uncommitted editing session of one section.
type Working struct {
	SectionID        string
	CurrentVersionID string
	Base             string
	StartedAt        time.Time
	Content          string
	Notes            string
	Events           trackchanges.Log
	LastLLMContent   *string
	Review           ReviewState
	Lock             *SelectionLock
}

var (
	ErrReviewing    = errors.New("a proposal is pending review")
	ErrNotReviewing = errors.New("no proposal is pending review")
)

func NewWorking(sectionID, content string, now time.Time) Working {
	return Working{
		SectionID:        sectionID,
		CurrentVersionID: uuid.NewString(),
		Base:             content,
		StartedAt:        now,
		Content:          content,
		Review:           Live{},
	}
}

// provenance tags a snapshot LLM when the content is an untouched AI
// draft, USER once a manual edit happened after the last AI write.
func (w *Working) provenance() Provenance {
	if w.LastLLMContent != nil && *w.LastLLMContent == w.Content {
		return ProvenanceLLM
	}
	return ProvenanceUser
}

// Apply records a transaction against the working log. No transaction
// may mutate live content while a proposal is outstanding.
func (w *Working) Apply(actor trackchanges.Actor, tx trackchanges.Transaction) error {
	if _, reviewing := w.Review.(Reviewing); reviewing {
		return ErrReviewing
	}
	cfg := trackchanges.Config{BaseContent: w.Base, Actor: actor}
	log, next, err := trackchanges.Record(cfg, w.Events, tx)
	if err != nil {
		return err
	}
	changed := next != w.Content
	w.Events = log
	w.Content = next
	if changed {
		w.invalidateLock()
	}
	return nil
}

// ReplaceContent is the atomic whole-document replace tagged to an
// actor.
func (w *Working) ReplaceContent(next string, actor trackchanges.Actor, eventID string, now time.Time) error {
	tx := trackchanges.ReplacementTransaction(w.Content, next, actor, eventID)
	tx.Time = now
	return w.Apply(actor, tx)
}

// LockSelection pins [from,to) and returns the locked text. A
// degenerate or out-of-range selection yields no lock.
func (w *Working) LockSelection(from, to int) (string, bool) {
	runes := []rune(w.Content)
	if from < 0 || to <= from || to > len(runes) {
		return "", false
	}
	w.Lock = &SelectionLock{From: from, To: to, Text: string(runes[from:to])}
	return w.Lock.Text, true
}

func (w *Working) ClearLock() {
	w.Lock = nil
}

// invalidateLock drops a lock whose offsets no longer describe the text
// they were taken over.
func (w *Working) invalidateLock() {
	if w.Lock == nil {
		return
	}
	runes := []rune(w.Content)
	if w.Lock.To > len(runes) || string(runes[w.Lock.From:w.Lock.To]) != w.Lock.Text {
		w.Lock = nil
	}
}

// ReplaceLocked replaces the locked range with text. With no valid lock
// it falls back to the provided selection; with neither it is a no-op
// returning the unchanged content.
func (w *Working) ReplaceLocked(text string, selection *trackchanges.Selection, actor trackchanges.Actor, eventID string, now time.Time) (string, error) {
	w.invalidateLock()
	from, to := -1, -1
	if w.Lock != nil {
		from, to = w.Lock.From, w.Lock.To
	} else if selection != nil && selection.To > selection.From {
		from, to = selection.From, selection.To
	}
	if from < 0 {
		return w.Content, nil
	}
	tx := trackchanges.Transaction{
		Steps:     []trackchanges.Step{{Type: trackchanges.StepReplace, From: from, To: to, Text: text}},
		Actor:     &actor,
		EventID:   eventID,
		Selection: trackchanges.Selection{From: from, To: from + len([]rune(text))},
		Time:      now,
	}
	if err := w.Apply(actor, tx); err != nil {
		return w.Content, err
	}
	w.Lock = nil
	return w.Content, nil
}

// BeginReview stages an AI proposal without touching live state.
func (w *Working) BeginReview(pending, source, model string) error {
	if _, reviewing := w.Review.(Reviewing); reviewing {
		return ErrReviewing
	}
	w.Review = Reviewing{PendingContent: pending, Source: source, Model: model}
	return nil
}

// AcceptReview commits the pending proposal: the pre-AI content is
// frozen as a history version, the proposal becomes live content, and
// the replacement is recorded against the LLM actor.
func (w *Working) AcceptReview(now time.Time) (Version, error) {
	reviewing, ok := w.Review.(Reviewing)
	if !ok {
		return Version{}, ErrNotReviewing
	}

	entry := w.snapshot("", now)

	w.Review = Live{}
	actor := trackchanges.LLMActor(reviewing.Model)
	if err := w.ReplaceContent(reviewing.PendingContent, actor, uuid.NewString(), now); err != nil {
		w.Review = reviewing
		return Version{}, fmt.Errorf("apply accepted proposal: %w", err)
	}
	pending := reviewing.PendingContent
	w.LastLLMContent = &pending
	return entry, nil
}

// DiscardReview drops the pending proposal and any staged lock. Content
// and log are untouched.
func (w *Working) DiscardReview() error {
	if _, ok := w.Review.(Reviewing); !ok {
		return ErrNotReviewing
	}
	w.Review = Live{}
	w.Lock = nil
	return nil
}

// StartNewVersion freezes the current state as a save point and resets
// the session onto a fresh base snapshot. The event log is cleared: a
// new base invalidates old replay steps.
func (w *Working) StartNewVersion(message string, now time.Time) (Version, error) {
	if _, reviewing := w.Review.(Reviewing); reviewing {
		return Version{}, ErrReviewing
	}
	entry := w.snapshot(message, now)
	w.reset(now)
	return entry, nil
}

// Restore replaces the session with a prior version's state and returns
// the history entry marking the restoration. Sparse fields on old
// records get defaults instead of failing the restore.
func (w *Working) Restore(version Version, now time.Time) (Version, error) {
	if _, reviewing := w.Review.(Reviewing); reviewing {
		return Version{}, ErrReviewing
	}
	w.Content = version.Content
	w.Notes = version.Notes
	w.reset(now)

	entry := Version{
		ID:          uuid.NewString(),
		Message:     "Restored from " + version.CreatedAt.Format("Jan 2, 2006 15:04"),
		Content:     w.Content,
		Notes:       w.Notes,
		BaseContent: w.Content,
		Events:      trackchanges.Log{},
		Provenance:  ProvenanceUser,
		CreatedAt:   now,
	}
	return entry, nil
}

func (w *Working) snapshot(message string, now time.Time) Version {
	events := make(trackchanges.Log, len(w.Events))
	copy(events, w.Events)
	return Version{
		ID:          uuid.NewString(),
		Message:     message,
		Content:     w.Content,
		Notes:       w.Notes,
		BaseContent: w.Base,
		Events:      events,
		Provenance:  w.provenance(),
		CreatedAt:   now,
	}
}

func (w *Working) reset(now time.Time) {
	w.CurrentVersionID = uuid.NewString()
	w.Base = w.Content
	w.StartedAt = now
	w.Events = nil
	w.LastLLMContent = nil
	w.Lock = nil
	w.Review = Live{}
}

// Normalize substitutes defaults for missing fields on a version record
// loaded from an old schema.
func Normalize(version Version) Version {
	if version.Events == nil {
		version.Events = trackchanges.Log{}
	}
	if version.BaseContent == "" {
		version.BaseContent = version.Content
	}
	if version.Provenance == "" {
		version.Provenance = ProvenanceUser
	}
	return version
}
