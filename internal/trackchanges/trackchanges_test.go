package trackchanges

import (
	"testing"
	"time"
)

var (
	avery  = UserActor("usr_1", "Avery")
	marcus = UserActor("usr_2", "Marcus")
	model  = LLMActor("quill-sonnet")
)

func insertAt(pos int, text string) Step {
	return Step{Type: StepReplace, From: pos, To: pos, Text: text}
}

func deleteRange(from, to int) Step {
	return Step{Type: StepReplace, From: from, To: to}
}

func TestRecordCreatesEvent(t *testing.T) {
	cfg := Config{BaseContent: "hello", Actor: avery}
	log, next, err := Record(cfg, nil, Transaction{
		Steps: []Step{insertAt(5, " world")},
		Time:  time.Unix(1000, 0),
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if next != "hello world" {
		t.Errorf("next content = %q", next)
	}
	if len(log) != 1 {
		t.Fatalf("expected 1 event, got %d", len(log))
	}
	if log[0].Actor.Key() != avery.Key() {
		t.Errorf("event actor = %v", log[0].Actor)
	}
	if log[0].ID == "" {
		t.Error("event id not assigned")
	}
}

func TestMergeWindowSameActor(t *testing.T) {
	cfg := Config{BaseContent: "", Actor: avery}
	base := time.Unix(1000, 0)

	log, _, err := Record(cfg, nil, Transaction{Steps: []Step{insertAt(0, "ab")}, Time: base})
	if err != nil {
		t.Fatal(err)
	}
	// 500ms later: merges into the same event.
	log, next, err := Record(cfg, log, Transaction{Steps: []Step{insertAt(2, "cd")}, Time: base.Add(500 * time.Millisecond)})
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 1 {
		t.Fatalf("500ms gap: expected 1 merged event, got %d", len(log))
	}
	if len(log[0].Steps) != 2 {
		t.Errorf("merged event has %d steps, want 2", len(log[0].Steps))
	}
	if next != "abcd" {
		t.Errorf("next = %q", next)
	}

	// 3s later: a new event.
	log, _, err = Record(cfg, log, Transaction{Steps: []Step{insertAt(4, "ef")}, Time: base.Add(500*time.Millisecond + 3*time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 2 {
		t.Fatalf("3s gap: expected 2 events, got %d", len(log))
	}
	if log[0].Timestamp != base.Add(500*time.Millisecond+3*time.Second) {
		t.Errorf("new event timestamp = %v", log[0].Timestamp)
	}
}

func TestMergeWindowDifferentActorAlwaysSplits(t *testing.T) {
	cfg := Config{BaseContent: "", Actor: avery}
	base := time.Unix(1000, 0)

	log, _, err := Record(cfg, nil, Transaction{Steps: []Step{insertAt(0, "x")}, Time: base})
	if err != nil {
		t.Fatal(err)
	}
	llm := model
	log, _, err = Record(cfg, log, Transaction{
		Steps: []Step{insertAt(1, "y")},
		Actor: &llm,
		Time:  base.Add(10 * time.Millisecond),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 2 {
		t.Fatalf("actor change inside window: expected 2 events, got %d", len(log))
	}
	if log[0].Actor.Kind != ActorLLM {
		t.Errorf("newest event actor = %v, want LLM", log[0].Actor)
	}
}

func TestExplicitEventIDForcesNewEvent(t *testing.T) {
	cfg := Config{BaseContent: "", Actor: avery}
	base := time.Unix(1000, 0)

	log, _, err := Record(cfg, nil, Transaction{Steps: []Step{insertAt(0, "x")}, Time: base})
	if err != nil {
		t.Fatal(err)
	}
	log, _, err = Record(cfg, log, Transaction{
		Steps:   []Step{insertAt(1, "y")},
		EventID: "evt_explicit",
		Time:    base.Add(time.Millisecond),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 2 {
		t.Fatalf("explicit id inside window: expected 2 events, got %d", len(log))
	}
	if log[0].ID != "evt_explicit" {
		t.Errorf("event id = %q", log[0].ID)
	}
}

func TestRecordDoesNotMutateInputLog(t *testing.T) {
	cfg := Config{BaseContent: "", Actor: avery}
	base := time.Unix(1000, 0)

	original, _, err := Record(cfg, nil, Transaction{Steps: []Step{insertAt(0, "x")}, Time: base})
	if err != nil {
		t.Fatal(err)
	}
	stepsBefore := len(original[0].Steps)

	if _, _, err := Record(cfg, original, Transaction{Steps: []Step{insertAt(1, "y")}, Time: base.Add(time.Millisecond)}); err != nil {
		t.Fatal(err)
	}
	if len(original[0].Steps) != stepsBefore {
		t.Error("Record mutated the input log's head event")
	}
}

func TestRecordRejectsOutOfRangeStep(t *testing.T) {
	cfg := Config{BaseContent: "abc", Actor: avery}
	_, current, err := Record(cfg, nil, Transaction{Steps: []Step{deleteRange(1, 99)}})
	if err == nil {
		t.Fatal("expected error for out-of-range step")
	}
	if current != "abc" {
		t.Errorf("content changed on rejected transaction: %q", current)
	}
}
