package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"quill/api/internal/revision"
	"quill/api/internal/trackchanges"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSaveAndLoadWorking(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	avery := trackchanges.UserActor("usr_1", "Avery")

	w := revision.NewWorking("sec_1", "hello", time.Unix(1_700_000_000, 0))
	if err := w.ReplaceContent("hello world", avery, "", time.Unix(1_700_000_100, 0)); err != nil {
		t.Fatal(err)
	}
	w.Notes = "draft notes"
	w.LockSelection(0, 5)

	if err := store.SaveWorking(ctx, w); err != nil {
		t.Fatalf("SaveWorking failed: %v", err)
	}

	loaded, err := store.LoadWorking(ctx, "sec_1")
	if err != nil {
		t.Fatalf("LoadWorking failed: %v", err)
	}
	if loaded.Content != "hello world" || loaded.Base != "hello" {
		t.Errorf("loaded content/base = %q / %q", loaded.Content, loaded.Base)
	}
	if loaded.Notes != "draft notes" {
		t.Errorf("loaded notes = %q", loaded.Notes)
	}
	if len(loaded.Events) != 1 {
		t.Fatalf("loaded %d events, want 1", len(loaded.Events))
	}
	if loaded.Events[0].Actor.Key() != avery.Key() {
		t.Errorf("event actor = %+v", loaded.Events[0].Actor)
	}
	if loaded.Lock == nil || loaded.Lock.Text != "hello" {
		t.Errorf("lock did not survive round trip: %+v", loaded.Lock)
	}
	if _, live := loaded.Review.(revision.Live); !live {
		t.Errorf("review state = %T, want Live", loaded.Review)
	}
}

func TestReviewStateSurvivesRoundTrip(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	w := revision.NewWorking("sec_2", "base", time.Now())
	if err := w.BeginReview("proposed", "refine", "quill-sonnet"); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveWorking(context.Background(), w); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.LoadWorking(context.Background(), "sec_2")
	if err != nil {
		t.Fatal(err)
	}
	reviewing, ok := loaded.Review.(revision.Reviewing)
	if !ok {
		t.Fatalf("review state = %T, want Reviewing", loaded.Review)
	}
	if reviewing.PendingContent != "proposed" || reviewing.Source != "refine" || reviewing.Model != "quill-sonnet" {
		t.Errorf("reviewing = %+v", reviewing)
	}
}

func TestLoadMissingSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	_, err := store.LoadWorking(context.Background(), "sec_none")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSessionExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	w := revision.NewWorking("sec_3", "content", time.Now())
	if err := store.SaveWorking(ctx, w); err != nil {
		t.Fatal(err)
	}

	s.FastForward(DefaultTTL + time.Second)

	_, err := store.LoadWorking(ctx, "sec_3")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expired session: err = %v, want ErrNotFound", err)
	}
}

func TestDropWorking(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveWorking(ctx, revision.NewWorking("sec_4", "x", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := store.DropWorking(ctx, "sec_4"); err != nil {
		t.Fatalf("DropWorking failed: %v", err)
	}
	if _, err := store.LoadWorking(ctx, "sec_4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("dropped session still loads: %v", err)
	}

	// Dropping a missing session is not an error.
	if err := store.DropWorking(ctx, "sec_none"); err != nil {
		t.Errorf("DropWorking for missing session failed: %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	a := revision.NewWorking("sec_a", "content a", time.Now())
	b := revision.NewWorking("sec_b", "content b", time.Now())
	if err := store.SaveWorking(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveWorking(ctx, b); err != nil {
		t.Fatal(err)
	}

	if err := store.DropWorking(ctx, "sec_a"); err != nil {
		t.Fatal(err)
	}

	if _, err := store.LoadWorking(ctx, "sec_a"); !errors.Is(err, ErrNotFound) {
		t.Error("sec_a survived its drop")
	}
	loaded, err := store.LoadWorking(ctx, "sec_b")
	if err != nil {
		t.Fatalf("sec_b lost: %v", err)
	}
	if loaded.Content != "content b" {
		t.Errorf("sec_b content = %q", loaded.Content)
	}
}
