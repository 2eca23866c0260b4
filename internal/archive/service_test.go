package archive

import (
	"testing"
	"time"

	"quill/api/internal/revision"
)

func newTestService(t *testing.T) *Service {
	return New(t.TempDir())
}

func snapshotFor(t *testing.T, content, message string) Snapshot {
	t.Helper()
	snapshot, err := SnapshotFromVersion(revision.Version{
		ID:          "ver_" + message,
		Message:     message,
		Content:     content,
		BaseContent: content,
		Provenance:  revision.ProvenanceUser,
	})
	if err != nil {
		t.Fatal(err)
	}
	return snapshot
}

func TestCommitAndReadBack(t *testing.T) {
	svc := newTestService(t)

	if err := svc.EnsureSectionRepo("sec_1", snapshotFor(t, "first draft", "init"), "Avery"); err != nil {
		t.Fatalf("EnsureSectionRepo failed: %v", err)
	}

	info, err := svc.CommitVersion("sec_1", snapshotFor(t, "second draft", "v2"), "Avery", "Save point")
	if err != nil {
		t.Fatalf("CommitVersion failed: %v", err)
	}
	if info.Hash == "" || info.Author != "Avery" {
		t.Errorf("commit info = %+v", info)
	}

	head, headInfo, err := svc.HeadSnapshot("sec_1")
	if err != nil {
		t.Fatalf("HeadSnapshot failed: %v", err)
	}
	if head.Content != "second draft" {
		t.Errorf("head content = %q", head.Content)
	}
	if headInfo.Hash != info.Hash {
		t.Errorf("head hash %q != committed hash %q", headInfo.Hash, info.Hash)
	}
}

func TestEnsureSectionRepoIsIdempotent(t *testing.T) {
	svc := newTestService(t)

	if err := svc.EnsureSectionRepo("sec_1", snapshotFor(t, "content", "init"), "Avery"); err != nil {
		t.Fatal(err)
	}
	if err := svc.EnsureSectionRepo("sec_1", snapshotFor(t, "other", "init"), "Avery"); err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}

	head, _, err := svc.HeadSnapshot("sec_1")
	if err != nil {
		t.Fatal(err)
	}
	if head.Content != "content" {
		t.Errorf("re-ensure overwrote history: %q", head.Content)
	}
}

func TestHistoryNewestFirstWithLineStats(t *testing.T) {
	svc := newTestService(t)

	if err := svc.EnsureSectionRepo("sec_1", snapshotFor(t, "line one\n", "init"), "Avery"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CommitVersion("sec_1", snapshotFor(t, "line one\nline two\n", "v2"), "Avery", "Add line"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CommitVersion("sec_1", snapshotFor(t, "line two\n", "v3"), "Marcus", "Drop line"); err != nil {
		t.Fatal(err)
	}

	history, err := svc.History("sec_1", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[0].Message != "Drop line" {
		t.Errorf("history not newest-first: %q", history[0].Message)
	}
	if history[0].Removed != 1 || history[0].Added != 0 {
		t.Errorf("drop commit stats = +%d -%d, want +0 -1", history[0].Added, history[0].Removed)
	}
	if history[1].Added != 1 || history[1].Removed != 0 {
		t.Errorf("add commit stats = +%d -%d, want +1 -0", history[1].Added, history[1].Removed)
	}

	limited, err := svc.History("sec_1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limited history length = %d, want 2", len(limited))
	}
}

func TestSnapshotByHashAndTag(t *testing.T) {
	svc := newTestService(t)

	if err := svc.EnsureSectionRepo("sec_1", snapshotFor(t, "original", "init"), "Avery"); err != nil {
		t.Fatal(err)
	}
	info, err := svc.CommitVersion("sec_1", snapshotFor(t, "edited", "v2"), "Avery", "Edit")
	if err != nil {
		t.Fatal(err)
	}

	snapshot, byHashInfo, err := svc.SnapshotByHash("sec_1", info.Hash)
	if err != nil {
		t.Fatalf("SnapshotByHash failed: %v", err)
	}
	if snapshot.Content != "edited" {
		t.Errorf("snapshot content = %q", snapshot.Content)
	}
	if byHashInfo.Hash != info.Hash {
		t.Errorf("hash mismatch: %q vs %q", byHashInfo.Hash, info.Hash)
	}

	if err := svc.CreateTag("sec_1", info.Hash, "submitted-draft"); err != nil {
		t.Fatalf("CreateTag failed: %v", err)
	}
	// Tagging the same commit twice is not an error.
	if err := svc.CreateTag("sec_1", info.Hash, "submitted-draft"); err != nil {
		t.Errorf("repeat CreateTag failed: %v", err)
	}
}

func TestSnapshotVersionRoundTrip(t *testing.T) {
	original := revision.Version{
		ID:          "ver_1",
		Message:     "checkpoint",
		Content:     "body text",
		Notes:       "outline",
		BaseContent: "body",
		Provenance:  revision.ProvenanceLLM,
	}
	snapshot, err := SnapshotFromVersion(original)
	if err != nil {
		t.Fatal(err)
	}

	created := time.Unix(1_700_000_000, 0)
	restored := snapshot.Version(created)
	if restored.ID != "ver_1" || restored.Content != "body text" || restored.Notes != "outline" {
		t.Errorf("restored = %+v", restored)
	}
	if restored.BaseContent != "body" {
		t.Errorf("base = %q", restored.BaseContent)
	}
	if restored.Provenance != revision.ProvenanceLLM {
		t.Errorf("provenance = %q", restored.Provenance)
	}
	if !restored.CreatedAt.Equal(created) {
		t.Errorf("createdAt = %v", restored.CreatedAt)
	}
	if restored.Events == nil {
		t.Error("events not defaulted on restore")
	}
}
