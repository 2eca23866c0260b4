// Package archive keeps each section's version history in a local git
// repository: one commit per save point, tags for named versions. Git
// gives immutable history and cheap restoration by hash without a
// bespoke snapshot format.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sergi/go-diff/diffmatchpatch"

	"quill/api/internal/revision"
	"quill/api/internal/store"
)

const snapshotFile = "section.json"

// Snapshot is the committed form of a save-point version.
type Snapshot struct {
	VersionID   string              `json:"versionId"`
	Message     string              `json:"message,omitempty"`
	Content     string              `json:"content"`
	Notes       string              `json:"notes,omitempty"`
	BaseContent string              `json:"baseContent"`
	Events      json.RawMessage     `json:"events,omitempty"`
	Provenance  revision.Provenance `json:"provenance"`
}

func SnapshotFromVersion(version revision.Version) (Snapshot, error) {
	events, err := json.Marshal(version.Events)
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal version events: %w", err)
	}
	return Snapshot{
		VersionID:   version.ID,
		Message:     version.Message,
		Content:     version.Content,
		Notes:       version.Notes,
		BaseContent: version.BaseContent,
		Events:      events,
		Provenance:  version.Provenance,
	}, nil
}

// Version rebuilds a revision.Version, substituting defaults for
// fields missing on snapshots from older schemas.
func (s Snapshot) Version(createdAt time.Time) revision.Version {
	version := revision.Version{
		ID:          s.VersionID,
		Message:     s.Message,
		Content:     s.Content,
		Notes:       s.Notes,
		BaseContent: s.BaseContent,
		Provenance:  s.Provenance,
		CreatedAt:   createdAt,
	}
	if len(s.Events) > 0 {
		// A snapshot with undecodable events degrades to an empty log
		// rather than failing the restore.
		_ = json.Unmarshal(s.Events, &version.Events)
	}
	return revision.Normalize(version)
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureSectionRepo initializes the history repo for a new section with
// its first snapshot, if it does not exist yet.
func (s *Service) EnsureSectionRepo(sectionID string, initial Snapshot, author string) error {
	lock := s.sectionLock(sectionID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(sectionID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	hash, err := s.writeSnapshot(repo, initial, author, "Create section")
	if err != nil {
		return err
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitVersion appends a save point to the section's history.
func (s *Service) CommitVersion(sectionID string, snapshot Snapshot, author, message string) (store.CommitInfo, error) {
	lock := s.sectionLock(sectionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(sectionID))
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	hash, err := s.writeSnapshot(repo, snapshot, author, message)
	if err != nil {
		return store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return s.commitInfo(commitObj), nil
}

// HeadSnapshot returns the latest committed snapshot.
func (s *Service) HeadSnapshot(sectionID string) (Snapshot, store.CommitInfo, error) {
	lock := s.sectionLock(sectionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(sectionID))
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, fmt.Errorf("resolve main: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}
	snapshot, err := readSnapshotFromCommit(commitObj)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	return snapshot, s.commitInfo(commitObj), nil
}

// SnapshotByHash reads the snapshot frozen in a specific commit.
func (s *Service) SnapshotByHash(sectionID, hash string) (Snapshot, store.CommitInfo, error) {
	lock := s.sectionLock(sectionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(sectionID))
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	snapshot, err := readSnapshotFromCommit(commitObj)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	return snapshot, s.commitInfo(commitObj), nil
}

// History lists commits newest-first with per-commit line stats.
func (s *Service) History(sectionID string, limit int) ([]store.CommitInfo, error) {
	lock := s.sectionLock(sectionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(sectionID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, s.commitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// CreateTag marks a commit as a named version.
func (s *Service) CreateTag(sectionID, hash, name string) error {
	lock := s.sectionLock(sectionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(sectionID))
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return err
	}
	_, err = repo.CreateTag(name, resolvedHash, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "Quill",
			Email: "quill@localhost",
			When:  time.Now(),
		},
		Message: name,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func (s *Service) repoPath(sectionID string) string {
	return filepath.Join(s.baseDir, sectionID)
}

func (s *Service) sectionLock(sectionID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[sectionID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[sectionID] = lock
	return lock
}

func (s *Service) writeSnapshot(repo *git.Repository, snapshot Snapshot, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal snapshot: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add snapshot: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.quill.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func readSnapshotFromCommit(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

// commitInfo builds display metadata for a commit, including line-level
// added/removed counts against the parent snapshot's content.
func (s *Service) commitInfo(commitObj *object.Commit) store.CommitInfo {
	info := store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}

	current, err := readSnapshotFromCommit(commitObj)
	if err != nil {
		return info
	}
	parentContent := ""
	if parent, err := commitObj.Parent(0); err == nil {
		if parentSnapshot, err := readSnapshotFromCommit(parent); err == nil {
			parentContent = parentSnapshot.Content
		}
	}
	info.Added, info.Removed = lineStats(parentContent, current.Content)
	return info
}

func lineStats(before, after string) (int, int) {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(beforeChars, afterChars, false), lineArray)

	added, removed := 0, 0
	for _, diff := range diffs {
		lines := countLines(diff.Text)
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			added += lines
		case diffmatchpatch.DiffDelete:
			removed += lines
		}
	}
	return added, removed
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	count := 0
	for _, r := range text {
		if r == '\n' {
			count++
		}
	}
	if text[len(text)-1] != '\n' {
		count++
	}
	return count
}

func sanitizeEmail(input string) string {
	sanitized := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sanitized = append(sanitized, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			sanitized = append(sanitized, '.')
		}
	}
	if len(sanitized) == 0 {
		return "author"
	}
	return string(sanitized)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
