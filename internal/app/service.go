package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"quill/api/internal/archive"
	"quill/api/internal/assistant"
	"quill/api/internal/attrib"
	"quill/api/internal/bib"
	"quill/api/internal/doc"
	"quill/api/internal/revision"
	"quill/api/internal/session"
	"quill/api/internal/store"
	"quill/api/internal/trackchanges"
	"quill/api/internal/util"
	"quill/api/internal/worddiff"
)

type dataStore interface {
	ListManuscripts(context.Context) ([]store.Manuscript, error)
	GetManuscript(context.Context, string) (store.Manuscript, error)
	InsertManuscript(context.Context, store.Manuscript) error
	ListSections(context.Context, string) ([]store.Section, error)
	GetSection(context.Context, string) (store.Section, error)
	InsertSection(context.Context, store.Section) error
	TouchSection(context.Context, string, string) error
	ListReferences(context.Context, string) ([]store.Reference, error)
	UpsertReference(context.Context, store.Reference) error
	DeleteReference(context.Context, string, string) error
	InsertVersionRecord(context.Context, store.VersionRecord) error
	ListVersionRecords(context.Context, string) ([]store.VersionRecord, error)
	GetVersionRecord(context.Context, string, string) (store.VersionRecord, error)
	Ping(context.Context) error
}

type archiveService interface {
	EnsureSectionRepo(sectionID string, initial archive.Snapshot, author string) error
	CommitVersion(sectionID string, snapshot archive.Snapshot, author, message string) (store.CommitInfo, error)
	HeadSnapshot(sectionID string) (archive.Snapshot, store.CommitInfo, error)
	SnapshotByHash(sectionID, hash string) (archive.Snapshot, store.CommitInfo, error)
	History(sectionID string, limit int) ([]store.CommitInfo, error)
	CreateTag(sectionID, hash, name string) error
}

type sessionStore interface {
	SaveWorking(context.Context, revision.Working) error
	LoadWorking(context.Context, string) (revision.Working, error)
	DropWorking(context.Context, string) error
}

// sectionSession is the in-memory handle on one section's live state.
// All mutation happens under its mutex; redis holds the durable copy.
type sectionSession struct {
	mu       sync.Mutex
	working  revision.Working
	autosave *revision.Debouncer
}

type Service struct {
	store          dataStore
	archive        archiveService
	sessions       sessionStore
	assistant      assistant.Client
	autosaveWindow time.Duration

	mu       sync.Mutex
	sections map[string]*sectionSession
}

func NewService(dataStore dataStore, archiveSvc archiveService, sessions sessionStore, assistantClient assistant.Client, autosaveWindow time.Duration) *Service {
	if autosaveWindow <= 0 {
		autosaveWindow = revision.AutosaveWindow
	}
	return &Service{
		store:          dataStore,
		archive:        archiveSvc,
		sessions:       sessions,
		assistant:      assistantClient,
		autosaveWindow: autosaveWindow,
		sections:       make(map[string]*sectionSession),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) ListManuscripts(ctx context.Context) ([]map[string]any, error) {
	manuscripts, err := s.store.ListManuscripts(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(manuscripts))
	for _, m := range manuscripts {
		items = append(items, map[string]any{
			"id":        m.ID,
			"title":     m.Title,
			"createdAt": m.CreatedAt,
			"updatedAt": m.UpdatedAt,
		})
	}
	return items, nil
}

func (s *Service) CreateManuscript(ctx context.Context, title string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	item := store.Manuscript{ID: util.NewID("man"), Title: title}
	if err := s.store.InsertManuscript(ctx, item); err != nil {
		return nil, fmt.Errorf("create manuscript: %w", err)
	}
	return map[string]any{"id": item.ID, "title": item.Title}, nil
}

func (s *Service) GetManuscript(ctx context.Context, manuscriptID string) (map[string]any, error) {
	manuscript, err := s.store.GetManuscript(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	sections, err := s.store.ListSections(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	sectionItems := make([]map[string]any, 0, len(sections))
	for _, section := range sections {
		sectionItems = append(sectionItems, map[string]any{
			"id":        section.ID,
			"title":     section.Title,
			"sortOrder": section.SortOrder,
			"updatedBy": section.UpdatedBy,
			"updatedAt": section.UpdatedAt,
		})
	}
	return map[string]any{
		"id":        manuscript.ID,
		"title":     manuscript.Title,
		"createdAt": manuscript.CreatedAt,
		"updatedAt": manuscript.UpdatedAt,
		"sections":  sectionItems,
	}, nil
}

// CreateSection registers the section row and seeds its archive with an
// empty first version.
func (s *Service) CreateSection(ctx context.Context, manuscriptID, title string, sortOrder int, actor trackchanges.Actor) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if _, err := s.store.GetManuscript(ctx, manuscriptID); err != nil {
		return nil, err
	}

	section := store.Section{
		ID:           util.NewID("sec"),
		ManuscriptID: manuscriptID,
		Title:        title,
		SortOrder:    sortOrder,
		UpdatedBy:    actor.Display(),
	}
	if err := s.store.InsertSection(ctx, section); err != nil {
		return nil, fmt.Errorf("create section: %w", err)
	}

	working := revision.NewWorking(section.ID, "", time.Now())
	initial, err := archive.SnapshotFromVersion(revision.Version{
		ID:         working.CurrentVersionID,
		Content:    "",
		Provenance: revision.ProvenanceUser,
	})
	if err != nil {
		return nil, err
	}
	if err := s.archive.EnsureSectionRepo(section.ID, initial, actor.Display()); err != nil {
		return nil, fmt.Errorf("seed section archive: %w", err)
	}

	s.mu.Lock()
	s.sections[section.ID] = &sectionSession{working: working, autosave: revision.NewDebouncer(s.autosaveWindow)}
	s.mu.Unlock()

	return map[string]any{
		"id":           section.ID,
		"manuscriptId": manuscriptID,
		"title":        title,
		"sortOrder":    sortOrder,
	}, nil
}

// session resolves the live state for a section: in-memory first, then
// the redis snapshot, then a fresh session rebuilt from the archive
// head.
func (s *Service) session(ctx context.Context, sectionID string) (*sectionSession, error) {
	s.mu.Lock()
	if sess, ok := s.sections[sectionID]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	if _, err := s.store.GetSection(ctx, sectionID); err != nil {
		return nil, err
	}

	working, err := s.sessions.LoadWorking(ctx, sectionID)
	if errors.Is(err, session.ErrNotFound) {
		snapshot, _, headErr := s.archive.HeadSnapshot(sectionID)
		if headErr != nil {
			return nil, fmt.Errorf("rebuild session from archive: %w", headErr)
		}
		working = revision.NewWorking(sectionID, snapshot.Content, time.Now())
		working.Notes = snapshot.Notes
		working.CurrentVersionID = snapshot.VersionID
	} else if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sections[sectionID]; ok {
		return sess, nil
	}
	sess := &sectionSession{working: working, autosave: revision.NewDebouncer(s.autosaveWindow)}
	s.sections[sectionID] = sess
	return sess, nil
}

// DecorationQuery selects the change-highlight view for section state.
type DecorationQuery struct {
	ShowHighlights bool
	FocusedEventID string
}

func (s *Service) SectionState(ctx context.Context, sectionID string, query DecorationQuery) (map[string]any, error) {
	section, err := s.store.GetSection(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	sess, err := s.session(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.sectionPayload(section, &sess.working, query), nil
}

func (s *Service) sectionPayload(section store.Section, w *revision.Working, query DecorationQuery) map[string]any {
	_, changeset := trackchanges.Replay(w.Base, w.Events)
	decorations := trackchanges.Decorations(changeset, trackchanges.DecorationOptions{
		ShowHighlights: query.ShowHighlights,
		FocusedEventID: query.FocusedEventID,
	})

	payload := map[string]any{
		"sectionId":        section.ID,
		"manuscriptId":     section.ManuscriptID,
		"title":            section.Title,
		"content":          w.Content,
		"notes":            w.Notes,
		"currentVersionId": w.CurrentVersionID,
		"startedAt":        w.StartedAt,
		"events":           w.Events,
		"decorations":      decorations,
	}
	if w.Lock != nil {
		payload["lock"] = w.Lock
	}
	if reviewing, ok := w.Review.(revision.Reviewing); ok {
		payload["reviewing"] = map[string]any{
			"pendingContent": reviewing.PendingContent,
			"source":         reviewing.Source,
			"model":          reviewing.Model,
		}
	}
	return payload
}

// ApplyContentReplacement records a whole-content replacement from the
// editor and schedules an autosave.
func (s *Service) ApplyContentReplacement(ctx context.Context, sectionID, content string, actor trackchanges.Actor, eventID string) (map[string]any, error) {
	sess, err := s.session(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.working.ReplaceContent(content, actor, eventID, time.Now()); err != nil {
		return nil, err
	}
	if err := s.store.TouchSection(ctx, sectionID, actor.Display()); err != nil {
		log.Printf("touch section %s: %v", sectionID, err)
	}
	s.scheduleAutosave(sectionID, sess)
	return map[string]any{"content": sess.working.Content, "events": sess.working.Events}, nil
}

func (s *Service) UpdateNotes(ctx context.Context, sectionID, notes string, actor trackchanges.Actor) error {
	sess, err := s.session(ctx, sectionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.working.Notes = notes
	s.scheduleAutosave(sectionID, sess)
	return nil
}

func (s *Service) LockSelection(ctx context.Context, sectionID string, from, to int) (map[string]any, error) {
	sess, err := s.session(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	text, ok := sess.working.LockSelection(from, to)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_SELECTION", "selection is empty or out of range", nil)
	}
	return map[string]any{"from": from, "to": to, "text": text}, nil
}

func (s *Service) ClearLock(ctx context.Context, sectionID string) error {
	sess, err := s.session(ctx, sectionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.working.ClearLock()
	return nil
}

// ApplyLockedReplacement replaces the locked range, falling back to the
// given selection when the lock was invalidated, else a no-op.
func (s *Service) ApplyLockedReplacement(ctx context.Context, sectionID, text string, selection *trackchanges.Selection, actor trackchanges.Actor, eventID string) (map[string]any, error) {
	sess, err := s.session(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	content, err := sess.working.ReplaceLocked(text, selection, actor, eventID, time.Now())
	if err != nil {
		return nil, err
	}
	s.scheduleAutosave(sectionID, sess)
	return map[string]any{"content": content}, nil
}

// Draft asks the assistant for a full section body and stages it for
// review. Live content is untouched until the proposal is accepted.
func (s *Service) Draft(ctx context.Context, sectionID string) (map[string]any, error) {
	if s.assistant == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ASSISTANT_UNAVAILABLE", "Assistant is not configured", nil)
	}
	section, err := s.store.GetSection(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	sess, err := s.session(ctx, sectionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if _, reviewing := sess.working.Review.(revision.Reviewing); reviewing {
		sess.mu.Unlock()
		return nil, revision.ErrReviewing
	}
	req := assistant.DraftRequest{
		SectionTitle: section.Title,
		Notes:        sess.working.Notes,
		Content:      sess.working.Content,
	}
	sess.mu.Unlock()

	// The provider call happens outside the session lock; a failure
	// leaves the session Live with nothing recorded.
	pending, err := s.assistant.Draft(ctx, req)
	if err != nil {
		return nil, domainError(http.StatusBadGateway, "ASSISTANT_FAILED", "Draft request failed", err.Error())
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.working.BeginReview(pending, "draft", s.assistant.Model()); err != nil {
		return nil, err
	}
	return map[string]any{"pendingContent": pending, "source": "draft", "model": s.assistant.Model()}, nil
}

// Refine rewrites the locked passage per the instruction and stages the
// spliced result for review.
func (s *Service) Refine(ctx context.Context, sectionID, instruction string, selection *trackchanges.Selection) (map[string]any, error) {
	if s.assistant == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ASSISTANT_UNAVAILABLE", "Assistant is not configured", nil)
	}
	if strings.TrimSpace(instruction) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "instruction is required", nil)
	}
	sess, err := s.session(ctx, sectionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if _, reviewing := sess.working.Review.(revision.Reviewing); reviewing {
		sess.mu.Unlock()
		return nil, revision.ErrReviewing
	}
	from, to, passage, ok := refineTarget(&sess.working, selection)
	if !ok {
		sess.mu.Unlock()
		return nil, domainError(http.StatusUnprocessableEntity, "NO_SELECTION", "no locked or provided selection to refine", nil)
	}
	content := sess.working.Content
	req := assistant.RefineRequest{Instruction: instruction, Passage: passage, Content: content}
	sess.mu.Unlock()

	replacement, err := s.assistant.Refine(ctx, req)
	if err != nil {
		return nil, domainError(http.StatusBadGateway, "ASSISTANT_FAILED", "Refine request failed", err.Error())
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.working.Content != content {
		// The document moved under the call; the splice offsets are
		// stale, so the proposal is dropped.
		return nil, domainError(http.StatusConflict, "STALE_SELECTION", "content changed while refining", nil)
	}
	runes := []rune(content)
	pending := string(runes[:from]) + replacement + string(runes[to:])
	if err := sess.working.BeginReview(pending, "refine", s.assistant.Model()); err != nil {
		return nil, err
	}
	return map[string]any{"pendingContent": pending, "source": "refine", "model": s.assistant.Model()}, nil
}

func refineTarget(w *revision.Working, selection *trackchanges.Selection) (from, to int, passage string, ok bool) {
	runes := []rune(w.Content)
	if w.Lock != nil {
		return w.Lock.From, w.Lock.To, w.Lock.Text, true
	}
	if selection != nil && selection.To > selection.From && selection.From >= 0 && selection.To <= len(runes) {
		return selection.From, selection.To, string(runes[selection.From:selection.To]), true
	}
	return 0, 0, "", false
}

// AcceptReview commits the pending proposal: the pre-AI state becomes a
// history version and the proposal goes live.
func (s *Service) AcceptReview(ctx context.Context, sectionID string, actor trackchanges.Actor) (map[string]any, error) {
	sess, err := s.session(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	entry, err := sess.working.AcceptReview(time.Now())
	if err != nil {
		return nil, err
	}
	info, err := s.recordVersion(ctx, sectionID, entry, actor, "Before AI proposal")
	if err != nil {
		return nil, err
	}
	s.scheduleAutosave(sectionID, sess)
	return map[string]any{
		"content":   sess.working.Content,
		"versionId": entry.ID,
		"commit":    info.Hash,
	}, nil
}

func (s *Service) DiscardReview(ctx context.Context, sectionID string) (map[string]any, error) {
	sess, err := s.session(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.working.DiscardReview(); err != nil {
		return nil, err
	}
	return map[string]any{"content": sess.working.Content}, nil
}

// StartNewVersion freezes the session as an explicit save point.
func (s *Service) StartNewVersion(ctx context.Context, sectionID, message string, actor trackchanges.Actor) (map[string]any, error) {
	sess, err := s.session(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	entry, err := sess.working.StartNewVersion(message, time.Now())
	if err != nil {
		return nil, err
	}
	info, err := s.recordVersion(ctx, sectionID, entry, actor, message)
	if err != nil {
		return nil, err
	}
	if message != "" {
		if err := s.archive.CreateTag(sectionID, info.Hash, tagName(message)); err != nil {
			log.Printf("tag version %s: %v", entry.ID, err)
		}
	}
	s.dropSnapshot(sectionID, sess)
	return map[string]any{
		"versionId":        entry.ID,
		"commit":           info.Hash,
		"currentVersionId": sess.working.CurrentVersionID,
		"provenance":       entry.Provenance,
	}, nil
}

func (s *Service) ListVersions(ctx context.Context, sectionID string) ([]map[string]any, error) {
	if _, err := s.store.GetSection(ctx, sectionID); err != nil {
		return nil, err
	}
	records, err := s.store.ListVersionRecords(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	stats := make(map[string]store.CommitInfo)
	if history, err := s.archive.History(sectionID, 0); err == nil {
		for _, info := range history {
			stats[info.Hash] = info
		}
	} else {
		log.Printf("read section history %s: %v", sectionID, err)
	}

	items := make([]map[string]any, 0, len(records))
	for _, record := range records {
		item := map[string]any{
			"id":         record.ID,
			"commit":     record.CommitHash,
			"message":    record.Message,
			"provenance": record.Provenance,
			"createdBy":  record.CreatedBy,
			"createdAt":  record.CreatedAt,
		}
		if info, ok := stats[record.CommitHash]; ok {
			item["added"] = info.Added
			item["removed"] = info.Removed
		}
		items = append(items, item)
	}
	return items, nil
}

// RestoreVersion replaces the live session with a prior version's
// state and records the restoration as its own save point.
func (s *Service) RestoreVersion(ctx context.Context, sectionID, versionID string, actor trackchanges.Actor) (map[string]any, error) {
	record, err := s.store.GetVersionRecord(ctx, sectionID, versionID)
	if err != nil {
		return nil, err
	}
	snapshot, _, err := s.archive.SnapshotByHash(sectionID, record.CommitHash)
	if err != nil {
		return nil, fmt.Errorf("read version snapshot: %w", err)
	}
	version := snapshot.Version(record.CreatedAt)

	sess, err := s.session(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	entry, err := sess.working.Restore(version, time.Now())
	if err != nil {
		return nil, err
	}
	info, err := s.recordVersion(ctx, sectionID, entry, actor, entry.Message)
	if err != nil {
		return nil, err
	}
	s.dropSnapshot(sectionID, sess)
	return map[string]any{
		"content":   sess.working.Content,
		"notes":     sess.working.Notes,
		"versionId": entry.ID,
		"commit":    info.Hash,
	}, nil
}

// VersionDiff attributes a version's changes against its predecessor:
// exact replay when the version kept its event log, the three-way
// heuristic otherwise.
func (s *Service) VersionDiff(ctx context.Context, sectionID, versionID string) (map[string]any, error) {
	record, err := s.store.GetVersionRecord(ctx, sectionID, versionID)
	if err != nil {
		return nil, err
	}
	snapshot, _, err := s.archive.SnapshotByHash(sectionID, record.CommitHash)
	if err != nil {
		return nil, fmt.Errorf("read version snapshot: %w", err)
	}
	version := snapshot.Version(record.CreatedAt)

	var parts []attrib.Part
	mode := "heuristic"
	if len(version.Events) > 0 {
		parts = attrib.FromLog(version.BaseContent, version.Events)
		mode = "exact"
	} else {
		parts = attrib.Compute(version.BaseContent, version.Content, attrib.Options{})
	}
	return map[string]any{"mode": mode, "parts": parts}, nil
}

func (s *Service) WordDiff(a, b string) []worddiff.Part {
	return worddiff.Diff(a, b)
}

func (s *Service) AttributedDiff(base, target string, llmSnapshot *string, forceSource trackchanges.ActorKind) []attrib.Part {
	opts := attrib.Options{ForceSource: forceSource}
	if llmSnapshot != nil {
		opts.LLMSnapshot = *llmSnapshot
		opts.HasSnapshot = true
	}
	return attrib.Compute(base, target, opts)
}

// Bibliography orders the manuscript's references by first citation
// appearance across its sections and joins in stored metadata.
func (s *Service) Bibliography(ctx context.Context, manuscriptID string) (map[string]any, error) {
	if _, err := s.store.GetManuscript(ctx, manuscriptID); err != nil {
		return nil, err
	}
	sections, err := s.store.ListSections(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}

	contents := make([]string, 0, len(sections))
	for _, section := range sections {
		sess, err := s.session(ctx, section.ID)
		if err != nil {
			return nil, fmt.Errorf("load section %s: %w", section.ID, err)
		}
		sess.mu.Lock()
		contents = append(contents, sess.working.Content)
		sess.mu.Unlock()
	}
	order := bib.Order(contents)

	references, err := s.store.ListReferences(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.Reference, len(references))
	for _, ref := range references {
		byID[ref.RefID] = ref
	}

	entries := make([]map[string]any, 0, len(order))
	for i, id := range order {
		entry := map[string]any{"id": id, "position": i + 1, "label": bib.Label(order, []string{id})}
		if ref, ok := byID[id]; ok {
			entry["title"] = ref.Title
			entry["doi"] = ref.DOI
		}
		entries = append(entries, entry)
	}
	return map[string]any{"order": order, "entries": entries}, nil
}

func (s *Service) UpsertReference(ctx context.Context, manuscriptID, refID, title, doi string) error {
	if strings.TrimSpace(refID) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "reference id is required", nil)
	}
	if _, err := s.store.GetManuscript(ctx, manuscriptID); err != nil {
		return err
	}
	return s.store.UpsertReference(ctx, store.Reference{
		ManuscriptID: manuscriptID,
		RefID:        refID,
		Title:        title,
		DOI:          doi,
	})
}

func (s *Service) DeleteReference(ctx context.Context, manuscriptID, refID string) error {
	return s.store.DeleteReference(ctx, manuscriptID, refID)
}

// Autosave schedules a debounced working-state persist. Sessions in
// review are skipped; the pending proposal is not durable state.
func (s *Service) Autosave(ctx context.Context, sectionID string) error {
	sess, err := s.session(ctx, sectionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	s.scheduleAutosave(sectionID, sess)
	return nil
}

// dropSnapshot removes the redis copy of a session whose state is now
// fully captured by the archive head. Called with sess.mu held.
func (s *Service) dropSnapshot(sectionID string, sess *sectionSession) {
	sess.autosave.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sessions.DropWorking(ctx, sectionID); err != nil {
		log.Printf("drop session snapshot %s: %v", sectionID, err)
	}
}

// scheduleAutosave is called with sess.mu held.
func (s *Service) scheduleAutosave(sectionID string, sess *sectionSession) {
	if _, reviewing := sess.working.Review.(revision.Reviewing); reviewing {
		return
	}
	sess.autosave.Trigger(func() {
		s.persistWorking(sectionID, sess)
	})
}

func (s *Service) persistWorking(sectionID string, sess *sectionSession) {
	sess.mu.Lock()
	// A timer armed before a proposal was staged must not persist the
	// review state.
	if _, reviewing := sess.working.Review.(revision.Reviewing); reviewing {
		sess.mu.Unlock()
		return
	}
	working := sess.working
	sess.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sessions.SaveWorking(ctx, working); err != nil {
		log.Printf("autosave section %s: %v", sectionID, err)
	}
}

// recordVersion is called with the session lock held. It writes the
// snapshot commit and its metadata row.
func (s *Service) recordVersion(ctx context.Context, sectionID string, entry revision.Version, actor trackchanges.Actor, message string) (store.CommitInfo, error) {
	snapshot, err := archive.SnapshotFromVersion(entry)
	if err != nil {
		return store.CommitInfo{}, err
	}
	if message == "" {
		message = "Save point"
	}
	info, err := s.archive.CommitVersion(sectionID, snapshot, actor.Display(), message)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("commit version: %w", err)
	}
	record := store.VersionRecord{
		ID:         entry.ID,
		SectionID:  sectionID,
		CommitHash: info.Hash,
		Message:    entry.Message,
		Provenance: string(entry.Provenance),
		CreatedBy:  actor.Display(),
		CreatedAt:  entry.CreatedAt,
	}
	if err := s.store.InsertVersionRecord(ctx, record); err != nil {
		return store.CommitInfo{}, fmt.Errorf("record version: %w", err)
	}
	if err := s.store.TouchSection(ctx, sectionID, actor.Display()); err != nil {
		log.Printf("touch section %s: %v", sectionID, err)
	}
	return info, nil
}

// SectionDocument returns the decoded tree for a section plus its
// manuscript-wide citation numbering, for read-only rendering.
func (s *Service) SectionDocument(ctx context.Context, sectionID string) (doc.Document, []string, error) {
	section, err := s.store.GetSection(ctx, sectionID)
	if err != nil {
		return doc.Document{}, nil, err
	}
	sections, err := s.store.ListSections(ctx, section.ManuscriptID)
	if err != nil {
		return doc.Document{}, nil, err
	}
	contents := make([]string, 0, len(sections))
	var own string
	for _, item := range sections {
		sess, err := s.session(ctx, item.ID)
		if err != nil {
			return doc.Document{}, nil, err
		}
		sess.mu.Lock()
		contents = append(contents, sess.working.Content)
		if item.ID == sectionID {
			own = sess.working.Content
		}
		sess.mu.Unlock()
	}
	return doc.Decode(own), bib.Order(contents), nil
}

func tagName(message string) string {
	name := strings.ToLower(strings.TrimSpace(message))
	var out []rune
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "save-point"
	}
	if len(out) > 40 {
		out = out[:40]
	}
	return string(out)
}
