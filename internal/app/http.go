package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"quill/api/internal/export"
	"quill/api/internal/revision"
	"quill/api/internal/trackchanges"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/manuscripts" {
		items, err := s.service.ListManuscripts(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"manuscripts": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/manuscripts" {
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateManuscript(r.Context(), body.Title)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/diff" {
		var body struct {
			A string `json:"a"`
			B string `json:"b"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"parts": s.service.WordDiff(body.A, body.B)})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/attributed-diff" {
		var body struct {
			Base        string  `json:"base"`
			Target      string  `json:"target"`
			LLMSnapshot *string `json:"llmSnapshot"`
			ForceSource string  `json:"forceSource"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		force, ok := parseActorKind(body.ForceSource)
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "forceSource must be USER or LLM", nil)
			return
		}
		parts := s.service.AttributedDiff(body.Base, body.Target, body.LLMSnapshot, force)
		writeJSON(w, http.StatusOK, map[string]any{"parts": parts})
		return
	}

	segments := splitPath(r.URL.Path)
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "manuscripts" {
		s.handleManuscript(w, r, segments[2:])
		return
	}
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "sections" {
		s.handleSection(w, r, segments[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleManuscript dispatches /api/manuscripts/{id}[/...]; segments
// starts at the id.
func (s *HTTPServer) handleManuscript(w http.ResponseWriter, r *http.Request, segments []string) {
	manuscriptID := segments[0]
	rest := segments[1:]

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		payload, err := s.service.GetManuscript(r.Context(), manuscriptID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 1 && rest[0] == "sections" && r.Method == http.MethodPost:
		var body struct {
			Title     string `json:"title"`
			SortOrder int    `json:"sortOrder"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateSection(r.Context(), manuscriptID, body.Title, body.SortOrder, actorFromRequest(r))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)

	case len(rest) == 1 && rest[0] == "bibliography" && r.Method == http.MethodGet:
		payload, err := s.service.Bibliography(r.Context(), manuscriptID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 1 && rest[0] == "references" && r.Method == http.MethodPost:
		var body struct {
			ID    string `json:"id"`
			Title string `json:"title"`
			DOI   string `json:"doi"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpsertReference(r.Context(), manuscriptID, body.ID, body.Title, body.DOI); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 2 && rest[0] == "references" && r.Method == http.MethodDelete:
		if err := s.service.DeleteReference(r.Context(), manuscriptID, rest[1]); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleSection dispatches /api/sections/{id}[/...]; segments starts at
// the id.
func (s *HTTPServer) handleSection(w http.ResponseWriter, r *http.Request, segments []string) {
	sectionID := segments[0]
	rest := segments[1:]
	actor := actorFromRequest(r)

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		query := DecorationQuery{
			ShowHighlights: r.URL.Query().Get("highlights") == "1",
			FocusedEventID: strings.TrimSpace(r.URL.Query().Get("focus")),
		}
		payload, err := s.service.SectionState(r.Context(), sectionID, query)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 1 && rest[0] == "content" && r.Method == http.MethodPut:
		var body struct {
			Content string `json:"content"`
			EventID string `json:"eventId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ApplyContentReplacement(r.Context(), sectionID, body.Content, actor, body.EventID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 1 && rest[0] == "notes" && r.Method == http.MethodPut:
		var body struct {
			Notes string `json:"notes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateNotes(r.Context(), sectionID, body.Notes, actor); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 1 && rest[0] == "lock" && r.Method == http.MethodPost:
		var body struct {
			From int `json:"from"`
			To   int `json:"to"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.LockSelection(r.Context(), sectionID, body.From, body.To)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 1 && rest[0] == "lock" && r.Method == http.MethodDelete:
		if err := s.service.ClearLock(r.Context(), sectionID); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 2 && rest[0] == "lock" && rest[1] == "content" && r.Method == http.MethodPut:
		var body struct {
			Text      string                  `json:"text"`
			EventID   string                  `json:"eventId"`
			Selection *trackchanges.Selection `json:"selection"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ApplyLockedReplacement(r.Context(), sectionID, body.Text, body.Selection, actor, body.EventID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 1 && rest[0] == "draft" && r.Method == http.MethodPost:
		payload, err := s.service.Draft(r.Context(), sectionID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 1 && rest[0] == "refine" && r.Method == http.MethodPost:
		var body struct {
			Instruction string                  `json:"instruction"`
			Selection   *trackchanges.Selection `json:"selection"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.Refine(r.Context(), sectionID, body.Instruction, body.Selection)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 2 && rest[0] == "review" && rest[1] == "accept" && r.Method == http.MethodPost:
		payload, err := s.service.AcceptReview(r.Context(), sectionID, actor)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 2 && rest[0] == "review" && rest[1] == "discard" && r.Method == http.MethodPost:
		payload, err := s.service.DiscardReview(r.Context(), sectionID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 1 && rest[0] == "versions" && r.Method == http.MethodPost:
		var body struct {
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.StartNewVersion(r.Context(), sectionID, body.Message, actor)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)

	case len(rest) == 1 && rest[0] == "versions" && r.Method == http.MethodGet:
		items, err := s.service.ListVersions(r.Context(), sectionID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": items})

	case len(rest) == 3 && rest[0] == "versions" && rest[2] == "restore" && r.Method == http.MethodPost:
		payload, err := s.service.RestoreVersion(r.Context(), sectionID, rest[1], actor)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 3 && rest[0] == "versions" && rest[2] == "diff" && r.Method == http.MethodGet:
		payload, err := s.service.VersionDiff(r.Context(), sectionID, rest[1])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 1 && rest[0] == "autosave" && r.Method == http.MethodPost:
		if err := s.service.Autosave(r.Context(), sectionID); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})

	case len(rest) == 1 && rest[0] == "html" && r.Method == http.MethodGet:
		document, order, err := s.service.SectionDocument(r.Context(), sectionID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"html": export.DocumentToHTML(document, order)})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-Quill-Actor")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// actorFromRequest parses the X-Quill-Actor header. The host owns real
// authentication; unidentified requests act as an anonymous user.
func actorFromRequest(r *http.Request) trackchanges.Actor {
	raw := strings.TrimSpace(r.Header.Get("X-Quill-Actor"))
	if raw == "" {
		return trackchanges.UserActor("usr_anonymous", "Anonymous")
	}
	parts := strings.SplitN(raw, ":", 3)
	switch parts[0] {
	case "llm":
		if len(parts) >= 2 && parts[1] != "" {
			return trackchanges.LLMActor(parts[1])
		}
	case "user":
		if len(parts) == 3 && parts[1] != "" {
			return trackchanges.UserActor(parts[1], parts[2])
		}
	}
	return trackchanges.UserActor("usr_anonymous", "Anonymous")
}

func parseActorKind(raw string) (trackchanges.ActorKind, bool) {
	switch raw {
	case "":
		return "", true
	case string(trackchanges.ActorUser):
		return trackchanges.ActorUser, true
	case string(trackchanges.ActorLLM):
		return trackchanges.ActorLLM, true
	default:
		return "", false
	}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, revision.ErrReviewing) {
		return http.StatusConflict, "REVIEW_PENDING", "A proposal is pending review", nil
	}
	if errors.Is(err, revision.ErrNotReviewing) {
		return http.StatusConflict, "NO_REVIEW", "No proposal is pending review", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
