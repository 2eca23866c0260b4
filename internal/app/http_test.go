package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T) (*fixture, *httptest.Server) {
	t.Helper()
	fx := newFixture(t)
	server := httptest.NewServer(NewHTTPServer(fx.service, "*").Handler())
	t.Cleanup(server.Close)
	return fx, server
}

func doJSON(t *testing.T, method, url, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	payload := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, payload
}

func TestHealth(t *testing.T) {
	_, server := newTestServer(t)

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if payload["ok"] != true {
		t.Errorf("payload = %v", payload)
	}
}

func TestReadyReportsDatabaseFailure(t *testing.T) {
	fx, server := newTestServer(t)
	fx.store.pingErr = errors.New("connection refused")

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/ready", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if payload["status"] != "not_ready" {
		t.Errorf("payload = %v", payload)
	}
}

func TestPreflightReturnsEmptyNoContent(t *testing.T) {
	_, server := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/api/manuscripts", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if len(body) != 0 {
		t.Errorf("preflight body = %q, want empty", body)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Error("missing CORS headers on preflight")
	}
}

func TestDiffEndpoint(t *testing.T) {
	_, server := newTestServer(t)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/diff", `{"a":"the quick fox","b":"the slow fox"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	parts, ok := payload["parts"].([]any)
	if !ok || len(parts) == 0 {
		t.Fatalf("parts = %#v", payload["parts"])
	}
	sawInsert, sawDelete := false, false
	for _, raw := range parts {
		part := raw.(map[string]any)
		switch part["type"].(float64) {
		case 1:
			sawInsert = true
		case 2:
			sawDelete = true
		}
	}
	if !sawInsert || !sawDelete {
		t.Errorf("diff missing insert/delete: %#v", parts)
	}
}

func TestAttributedDiffEndpoint(t *testing.T) {
	_, server := newTestServer(t)

	body := `{"base":"A B","target":"A B C D","llmSnapshot":"A B C"}`
	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/attributed-diff", body, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	sources := map[string]string{}
	for _, raw := range payload["parts"].([]any) {
		part := raw.(map[string]any)
		if value, ok := part["value"].(string); ok {
			if source, ok := part["source"].(string); ok {
				sources[strings.TrimSpace(value)] = source
			}
		}
	}
	if sources["C"] != "LLM" {
		t.Errorf("C attributed to %q, want LLM (%v)", sources["C"], sources)
	}
	if sources["D"] != "USER" {
		t.Errorf("D attributed to %q, want USER (%v)", sources["D"], sources)
	}
}

func TestAttributedDiffRejectsBadForceSource(t *testing.T) {
	_, server := newTestServer(t)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/attributed-diff", `{"base":"","target":"x","forceSource":"ROBOT"}`, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestContentPutRecordsActorFromHeader(t *testing.T) {
	fx, server := newTestServer(t)
	fx.seedSection(t, "sec_1", "before")

	headers := map[string]string{"X-Quill-Actor": "user:usr_9:Marcus"}
	resp, _ := doJSON(t, http.MethodPut, server.URL+"/api/sections/sec_1/content", `{"content":"after"}`, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	resp, state := doJSON(t, http.MethodGet, server.URL+"/api/sections/sec_1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if state["content"] != "after" {
		t.Errorf("content = %q", state["content"])
	}
	events := state["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	actor := events[0].(map[string]any)["actor"].(map[string]any)
	if actor["name"] != "Marcus" || actor["userId"] != "usr_9" {
		t.Errorf("event actor = %v", actor)
	}
}

func TestLLMActorHeader(t *testing.T) {
	fx, server := newTestServer(t)
	fx.seedSection(t, "sec_1", "before")

	headers := map[string]string{"X-Quill-Actor": "llm:quill-sonnet"}
	resp, _ := doJSON(t, http.MethodPut, server.URL+"/api/sections/sec_1/content", `{"content":"after"}`, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	_, state := doJSON(t, http.MethodGet, server.URL+"/api/sections/sec_1", "", nil)
	actor := state["events"].([]any)[0].(map[string]any)["actor"].(map[string]any)
	if actor["kind"] != "LLM" || actor["model"] != "quill-sonnet" {
		t.Errorf("event actor = %v", actor)
	}
}

func TestReviewConflictMapping(t *testing.T) {
	fx, server := newTestServer(t)
	fx.seedSection(t, "sec_1", "text")

	// Accepting with nothing pending.
	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/sections/sec_1/review/accept", "", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if payload["code"] != "NO_REVIEW" {
		t.Errorf("code = %v", payload["code"])
	}

	// Editing with a proposal pending.
	if _, err := fx.service.Draft(context.Background(), "sec_1"); err != nil {
		t.Fatal(err)
	}
	resp, payload = doJSON(t, http.MethodPut, server.URL+"/api/sections/sec_1/content", `{"content":"x"}`, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if payload["code"] != "REVIEW_PENDING" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestUnknownSectionMapsTo404(t *testing.T) {
	_, server := newTestServer(t)

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/sections/sec_nope", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if payload["code"] != "NOT_FOUND" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	_, server := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, server.URL+"/api/nonsense", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestLockLifecycleOverHTTP(t *testing.T) {
	fx, server := newTestServer(t)
	fx.seedSection(t, "sec_1", "hello world")

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/sections/sec_1/lock", `{"from":6,"to":11}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lock status = %d", resp.StatusCode)
	}
	if payload["text"] != "world" {
		t.Errorf("locked text = %q", payload["text"])
	}

	resp, payload = doJSON(t, http.MethodPut, server.URL+"/api/sections/sec_1/lock/content", `{"text":"there"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replace status = %d", resp.StatusCode)
	}
	if payload["content"] != "hello there" {
		t.Errorf("content = %q", payload["content"])
	}

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/sections/sec_1/lock", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d", resp.StatusCode)
	}
}

func TestInvalidLockSelection(t *testing.T) {
	fx, server := newTestServer(t)
	fx.seedSection(t, "sec_1", "short")

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/sections/sec_1/lock", `{"from":2,"to":99}`, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if payload["code"] != "INVALID_SELECTION" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestBibliographyEndpoint(t *testing.T) {
	fx, server := newTestServer(t)
	fx.seedSection(t, "sec_1", "cites [[ref:z]] and [[ref:q]]")

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/manuscripts/man_1/bibliography", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	order := payload["order"].([]any)
	if len(order) != 2 || order[0] != "z" || order[1] != "q" {
		t.Errorf("order = %v", order)
	}
}
