package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/robertcprice/agent-monitor/internal/analytics"
	"github.com/robertcprice/agent-monitor/internal/bus"
	"github.com/robertcprice/agent-monitor/internal/model"
	"github.com/robertcprice/agent-monitor/internal/privacy"
	"github.com/robertcprice/agent-monitor/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	b := bus.New()
	am := analytics.NewManager(60)
	cfg := DefaultConfig()
	return NewServer(cfg, st, b, am, &privacy.Filter{})
}

func seedSessions(t *testing.T, s *Server, n int, kind model.AgentKind) {
	t.Helper()
	for i := 0; i < n; i++ {
		now := time.Now().UTC().Add(time.Duration(i) * time.Minute)
		sess := &model.Session{
			ID:             fmt.Sprintf("%s:%d", kind, i),
			AgentKind:      kind,
			ExternalID:     fmt.Sprintf("ext-%d", i),
			ProjectPath:    "/p",
			Status:         model.StatusActive,
			StartedAt:      now,
			LastActivityAt: now,
		}
		if err := s.store.UpsertSession(sess); err != nil {
			t.Fatalf("failed to seed session: %v", err)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %v", body["status"])
	}
	if body["version"] != Version {
		t.Fatalf("expected version=%s, got %v", Version, body["version"])
	}
}

func TestV1SessionsPagination(t *testing.T) {
	s := newTestServer(t)
	seedSessions(t, s, 5, model.ClaudeStyle)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions?per_page=2&page=1&agent_type=claude_style", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp v1Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success=true, got error=%v", resp.Error)
	}
	if resp.Meta.RequestID == "" {
		t.Fatal("expected a non-empty request_id")
	}

	data, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("failed to re-marshal data: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if env.Total != 5 {
		t.Fatalf("expected total=5, got %d", env.Total)
	}
	if env.TotalPages != 3 {
		t.Fatalf("expected total_pages=3, got %d", env.TotalPages)
	}
}

func TestV1SessionNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/nope", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestExportCSVEscaping(t *testing.T) {
	s := newTestServer(t)
	now := time.Now().UTC()
	sess := &model.Session{ID: "s1", AgentKind: model.ClaudeStyle, ExternalID: "s1", ProjectPath: "/p", Status: model.StatusActive, StartedAt: now, LastActivityAt: now}
	if err := s.store.UpsertSession(sess); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	ev := &model.Event{ID: "e1", SessionID: "s1", EventKind: model.EventCustom, Timestamp: now, Content: "a, b\nc"}
	if err := s.store.InsertEvent(ev); err != nil {
		t.Fatalf("failed to seed event: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/export?format=csv", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); !strings.Contains(got, "a; b c") {
		t.Fatalf("expected CSV body to contain escaped preview %q, got %q", "a; b c", got)
	}
}

func TestWebhookSignatureHeaderAndBody(t *testing.T) {
	received := make(chan *http.Request, 1)
	var receivedBody []byte
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		receivedBody = buf[:n]
		received <- r
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	registry := NewWebhookRegistry(2 * time.Second)
	registry.add(&model.WebhookRegistration{
		ID: "wh1", URL: backend.URL, Events: []string{"session_start"}, Secret: "k", Enabled: true,
	})

	registry.Dispatch("session_start", map[string]string{"session_id": "s1"})

	select {
	case r := <-received:
		if r.Header.Get("X-Webhook-Event") != "session_start" {
			t.Fatalf("expected X-Webhook-Event header, got %q", r.Header.Get("X-Webhook-Event"))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
	}

	var payload webhookPayload
	if err := json.Unmarshal(receivedBody, &payload); err != nil {
		t.Fatalf("failed to decode delivered payload: %v", err)
	}
	if len(payload.Signature) < 7 || payload.Signature[:7] != "sha256=" {
		t.Fatalf("expected signature to start with sha256=, got %q", payload.Signature)
	}
}

func TestWebhookRoutingByEventName(t *testing.T) {
	registry := NewWebhookRegistry(time.Second)
	disabled := &model.WebhookRegistration{ID: "d1", URL: "http://example.invalid", Events: []string{"*"}, Enabled: false}
	registry.add(disabled)

	if disabled.Matches("session_start") {
		t.Fatal("disabled registration must never match")
	}

	wildcard := &model.WebhookRegistration{ID: "w1", Events: []string{"*"}, Enabled: true}
	if !wildcard.Matches("anything") {
		t.Fatal("wildcard registration must match any event name")
	}

	specific := &model.WebhookRegistration{ID: "s1", Events: []string{"session_start"}, Enabled: true}
	if !specific.Matches("session_start") || specific.Matches("session_end") {
		t.Fatal("specific registration must match only its own event name")
	}
}
