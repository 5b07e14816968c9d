package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robertcprice/agent-monitor/internal/bus"
	"github.com/robertcprice/agent-monitor/internal/model"
	"github.com/robertcprice/agent-monitor/internal/store"
)

func newTestClaudeAdapter(t *testing.T, homeDir string) (*ClaudeAdapter, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	b := bus.New()
	return NewClaudeAdapter(homeDir, st, b, 3), st
}

func writeHistoryLine(t *testing.T, path string, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("failed to open history file: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatalf("failed to write history line: %v", err)
	}
}

func assistantLine(cwd, sessionID string, inputTokens, outputTokens int) string {
	return assistantLineAt(cwd, sessionID, "2026-01-01T00:00:00Z", inputTokens, outputTokens)
}

func assistantLineAt(cwd, sessionID, ts string, inputTokens, outputTokens int) string {
	return fmt.Sprintf(
		`{"type":"assistant","cwd":%q,"sessionId":%q,"timestamp":%q,"message":{"role":"assistant","model":"claude-x","usage":{"input_tokens":%d,"output_tokens":%d},"content":"hi"}}`,
		cwd, sessionID, ts, inputTokens, outputTokens,
	)
}

func userLine(cwd, sessionID string) string {
	return userLineAt(cwd, sessionID, "2026-01-01T00:00:00Z")
}

func userLineAt(cwd, sessionID, ts string) string {
	return fmt.Sprintf(`{"type":"user","cwd":%q,"sessionId":%q,"timestamp":%q,"message":{"role":"user","content":"hello"}}`, cwd, sessionID, ts)
}

func TestClaudeAdapterTailThenRestart(t *testing.T) {
	home := t.TempDir()
	historyPath := filepath.Join(home, "history.jsonl")

	// Each pair gets its own timestamp so all 100 lines have distinct stable ids.
	for i := 0; i < 50; i++ {
		ts := time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC).Format(time.RFC3339)
		writeHistoryLine(t, historyPath, userLineAt("/p", "s", ts))
		writeHistoryLine(t, historyPath, assistantLineAt("/p", "s", ts, 10, 20))
	}

	adapter, st := newTestClaudeAdapter(t, home)

	lines, err := readTailLines(historyPath, 1000)
	if err != nil {
		t.Fatalf("readTailLines failed: %v", err)
	}
	if len(lines) != 100 {
		t.Fatalf("expected 100 lines read back, got %d", len(lines))
	}
	for _, line := range lines {
		adapter.processEntry(line, "history")
	}

	events, err := st.GetSessionEvents("claude:/p", 1000)
	if err != nil {
		t.Fatalf("GetSessionEvents failed: %v", err)
	}
	if len(events) != 100 {
		t.Fatalf("expected 100 stored events, got %d", len(events))
	}

	sess, err := st.GetSession("claude:/p")
	if err != nil || sess == nil {
		t.Fatalf("expected session claude:/p to exist, err=%v", err)
	}
	if sess.MessageCount != 100 {
		t.Fatalf("expected message_count=100, got %d", sess.MessageCount)
	}
	if sess.TokensInput != 500 || sess.TokensOutput != 1000 {
		t.Fatalf("expected tokens_input=500 tokens_output=1000, got in=%d out=%d", sess.TokensInput, sess.TokensOutput)
	}
	wantCost := model.EstimatedCost(500, 1000)
	if diff := sess.EstimatedCost - wantCost; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected estimated_cost=%v, got %v", wantCost, sess.EstimatedCost)
	}

	// Re-processing the same lines ("restart") must not duplicate events.
	for _, line := range lines {
		adapter.processEntry(line, "history")
	}
	events, err = st.GetSessionEvents("claude:/p", 1000)
	if err != nil {
		t.Fatalf("GetSessionEvents failed: %v", err)
	}
	if len(events) != 100 {
		t.Fatalf("expected dedup to keep event count at 100 after reprocessing, got %d", len(events))
	}
}

func TestClaudeAdapterToolUseCounting(t *testing.T) {
	home := t.TempDir()
	adapter, st := newTestClaudeAdapter(t, home)

	line := `{"type":"assistant","cwd":"/p","sessionId":"s","timestamp":"2026-01-01T00:00:00Z","message":{"role":"assistant","content":[{"type":"tool_use","name":"Bash","input":{"cmd":"ls"}},{"type":"text","text":"hi"}]}}`
	adapter.processEntry(line, "history")

	sess, err := st.GetSession("claude:/p")
	if err != nil || sess == nil {
		t.Fatalf("expected session to exist, err=%v", err)
	}
	if sess.ToolCallCount != 1 {
		t.Fatalf("expected tool_call_count=1, got %d", sess.ToolCallCount)
	}

	events, err := st.GetSessionEvents("claude:/p", 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected exactly 1 event, err=%v len=%d", err, len(events))
	}
	if events[0].ToolName != "Bash" {
		t.Fatalf("expected tool_name=Bash, got %q", events[0].ToolName)
	}
	want := "[TOOL: Bash]\n"
	if len(events[0].Content) < len(want) || events[0].Content[:len(want)] != want {
		t.Fatalf("expected content to start with %q, got %q", want, events[0].Content)
	}
}

func TestClaudeAdapterSkipsFileHistorySnapshot(t *testing.T) {
	home := t.TempDir()
	adapter, st := newTestClaudeAdapter(t, home)

	adapter.processEntry(`{"type":"file-history-snapshot","cwd":"/p"}`, "history")

	sess, err := st.GetSession("claude:/p")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess != nil {
		t.Fatal("expected file-history-snapshot entries to be skipped entirely")
	}
}

func TestClaudeAdapterDiscoverSessionsHistoricalBackfill(t *testing.T) {
	home := t.TempDir()
	historyPath := filepath.Join(home, "history.jsonl")
	now := time.Now().UTC().Format(time.RFC3339)
	writeHistoryLine(t, historyPath, userLineAt("/p1", "s1", now))
	writeHistoryLine(t, historyPath, assistantLineAt("/p1", "s1", now, 5, 5))

	adapter, _ := newTestClaudeAdapter(t, home)
	sessions, err := adapter.DiscoverSessions()
	if err != nil {
		t.Fatalf("DiscoverSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 discovered session, got %d", len(sessions))
	}
	if sessions[0].ProjectPath != "/p1" {
		t.Fatalf("expected project path /p1, got %q", sessions[0].ProjectPath)
	}
	if sessions[0].Status != model.StatusActive {
		t.Fatalf("expected recently-active session to be Active, got %v", sessions[0].Status)
	}
}
