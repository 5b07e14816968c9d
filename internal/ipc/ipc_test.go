package ipc

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robertcprice/agent-monitor/internal/model"
	"github.com/robertcprice/agent-monitor/internal/store"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sockPath := filepath.Join(t.TempDir(), "agent-monitor.sock")
	srv := New(sockPath, st, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start ipc server: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv, sockPath
}

func roundTrip(t *testing.T, sockPath string, req map[string]any) map[string]any {
	t.Helper()
	conn, err := net.DialTimeout("unix", sockPath, 2*time.Second)
	if err != nil {
		t.Fatalf("failed to dial ipc socket: %v", err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		t.Fatalf("failed to write request: %v", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("no response received: %v", scanner.Err())
	}
	var resp map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestIPCGetSessions(t *testing.T) {
	srv, sockPath := newTestServer(t)
	sess := &model.Session{
		ID:          "claude:/p",
		AgentKind:   model.ClaudeStyle,
		ProjectPath: "/p",
		Status:      model.StatusActive,
	}
	if err := srv.store.UpsertSession(sess); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}

	resp := roundTrip(t, sockPath, map[string]any{"action": "get_sessions"})
	sessions, ok := resp["sessions"].([]any)
	if !ok || len(sessions) != 1 {
		t.Fatalf("expected 1 session in response, got %#v", resp)
	}
}

func TestIPCGetMetrics(t *testing.T) {
	_, sockPath := newTestServer(t)
	resp := roundTrip(t, sockPath, map[string]any{"action": "get_metrics"})
	if _, ok := resp["metrics"]; !ok {
		t.Fatalf("expected a metrics field, got %#v", resp)
	}
}

func TestIPCGetEvents(t *testing.T) {
	_, sockPath := newTestServer(t)
	resp := roundTrip(t, sockPath, map[string]any{"action": "get_events"})
	if _, ok := resp["events"]; !ok {
		t.Fatalf("expected an events field, got %#v", resp)
	}
}

func TestIPCUnknownAction(t *testing.T) {
	_, sockPath := newTestServer(t)
	resp := roundTrip(t, sockPath, map[string]any{"action": "bogus"})
	errMsg, ok := resp["error"].(string)
	if !ok || errMsg != "Unknown action: bogus" {
		t.Fatalf("expected an unknown-action error, got %#v", resp)
	}
}

func TestIPCRemovesStaleSocketFile(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	sockPath := filepath.Join(t.TempDir(), "agent-monitor.sock")
	stale := New(sockPath, st, nil)
	if err := stale.Start(); err != nil {
		t.Fatalf("failed to start first server: %v", err)
	}
	// Keep the socket file on disk after Stop, as a crashed server would.
	stale.listener.(*net.UnixListener).SetUnlinkOnClose(false)
	stale.Stop()
	if _, err := os.Stat(sockPath); err != nil {
		t.Fatalf("expected stale socket file to remain after stop, got: %v", err)
	}

	fresh := New(sockPath, st, nil)
	if err := fresh.Start(); err != nil {
		t.Fatalf("expected second server to bind over stale socket file, got: %v", err)
	}
	fresh.Stop()
}
