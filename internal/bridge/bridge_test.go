package bridge

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/robertcprice/agent-monitor/internal/bus"
	"github.com/robertcprice/agent-monitor/internal/model"
	"github.com/robertcprice/agent-monitor/internal/store"
)

func newTestBridge(t *testing.T) (*Server, *store.Store, *bus.Bus, string) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	b := bus.New()
	sockPath := filepath.Join(t.TempDir(), "terminit.sock")
	srv := New(sockPath, st, b, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start bridge: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv, st, b, sockPath
}

func dial(t *testing.T, sockPath string) (net.Conn, *bufio.Scanner) {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("failed to dial bridge socket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewScanner(conn)
}

func readMessage(t *testing.T, scanner *bufio.Scanner) message {
	t.Helper()
	if !scanner.Scan() {
		t.Fatalf("expected a message, scanner stopped: %v", scanner.Err())
	}
	var m message
	if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	return m
}

func TestBridgeSendsSessionsListOnAccept(t *testing.T) {
	_, st, _, sockPath := newTestBridge(t)

	now := time.Now().UTC()
	sess := &model.Session{
		ID: "s1", AgentKind: model.ClaudeStyle, ExternalID: "s1", ProjectPath: "/p",
		Status: model.StatusActive, StartedAt: now, LastActivityAt: now,
	}
	if err := st.UpsertSession(sess); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}

	_, scanner := dial(t, sockPath)
	msg := readMessage(t, scanner)
	if msg.MessageType != MessageSessionsList {
		t.Fatalf("expected SessionsList on accept, got %s", msg.MessageType)
	}
	if len(msg.Sessions) != 1 || msg.Sessions[0].ID != "s1" {
		t.Fatalf("expected the seeded session in the initial list, got %+v", msg.Sessions)
	}
}

func TestBridgePingPong(t *testing.T) {
	_, _, _, sockPath := newTestBridge(t)
	conn, scanner := dial(t, sockPath)
	readMessage(t, scanner) // initial SessionsList

	enc := json.NewEncoder(conn)
	if err := enc.Encode(message{MessageType: MessagePing}); err != nil {
		t.Fatalf("failed to send ping: %v", err)
	}
	msg := readMessage(t, scanner)
	if msg.MessageType != MessagePong {
		t.Fatalf("expected Pong, got %s", msg.MessageType)
	}
}

func TestBridgeGetSessions(t *testing.T) {
	_, st, _, sockPath := newTestBridge(t)
	now := time.Now().UTC()
	sess := &model.Session{
		ID: "s1", AgentKind: model.EditorStyle, ExternalID: "s1", ProjectPath: "/p",
		Status: model.StatusActive, StartedAt: now, LastActivityAt: now,
	}
	if err := st.UpsertSession(sess); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}

	conn, scanner := dial(t, sockPath)
	readMessage(t, scanner) // initial SessionsList

	enc := json.NewEncoder(conn)
	if err := enc.Encode(message{MessageType: MessageGetSessions}); err != nil {
		t.Fatalf("failed to send GetSessions: %v", err)
	}
	msg := readMessage(t, scanner)
	if msg.MessageType != MessageSessionsList {
		t.Fatalf("expected SessionsList reply, got %s", msg.MessageType)
	}
	if len(msg.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(msg.Sessions))
	}
}

func TestBridgeUnknownMessageType(t *testing.T) {
	_, _, _, sockPath := newTestBridge(t)
	conn, scanner := dial(t, sockPath)
	readMessage(t, scanner) // initial SessionsList

	enc := json.NewEncoder(conn)
	if err := enc.Encode(message{MessageType: "Bogus"}); err != nil {
		t.Fatalf("failed to send bogus message: %v", err)
	}
	msg := readMessage(t, scanner)
	if msg.MessageType != MessageError {
		t.Fatalf("expected Error reply, got %s", msg.MessageType)
	}
}

func TestBridgeBroadcastsEventNotificationAndSessionUpdate(t *testing.T) {
	_, st, b, sockPath := newTestBridge(t)
	now := time.Now().UTC()
	sess := &model.Session{
		ID: "s1", AgentKind: model.PairStyle, ExternalID: "s1", ProjectPath: "/p",
		Status: model.StatusActive, StartedAt: now, LastActivityAt: now,
	}
	if err := st.UpsertSession(sess); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}

	_, scanner := dial(t, sockPath)
	readMessage(t, scanner) // initial SessionsList

	ev := model.Event{
		ID: "e1", SessionID: "s1", EventKind: model.EventToolStart,
		Timestamp: now, AgentKind: model.PairStyle, ToolName: "Bash",
	}
	if err := st.InsertEvent(&ev); err != nil {
		t.Fatalf("failed to insert event: %v", err)
	}
	b.Publish(ev)

	notif := readMessage(t, scanner)
	if notif.MessageType != MessageEventNotification {
		t.Fatalf("expected EventNotification, got %s", notif.MessageType)
	}
	if notif.Event == nil || notif.Event.EventKind != EventToolStarted {
		t.Fatalf("expected ToolStarted event kind, got %+v", notif.Event)
	}

	update := readMessage(t, scanner)
	if update.MessageType != MessageSessionUpdate {
		t.Fatalf("expected SessionUpdate, got %s", update.MessageType)
	}
	if update.Session == nil || update.Session.ID != "s1" {
		t.Fatalf("expected session update for s1, got %+v", update.Session)
	}
}
