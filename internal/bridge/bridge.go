// Package bridge implements the second streaming socket (C7): a
// bidirectional, tagged-union JSON protocol for a single external
// consumer, distinct from the simple request/response IPC socket.
package bridge

import (
	"bufio"
	"encoding/json"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/robertcprice/agent-monitor/internal/bus"
	"github.com/robertcprice/agent-monitor/internal/model"
	"github.com/robertcprice/agent-monitor/internal/privacy"
	"github.com/robertcprice/agent-monitor/internal/storageerr"
	"github.com/robertcprice/agent-monitor/internal/store"
)

// DefaultSocketPath is where the Bridge listens unless configured otherwise.
const DefaultSocketPath = "/tmp/terminit.sock"

// MessageType tags every object on the wire, per §6.
type MessageType string

const (
	MessageSessionUpdate     MessageType = "SessionUpdate"
	MessageEventNotification MessageType = "EventNotification"
	MessageGetSessions       MessageType = "GetSessions"
	MessageSessionsList      MessageType = "SessionsList"
	MessageSubscribe         MessageType = "Subscribe"
	MessageUnsubscribe       MessageType = "Unsubscribe"
	MessagePing              MessageType = "Ping"
	MessagePong              MessageType = "Pong"
	MessageError             MessageType = "Error"
)

// EventKind is the Bridge wire vocabulary for UnifiedAgentEvent, distinct
// from (but derived from) model.EventKind.
type EventKind string

const (
	EventSessionStarted     EventKind = "SessionStarted"
	EventSessionEnded       EventKind = "SessionEnded"
	EventPromptReceived     EventKind = "PromptReceived"
	EventResponseGenerated  EventKind = "ResponseGenerated"
	EventThinking           EventKind = "Thinking"
	EventToolStarted        EventKind = "ToolStarted"
	EventToolCompleted      EventKind = "ToolCompleted"
	EventFileRead           EventKind = "FileRead"
	EventFileWritten        EventKind = "FileWritten"
	EventErrorKind          EventKind = "Error"
	EventCustom             EventKind = "Custom"
)

// toBridgeEventKind maps the Store's EventKind vocabulary onto the Bridge's,
// per §6's cross-reference to §3/§4.
func toBridgeEventKind(k model.EventKind) EventKind {
	switch k {
	case model.EventSessionStart:
		return EventSessionStarted
	case model.EventSessionEnd:
		return EventSessionEnded
	case model.EventPromptReceived:
		return EventPromptReceived
	case model.EventResponseGenerated:
		return EventResponseGenerated
	case model.EventThinking:
		return EventThinking
	case model.EventToolStart:
		return EventToolStarted
	case model.EventToolComplete, model.EventToolExecuted:
		return EventToolCompleted
	case model.EventFileRead:
		return EventFileRead
	case model.EventFileModified:
		return EventFileWritten
	case model.EventError:
		return EventErrorKind
	default:
		return EventCustom
	}
}

// UnifiedAgentEvent is the per-variant payload for an EventNotification
// message.
type UnifiedAgentEvent struct {
	EventKind   EventKind       `json:"event_kind"`
	SessionID   string          `json:"session_id"`
	Timestamp   time.Time       `json:"timestamp"`
	AgentKind   model.AgentKind `json:"agent_kind"`
	Content     string          `json:"content,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	FilePath    string          `json:"file_path,omitempty"`
	TokensInput int64           `json:"tokens_input,omitempty"`
	TokensOut   int64           `json:"tokens_output,omitempty"`
	ErrorText   string          `json:"error_message,omitempty"`
}

func unifiedEventFrom(ev model.Event) UnifiedAgentEvent {
	return UnifiedAgentEvent{
		EventKind:   toBridgeEventKind(ev.EventKind),
		SessionID:   ev.SessionID,
		Timestamp:   ev.Timestamp,
		AgentKind:   ev.AgentKind,
		Content:     ev.Content,
		ToolName:    ev.ToolName,
		FilePath:    ev.FilePath,
		TokensInput: ev.TokensInput,
		TokensOut:   ev.TokensOutput,
		ErrorText:   ev.ErrorMessage,
	}
}

// message is the adjacently-tagged wire envelope. Only the fields relevant
// to MessageType are populated on any given instance.
type message struct {
	MessageType MessageType        `json:"message_type"`
	Session     *model.Session     `json:"session,omitempty"`
	Event       *UnifiedAgentEvent `json:"event,omitempty"`
	Sessions    []*model.Session   `json:"sessions,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Server accepts Bridge connections and multiplexes client requests with
// broadcast pushes derived from the Bus and the Store.
type Server struct {
	path     string
	store    *store.Store
	bus      *bus.Bus
	privacy  *privacy.Filter
	listener net.Listener

	mu      sync.Mutex
	closing bool
}

// New constructs a Server listening at path (DefaultSocketPath if empty). A
// nil pf is treated as a no-op filter.
func New(path string, st *store.Store, b *bus.Bus, pf *privacy.Filter) *Server {
	if path == "" {
		path = DefaultSocketPath
	}
	if pf == nil {
		pf = &privacy.Filter{}
	}
	return &Server{path: path, store: st, bus: b, privacy: pf}
}

// Start removes any stale socket file and begins accepting connections.
// Each accepted connection runs its own read/write tasks, per §5's
// scheduling model.
func (s *Server) Start() error {
	_ = os.Remove(s.path)

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return storageerr.Wrap(storageerr.Socket, err)
	}
	s.listener = ln
	go s.acceptLoop()
	return nil
}

// Stop closes the listener; in-flight connections drain on their own.
func (s *Server) Stop() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
	_ = os.Remove(s.path)
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			log.Printf("[bridge] accept error: %v", err)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	sub := s.bus.Subscribe()
	defer sub.Close()

	enc := json.NewEncoder(conn)
	var writeMu sync.Mutex
	send := func(m message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return enc.Encode(m)
	}

	active, err := s.store.GetActiveSessions(1000)
	if err != nil {
		log.Printf("[bridge] failed to load active sessions: %v", err)
		active = nil
	}
	if err := send(message{MessageType: MessageSessionsList, Sessions: s.privacy.FilterSlice(active)}); err != nil {
		return
	}

	done := make(chan struct{})
	go s.writeLoop(conn, sub, send, done)
	s.readLoop(conn, send)
	close(done)
}

// writeLoop forwards Bus events to the connection as EventNotification and
// SessionUpdate messages until done is closed or the connection errors.
func (s *Server) writeLoop(conn net.Conn, sub *bus.Subscription, send func(message) error, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			sess, err := s.store.GetSession(ev.SessionID)
			if err == nil && sess != nil && !s.privacy.IsAllowed(sess.ProjectPath) {
				continue
			}
			unified := unifiedEventFrom(ev)
			if err := send(message{MessageType: MessageEventNotification, Event: &unified}); err != nil {
				return
			}
			if sess != nil {
				if err := send(message{MessageType: MessageSessionUpdate, Session: s.privacy.Apply(sess)}); err != nil {
					return
				}
			}
		case <-sub.Lagged():
			log.Printf("[bridge] subscriber lagged, dropped events")
		}
	}
}

// readLoop handles client-originated requests: Ping, GetSessions, Subscribe
// and Unsubscribe, per §4.7.
func (s *Server) readLoop(conn net.Conn, send func(message) error) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req message
		if err := json.Unmarshal(line, &req); err != nil {
			send(message{MessageType: MessageError, Error: "invalid message"})
			continue
		}

		switch req.MessageType {
		case MessagePing:
			if send(message{MessageType: MessagePong}) != nil {
				return
			}
		case MessageGetSessions:
			active, err := s.store.GetActiveSessions(1000)
			if err != nil {
				send(message{MessageType: MessageError, Error: err.Error()})
				continue
			}
			if send(message{MessageType: MessageSessionsList, Sessions: s.privacy.FilterSlice(active)}) != nil {
				return
			}
		case MessageSubscribe, MessageUnsubscribe:
			// Subscription is implicit on all broadcasts; acknowledged by
			// effect only, nothing to send back.
		default:
			send(message{MessageType: MessageError, Error: "unknown message_type"})
		}
	}
}
