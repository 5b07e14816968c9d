// Package ipc implements the local socket endpoint (C5): a newline-delimited
// JSON request/response protocol over a Unix domain socket, for lightweight
// consumers that do not want an HTTP client.
package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"github.com/robertcprice/agent-monitor/internal/privacy"
	"github.com/robertcprice/agent-monitor/internal/storageerr"
	"github.com/robertcprice/agent-monitor/internal/store"
)

// DefaultSocketPath is the default bind path, per §6.
const DefaultSocketPath = "/tmp/agent-monitor.sock"

// request is one line of client input.
type request struct {
	Action string `json:"action"`
}

// Server accepts connections on a Unix domain socket and answers one request
// per line with one JSON response per line, per §4.5.
type Server struct {
	path     string
	store    *store.Store
	privacy  *privacy.Filter
	listener net.Listener

	mu      sync.Mutex
	closing bool
}

// New returns an IPC server bound to store for data, not yet listening. A
// nil pf is treated as a no-op filter.
func New(path string, st *store.Store, pf *privacy.Filter) *Server {
	if path == "" {
		path = DefaultSocketPath
	}
	if pf == nil {
		pf = &privacy.Filter{}
	}
	return &Server{path: path, store: st, privacy: pf}
}

// Start removes a stale socket file (if present) and begins accepting
// connections in a background goroutine. A bind failure is returned to the
// caller and is fatal for this endpoint only, per §7.
func (s *Server) Start() error {
	if err := os.RemoveAll(s.path); err != nil && !os.IsNotExist(err) {
		return storageerr.Wrap(storageerr.Socket, fmt.Errorf("removing stale socket: %w", err))
	}

	l, err := net.Listen("unix", s.path)
	if err != nil {
		return storageerr.Wrap(storageerr.Socket, fmt.Errorf("listen %s: %w", s.path, err))
	}
	s.listener = l

	go s.acceptLoop()
	return nil
}

// Stop closes the listener, which unblocks the accept loop.
func (s *Server) Stop() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
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
			log.Printf("[ipc] accept error: %v", err)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			enc.Encode(map[string]any{"error": fmt.Sprintf("invalid request: %v", err)})
			continue
		}
		resp := s.handle(req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

// handle dispatches one decoded request to its action handler, per §4.5's
// table. Unknown actions return an error response rather than closing the
// connection.
func (s *Server) handle(req request) map[string]any {
	switch req.Action {
	case "get_sessions":
		sessions, err := s.store.GetActiveSessions(100)
		if err != nil {
			return map[string]any{"error": err.Error()}
		}
		return map[string]any{"sessions": s.privacy.FilterSlice(sessions)}
	case "get_metrics":
		metrics, err := s.store.GetSummaryMetrics(24)
		if err != nil {
			return map[string]any{"error": err.Error()}
		}
		return map[string]any{"metrics": metrics}
	case "get_events":
		events, err := s.store.GetRecentEvents(50)
		if err != nil {
			return map[string]any{"error": err.Error()}
		}
		return map[string]any{"events": s.privacy.FilterEvents(events)}
	default:
		return map[string]any{"error": fmt.Sprintf("Unknown action: %s", req.Action)}
	}
}
