package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robertcprice/agent-monitor/internal/model"
	"github.com/robertcprice/agent-monitor/internal/privacy"
	"github.com/robertcprice/agent-monitor/internal/store"
)

// wsClient is one connected WebSocket client with its own outbound queue, so
// one slow client can never block the broadcaster or other clients.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newWSClient(conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn, send: make(chan []byte, 64)}
	go c.writePump()
	return c
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *wsClient) close() { close(c.send) }

// wsBroadcaster periodically pushes snapshot "update" frames to every
// connected WebSocket client, per §4.6. A full client channel drops the
// frame rather than blocking the broadcaster (the Bus's lossy-overflow
// policy, applied here to WS fan-out per §5).
type wsBroadcaster struct {
	store   *store.Store
	privacy *privacy.Filter

	mu      sync.RWMutex
	clients map[*wsClient]bool

	interval time.Duration
	ticker   *time.Ticker
	stopCh   chan struct{}
}

func newWSBroadcaster(st *store.Store, pf *privacy.Filter, interval time.Duration) *wsBroadcaster {
	return &wsBroadcaster{
		store:    st,
		privacy:  pf,
		clients:  make(map[*wsClient]bool),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (b *wsBroadcaster) run() {
	b.ticker = time.NewTicker(b.interval)
	defer b.ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-b.ticker.C:
			b.broadcast(b.snapshotFrame("update"))
		}
	}
}

func (b *wsBroadcaster) stop() {
	close(b.stopCh)
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
}

type wsFrame struct {
	Type     string           `json:"type"`
	Sessions []*model.Session `json:"sessions,omitempty"`
	Metrics  *model.SummaryMetrics `json:"metrics,omitempty"`
}

func (b *wsBroadcaster) snapshotFrame(frameType string) wsFrame {
	sessions, err := b.store.GetActiveSessions(50)
	if err != nil {
		log.Printf("[httpapi] ws snapshot sessions query failed: %v", err)
	}
	metrics, err := b.store.GetSummaryMetrics(24)
	if err != nil {
		log.Printf("[httpapi] ws snapshot metrics query failed: %v", err)
	}
	return wsFrame{
		Type:     frameType,
		Sessions: b.privacy.FilterSlice(sessions),
		Metrics:  metrics,
	}
}

func (b *wsBroadcaster) addClient(c *wsClient) {
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()
}

func (b *wsBroadcaster) removeClient(c *wsClient) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *wsBroadcaster) broadcast(frame wsFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[httpapi] ws broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*wsClient, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			log.Printf("[httpapi] ws client too slow, dropping frame")
		}
	}
}

func (b *wsBroadcaster) sendTo(c *wsClient, frame wsFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[httpapi] ws send marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection, sends one "initial" frame, then
// leaves the client registered for periodic broadcaster pushes while
// reading client control frames ({"action":"refresh"}, {"action":"ping"}),
// per §4.6.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[httpapi] ws upgrade error: %v", err)
		return
	}

	c := newWSClient(conn)
	s.broadcaster.addClient(c)
	s.broadcaster.sendTo(c, s.broadcaster.snapshotFrame("initial"))

	defer func() {
		s.broadcaster.removeClient(c)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Action string `json:"action"`
		}
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		switch msg.Action {
		case "refresh":
			s.broadcaster.sendTo(c, s.broadcaster.snapshotFrame("update"))
		case "ping":
			s.broadcaster.sendTo(c, wsFrame{Type: "pong"})
		}
	}
}
