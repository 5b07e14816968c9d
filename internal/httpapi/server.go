// Package httpapi implements the HTTP endpoint (C6): legacy REST handlers,
// the versioned /api/v1 REST+pagination surface, WebSocket push, an SSE
// stream, data export, and webhook delivery, all under one TCP listener.
package httpapi

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/robertcprice/agent-monitor/internal/analytics"
	"github.com/robertcprice/agent-monitor/internal/bus"
	"github.com/robertcprice/agent-monitor/internal/privacy"
	"github.com/robertcprice/agent-monitor/internal/snapshot"
	"github.com/robertcprice/agent-monitor/internal/store"
)

// Config carries the HTTP endpoint's tunables, separated from the static
// daemon config so tests can construct a Server without a full config
// dependency.
type Config struct {
	Host              string
	Port              int
	BroadcastInterval time.Duration
	SSEKeepAlive      time.Duration
	WebhookTimeout    time.Duration
}

// DefaultConfig returns the §5 concurrency-model defaults (5 s broadcast
// tick, 30 s SSE keep-alive, 10 s webhook timeout).
func DefaultConfig() Config {
	return Config{
		Host:              "127.0.0.1",
		Port:              9797,
		BroadcastInterval: 5 * time.Second,
		SSEKeepAlive:      30 * time.Second,
		WebhookTimeout:    10 * time.Second,
	}
}

// Server wires the Store, Bus and Analytics manager to the full HTTP
// surface of §6.
type Server struct {
	cfg      Config
	store    *store.Store
	bus      *bus.Bus
	analytic *analytics.Manager
	privacy  *privacy.Filter
	webhooks *WebhookRegistry
	started  time.Time

	broadcaster *wsBroadcaster
	httpServer  *http.Server
}

// NewServer constructs a Server. Call Start to begin listening.
func NewServer(cfg Config, st *store.Store, b *bus.Bus, am *analytics.Manager, pf *privacy.Filter) *Server {
	if pf == nil {
		pf = &privacy.Filter{}
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		bus:      b,
		analytic: am,
		privacy:  pf,
		webhooks: NewWebhookRegistry(cfg.WebhookTimeout),
		started:  time.Now().UTC(),
	}
}

// Router builds the full mux.Router for the daemon's HTTP surface, per §6.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	// Legacy surface.
	r.HandleFunc("/", s.handleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions", s.handleLegacySessions).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", s.handleLegacySession).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics/summary", s.handleLegacyMetrics).Methods(http.MethodGet)
	r.HandleFunc("/api/events", s.handleLegacyEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/openapi.yaml", s.handleOpenAPI).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	// Versioned surface.
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/sessions", s.handleV1Sessions).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}", s.handleV1Session).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/events", s.handleV1SessionEvents).Methods(http.MethodGet)
	v1.HandleFunc("/events", s.handleV1Events).Methods(http.MethodGet)
	v1.HandleFunc("/events/{id}", s.handleV1Event).Methods(http.MethodGet)
	v1.HandleFunc("/export", s.handleV1Export).Methods(http.MethodGet)
	v1.HandleFunc("/stream", s.handleV1Stream).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks", s.handleV1WebhooksList).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks", s.handleV1WebhooksCreate).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks/{id}", s.handleV1WebhooksDelete).Methods(http.MethodDelete)

	return r
}

// corsMiddleware permits any origin, per §6's "CORS permissive".
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins listening and spawns the periodic WebSocket broadcaster.
func (s *Server) Start() error {
	s.broadcaster = newWSBroadcaster(s.store, s.privacy, s.cfg.BroadcastInterval)
	go s.broadcaster.run()
	go s.webhookDeliveryLoop()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.Router()}

	log.Printf("[httpapi] listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop stops the broadcaster and shuts down the HTTP listener.
func (s *Server) Stop() {
	if s.broadcaster != nil {
		s.broadcaster.stop()
	}
	if s.httpServer != nil {
		s.httpServer.Close()
	}
}

// buildStatusDocument assembles the same document schema the Status
// Snapshotter writes to disk, for the /status endpoint.
func (s *Server) buildStatusDocument() (*snapshot.Document, error) {
	return snapshot.Build(s.store, s.analytic, Version, s.started)
}

// webhookDeliveryLoop subscribes to the Bus and fires webhook deliveries for
// every published event, per §4.6.
func (s *Server) webhookDeliveryLoop() {
	sub := s.bus.Subscribe()
	defer sub.Close()
	for ev := range sub.Events() {
		s.webhooks.Dispatch(string(ev.EventKind), ev)
	}
}
