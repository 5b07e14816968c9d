package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/robertcprice/agent-monitor/internal/model"
	"github.com/robertcprice/agent-monitor/internal/store"
)

// handleDashboard serves the static HTML dashboard. The asset itself is
// external (built by a separate frontend); this daemon only needs to avoid
// 404ing the route.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<!doctype html><title>agent-monitor</title><body>agent-monitor daemon is running.</body>")
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	fmt.Fprintf(w, "openapi: 3.0.0\ninfo:\n  title: agent-monitor\n  version: %q\n", Version)
}

// handleLegacySessions serves GET /api/sessions.
func (s *Server) handleLegacySessions(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 100)
	activeOnly := r.URL.Query().Get("active_only") == "true"

	var (
		sessions []*model.Session
		err      error
	)
	if activeOnly {
		sessions, err = s.store.GetActiveSessions(limit)
	} else {
		sessions, err = s.store.ListSessions(limit)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.privacy.FilterSlice(sessions))
}

// handleLegacySession serves GET /api/sessions/:id. The legacy surface may
// return a stub rather than a fully-populated record, per §6.
func (s *Server) handleLegacySession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.store.GetSession(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if sess == nil || !s.privacy.IsAllowed(sess.ProjectPath) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, s.privacy.Apply(sess))
}

func (s *Server) handleLegacyMetrics(w http.ResponseWriter, r *http.Request) {
	hours := intQuery(r, "hours", 24)
	metrics, err := s.store.GetSummaryMetrics(hours)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleLegacyEvents(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 100)
	events, err := s.store.GetRecentEvents(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.privacy.FilterEvents(events))
}

// handleHealth serves GET /health: {status, version, uptime_seconds,
// database_ok, active_sessions, total_events_24h}.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	databaseOK := true
	active, err := s.store.GetActiveSessions(1000)
	if err != nil {
		databaseOK = false
	}

	total24h, err := s.store.CountEvents(store.EventFilter{Since: time.Now().Add(-24 * time.Hour)})
	if err != nil {
		total24h = 0
	}

	status := "ok"
	if !databaseOK {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"version":           Version,
		"uptime_seconds":    int64(time.Since(s.started).Seconds()),
		"database_ok":       databaseOK,
		"active_sessions":   len(active),
		"total_events_24h":  total24h,
	})
}

// handleInfo serves GET /info: build and runtime info.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":        Version,
		"started_at":     s.started,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// handleStatus serves GET /status: the same document schema as the status
// snapshot file (§6).
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	doc, err := s.buildStatusDocument()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
