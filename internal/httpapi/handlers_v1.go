package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/robertcprice/agent-monitor/internal/model"
	"github.com/robertcprice/agent-monitor/internal/store"
)

func (s *Server) handleV1Sessions(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	q := r.URL.Query()
	filter := store.SessionFilter{
		AgentKind:  model.AgentKind(q.Get("agent_type")),
		Status:     model.Status(q.Get("status")),
		Project:    q.Get("project"),
		ActiveOnly: q.Get("active_only") == "true",
	}

	total, err := s.store.CountSessions(filter)
	if err != nil {
		writeV1Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	sessions, err := s.store.ListSessionsPage(filter, perPage, offsetFor(page, perPage))
	if err != nil {
		writeV1Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeV1Data(w, newEnvelope(s.privacy.FilterSlice(sessions), total, page, perPage))
}

func (s *Server) handleV1Session(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.store.GetSession(id)
	if err != nil {
		writeV1Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil || !s.privacy.IsAllowed(sess.ProjectPath) {
		writeV1Error(w, http.StatusNotFound, "session not found")
		return
	}
	writeV1Data(w, s.privacy.Apply(sess))
}

func (s *Server) handleV1SessionEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	page, perPage := pageParams(r)
	filter := store.EventFilter{SessionID: id}

	total, err := s.store.CountEvents(filter)
	if err != nil {
		writeV1Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	events, err := s.store.ListEventsPage(filter, perPage, offsetFor(page, perPage))
	if err != nil {
		writeV1Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeV1Data(w, newEnvelope(s.privacy.FilterEvents(events), total, page, perPage))
}

func (s *Server) handleV1Events(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	filter, err := parseEventFilter(r)
	if err != nil {
		writeV1Error(w, http.StatusBadRequest, err.Error())
		return
	}

	total, err := s.store.CountEvents(filter)
	if err != nil {
		writeV1Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	events, err := s.store.ListEventsPage(filter, perPage, offsetFor(page, perPage))
	if err != nil {
		writeV1Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeV1Data(w, newEnvelope(s.privacy.FilterEvents(events), total, page, perPage))
}

func (s *Server) handleV1Event(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ev, err := s.store.GetEvent(id)
	if err != nil {
		writeV1Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ev == nil {
		writeV1Error(w, http.StatusNotFound, "event not found")
		return
	}
	writeV1Data(w, s.privacy.ApplyEvent(ev))
}

func parseEventFilter(r *http.Request) (store.EventFilter, error) {
	q := r.URL.Query()
	filter := store.EventFilter{
		SessionID: q.Get("session_id"),
		EventKind: model.EventKind(q.Get("event_type")),
	}
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.Since = t
	}
	if raw := q.Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.Until = t
	}
	return filter, nil
}
