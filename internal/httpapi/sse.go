package httpapi

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// handleV1Stream bridges the Bus to an SSE stream with periodic keep-alive
// comments, per §4.6.
func (s *Server) handleV1Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeV1Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.bus.Subscribe()
	defer sub.Close()

	keepAlive := s.cfg.SSEKeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultConfig().SSEKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			masked := s.privacy.ApplyEvent(&ev)
			data, err := json.Marshal(masked)
			if err != nil {
				log.Printf("[httpapi] sse marshal error: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventKind, data); err != nil {
				return
			}
			flusher.Flush()
		case <-sub.Lagged():
			log.Printf("[httpapi] sse subscriber lagged, dropped events")
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
