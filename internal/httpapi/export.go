package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/robertcprice/agent-monitor/internal/model"
)

const exportContentPreviewLimit = 100

// handleV1Export serves GET /api/v1/export?format=json|csv|jsonl, per §6.
func (s *Server) handleV1Export(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		writeV1Error(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.store.ListEvents(filter, 100000)
	if err != nil {
		writeV1Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	events = s.privacy.FilterEvents(events)

	format := r.URL.Query().Get("format")
	switch format {
	case "", "json":
		writeJSON(w, http.StatusOK, events)
	case "jsonl":
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return
			}
		}
	case "csv":
		writeCSV(w, events)
	default:
		writeV1Error(w, http.StatusBadRequest, fmt.Sprintf("unsupported export format: %s", format))
	}
}

// writeCSV renders events as CSV with the content preview escaping rule of
// §8 scenario 5: commas become ";", newlines become " ", truncated at 100
// characters.
func writeCSV(w http.ResponseWriter, events []*model.Event) {
	w.Header().Set("Content-Type", "text/csv")
	fmt.Fprintln(w, "id,session_id,event_kind,timestamp,content")
	for _, ev := range events {
		fmt.Fprintf(w, "%s,%s,%s,%s,%s\n",
			ev.ID, ev.SessionID, ev.EventKind,
			ev.Timestamp.Format(time.RFC3339),
			escapeCSVPreview(ev.Content),
		)
	}
}

func escapeCSVPreview(content string) string {
	escaped := strings.ReplaceAll(content, ",", ";")
	escaped = strings.ReplaceAll(escaped, "\n", " ")
	if len(escaped) > exportContentPreviewLimit {
		escaped = escaped[:exportContentPreviewLimit]
	}
	return escaped
}
