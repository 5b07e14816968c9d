package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Version is reported in every v1 response's meta block and in /info,
// /health.
const Version = "1.0.0"

type meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	Version   string    `json:"version"`
}

// v1Envelope is the wrapper every /api/v1/... JSON response uses, per §6:
// {success, data?, error?, meta:{timestamp, request_id, version}}.
type v1Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Meta    meta   `json:"meta"`
}

func newMeta() meta {
	return meta{Timestamp: time.Now().UTC(), RequestID: uuid.NewString(), Version: Version}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeV1Data(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, v1Envelope{Success: true, Data: data, Meta: newMeta()})
}

func writeV1Error(w http.ResponseWriter, status int, errMsg string) {
	writeJSON(w, status, v1Envelope{Success: false, Error: errMsg, Meta: newMeta()})
}
