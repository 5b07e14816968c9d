package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/robertcprice/agent-monitor/internal/model"
	"github.com/robertcprice/agent-monitor/internal/storageerr"
)

// WebhookRegistry holds the set of registered webhooks and delivers
// triggering events to them, per §4.6/§9's mandated HMAC-SHA256 signature.
type WebhookRegistry struct {
	mu      sync.RWMutex
	entries map[string]*model.WebhookRegistration
	client  *http.Client
}

// NewWebhookRegistry returns an empty registry whose deliveries time out
// after timeout.
func NewWebhookRegistry(timeout time.Duration) *WebhookRegistry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookRegistry{
		entries: make(map[string]*model.WebhookRegistration),
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *WebhookRegistry) add(reg *model.WebhookRegistration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[reg.ID] = reg
}

func (r *WebhookRegistry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

func (r *WebhookRegistry) list() []*model.WebhookRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.WebhookRegistration, 0, len(r.entries))
	for _, reg := range r.entries {
		out = append(out, reg)
	}
	return out
}

type webhookPayload struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Signature string    `json:"signature,omitempty"`
}

// Dispatch fires one fire-and-forget POST per enabled registration matching
// eventName, per §4.6. Each delivery is its own goroutine so one slow or
// unreachable endpoint cannot delay the others or the caller.
func (r *WebhookRegistry) Dispatch(eventName string, data any) {
	for _, reg := range r.list() {
		if !reg.Matches(eventName) {
			continue
		}
		go r.deliver(reg, eventName, data)
	}
}

func (r *WebhookRegistry) deliver(reg *model.WebhookRegistration, eventName string, data any) {
	payload := webhookPayload{
		EventType: eventName,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[httpapi] webhook marshal error for %s: %v", reg.ID, err)
		return
	}

	if reg.Secret != "" {
		payload.Signature = sign(reg.Secret, body)
		body, err = json.Marshal(payload)
		if err != nil {
			log.Printf("[httpapi] webhook re-marshal error for %s: %v", reg.ID, err)
			return
		}
	}

	req, err := http.NewRequest(http.MethodPost, reg.URL, bytes.NewReader(body))
	if err != nil {
		log.Printf("[httpapi] %v", storageerr.Wrap(storageerr.WebhookDelivery, fmt.Errorf("request build for %s: %w", reg.ID, err)))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", eventName)

	resp, err := r.client.Do(req)
	if err != nil {
		log.Printf("[httpapi] %v", storageerr.Wrap(storageerr.WebhookDelivery, fmt.Errorf("delivery to %s: %w", reg.ID, err)))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[httpapi] %v", storageerr.Wrap(storageerr.WebhookDelivery, fmt.Errorf("%s returned status %d", reg.ID, resp.StatusCode)))
	}
}

// sign computes the HMAC-SHA256 signature mandated by §9's "treat the
// source's non-cryptographic hash as a bug" design note.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type createWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

func (s *Server) handleV1WebhooksList(w http.ResponseWriter, r *http.Request) {
	writeV1Data(w, s.webhooks.list())
}

func (s *Server) handleV1WebhooksCreate(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeV1Error(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.URL == "" || len(req.Events) == 0 {
		writeV1Error(w, http.StatusBadRequest, "url and events are required")
		return
	}

	reg := &model.WebhookRegistration{
		ID:      uuid.NewString(),
		URL:     req.URL,
		Events:  req.Events,
		Secret:  req.Secret,
		Enabled: true,
	}
	s.webhooks.add(reg)
	writeV1Data(w, reg)
}

func (s *Server) handleV1WebhooksDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.webhooks.remove(id) {
		writeV1Error(w, http.StatusNotFound, "webhook not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
