// Package model defines the Session/Event data model reconstructed from
// observed coding-assistant activity, shared by the store, bus, adapters,
// analytics and every endpoint.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// AgentKind identifies the family of AI tool a Session belongs to.
type AgentKind string

const (
	ClaudeStyle AgentKind = "claude_style"
	EditorStyle AgentKind = "editor_style"
	PairStyle   AgentKind = "pair_style"
	GeminiStyle AgentKind = "gemini_style"
	CodexStyle  AgentKind = "codex_style"
	Custom      AgentKind = "custom"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusActive    Status = "active"
	StatusIdle      Status = "idle"
	StatusCompleted Status = "completed"
	StatusCrashed   Status = "crashed"
	StatusUnknown   Status = "unknown"
)

// EventKind enumerates the observable actions a Session can emit.
type EventKind string

const (
	EventSessionStart      EventKind = "session_start"
	EventSessionEnd        EventKind = "session_end"
	EventPromptReceived    EventKind = "prompt_received"
	EventResponseGenerated EventKind = "response_generated"
	EventThinking          EventKind = "thinking"
	EventToolStart         EventKind = "tool_start"
	EventToolComplete      EventKind = "tool_complete"
	EventToolExecuted      EventKind = "tool_executed"
	EventFileRead          EventKind = "file_read"
	EventFileModified      EventKind = "file_modified"
	EventError             EventKind = "error"
	EventCustom            EventKind = "custom"
)

// Pricing constants, per §3: estimated_cost = tokens_input*PricePerInputToken
// + tokens_output*PricePerOutputToken. Overridable only globally, never
// per-session.
var (
	PricePerInputToken  = 3e-6
	PricePerOutputToken = 15e-6
)

// EstimatedCost applies the pricing law to a pair of token totals.
func EstimatedCost(tokensInput, tokensOutput int64) float64 {
	return float64(tokensInput)*PricePerInputToken + float64(tokensOutput)*PricePerOutputToken
}

// Session is a reconstructed run of one AI tool against one project
// directory. It is uniquely keyed by (AgentKind, ProjectPath) at discovery
// time for adapter-side dedup, and by ID for storage.
type Session struct {
	ID              string         `json:"id"`
	AgentKind       AgentKind      `json:"agent_kind"`
	ExternalID      string         `json:"external_id"`
	ProjectPath     string         `json:"project_path"`
	Status          Status         `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	LastActivityAt  time.Time      `json:"last_activity_at"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
	MessageCount    int64          `json:"message_count"`
	ToolCallCount   int64          `json:"tool_call_count"`
	FileOperations  int64          `json:"file_operations"`
	TokensInput     int64          `json:"tokens_input"`
	TokensOutput    int64          `json:"tokens_output"`
	EstimatedCost   float64        `json:"estimated_cost"`
	ModelID         string         `json:"model_id,omitempty"`
	PID             int            `json:"pid,omitempty"`
	CurrentTask     string         `json:"current_task,omitempty"`
	Progress        float64        `json:"progress,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep-enough copy of the Session for safe hand-off across
// goroutine boundaries (metadata map is copied, EndedAt pointer is copied).
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.EndedAt != nil {
		ended := *s.EndedAt
		c.EndedAt = &ended
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// RecomputeCost sets EstimatedCost from current token totals.
func (s *Session) RecomputeCost() {
	s.EstimatedCost = EstimatedCost(s.TokensInput, s.TokensOutput)
}

// Event is a single observed action within a Session.
type Event struct {
	ID                string         `json:"id"`
	SessionID         string         `json:"session_id"`
	EventKind         EventKind      `json:"event_kind"`
	Timestamp         time.Time      `json:"timestamp"`
	AgentKind         AgentKind      `json:"agent_kind"`
	Content           string         `json:"content,omitempty"`
	WorkingDirectory  string         `json:"working_directory,omitempty"`
	ToolName          string         `json:"tool_name,omitempty"`
	FilePath          string         `json:"file_path,omitempty"`
	TokensInput       int64          `json:"tokens_input,omitempty"`
	TokensOutput      int64          `json:"tokens_output,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	RawPayload        map[string]any `json:"raw_payload,omitempty"`
}

// StableID computes the deterministic id mandated for events derived from a
// re-readable source (log tail): a function of session id, timestamp
// truncated to millisecond, event kind and full content. Re-processing the
// same line on restart or re-read must yield the same id.
func StableID(sessionID string, ts time.Time, kind EventKind, content string) string {
	ms := ts.UnixMilli()
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s", sessionID, ms, kind, content)
	return hex.EncodeToString(h.Sum(nil))
}

// WebhookRegistration is a runtime (optionally persisted) subscription to
// triggering events, delivered as a signed HTTP POST.
type WebhookRegistration struct {
	ID      string   `json:"id"`
	URL     string   `json:"url"`
	Events  []string `json:"events"` // event names, or "*" for all
	Secret  string   `json:"secret,omitempty"`
	Enabled bool     `json:"enabled"`
}

// Matches reports whether the registration subscribes to the given event
// name: either it lists the name explicitly or it lists "*".
func (w *WebhookRegistration) Matches(eventName string) bool {
	if !w.Enabled {
		return false
	}
	for _, e := range w.Events {
		if e == "*" || e == eventName {
			return true
		}
	}
	return false
}

// SummaryMetrics aggregates Store state over a time window.
type SummaryMetrics struct {
	TotalSessions  int64   `json:"total_sessions"`
	ActiveSessions int64   `json:"active_sessions"`
	TotalMessages  int64   `json:"total_messages"`
	TotalTools     int64   `json:"total_tools"`
	TotalCost      float64 `json:"total_cost"`
}
