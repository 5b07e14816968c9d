package analytics

import (
	"sync"
	"time"

	"github.com/robertcprice/agent-monitor/internal/model"
)

// SessionAnalytics is the per-session analytics state owned by Manager.
type SessionAnalytics struct {
	SessionID      string
	LastActivity   time.Time
	ExitDetector   *ExitDetector
	CircuitBreaker *CircuitBreaker
	FileOpsSeen    int64
	ErrorsSeen     int64
}

// Manager owns SessionAnalytics by session id and a single global
// RateLimiter, rebuilt entirely by replaying the Bus (analytics state is
// never persisted directly; the status snapshotter writes only the
// rate-limiter part of its snapshot).
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*SessionAnalytics
	RateLimiter *RateLimiter
}

// NewManager returns a Manager with the given global call budget.
func NewManager(maxCallsPerHour int) *Manager {
	return &Manager{
		sessions:    make(map[string]*SessionAnalytics),
		RateLimiter: NewRateLimiter(maxCallsPerHour),
	}
}

func (m *Manager) sessionLocked(id string) *SessionAnalytics {
	sa, ok := m.sessions[id]
	if !ok {
		sa = &SessionAnalytics{
			SessionID:      id,
			ExitDetector:   NewExitDetector(),
			CircuitBreaker: NewCircuitBreaker(),
		}
		m.sessions[id] = sa
	}
	return sa
}

// ObserveEvent updates per-session analytics state and the rate limiter
// from one observed event, and returns the exit signal (if any) raised by
// its content.
func (m *Manager) ObserveEvent(e *model.Event) ExitSignal {
	m.mu.Lock()
	defer m.mu.Unlock()

	sa := m.sessionLocked(e.SessionID)
	sa.LastActivity = e.Timestamp

	if e.TokensInput > 0 || e.TokensOutput > 0 {
		m.RateLimiter.RecordCall(e.TokensInput + e.TokensOutput)
	}

	signal := sa.ExitDetector.Observe(e.Content)

	switch e.EventKind {
	case model.EventFileModified:
		sa.FileOpsSeen++
	case model.EventError:
		sa.ErrorsSeen++
	}

	return signal
}

// RecordLoop feeds one loop iteration's outcome into the session's circuit
// breaker and returns its resulting state.
func (m *Manager) RecordLoop(sessionID, content string, filesChanged int, tokens int64) CircuitState {
	m.mu.Lock()
	defer m.mu.Unlock()

	sa := m.sessionLocked(sessionID)
	sa.CircuitBreaker.RecordResult(content, filesChanged, tokens)
	return sa.CircuitBreaker.State
}

// Snapshot is the serializable per-session state + rate-limiter state. The
// status snapshotter writes only RateLimiter to the status file; the
// per-session state is not written to disk.
type Snapshot struct {
	Sessions    map[string]SessionSnapshot `json:"sessions"`
	RateLimiter RateLimiterState           `json:"rate_limiter"`
}

// SessionSnapshot is the serializable form of SessionAnalytics.
type SessionSnapshot struct {
	LastActivity             time.Time    `json:"last_activity"`
	DoneSignalCount          int          `json:"done_signal_count"`
	TestOnlyCount            int          `json:"test_only_count"`
	CompletionIndicatorCount int          `json:"completion_indicator_count"`
	CircuitState             CircuitState `json:"circuit_state"`
	FileOpsSeen              int64        `json:"file_ops_seen"`
	ErrorsSeen               int64        `json:"errors_seen"`
}

// TakeSnapshot returns a point-in-time copy of every tracked session's
// analytics state plus the rate limiter's state.
func (m *Manager) TakeSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := Snapshot{
		Sessions:    make(map[string]SessionSnapshot, len(m.sessions)),
		RateLimiter: m.RateLimiter.State(),
	}
	for id, sa := range m.sessions {
		out.Sessions[id] = SessionSnapshot{
			LastActivity:             sa.LastActivity,
			DoneSignalCount:          sa.ExitDetector.DoneSignalCount,
			TestOnlyCount:            sa.ExitDetector.TestOnlyCount,
			CompletionIndicatorCount: sa.ExitDetector.CompletionIndicatorCount,
			CircuitState:             sa.CircuitBreaker.State,
			FileOpsSeen:              sa.FileOpsSeen,
			ErrorsSeen:               sa.ErrorsSeen,
		}
	}
	return out
}
