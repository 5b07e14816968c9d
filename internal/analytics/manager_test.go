package analytics

import (
	"testing"
	"time"

	"github.com/robertcprice/agent-monitor/internal/model"
)

func TestManagerObserveEventRecordsRateLimiterCall(t *testing.T) {
	m := NewManager(100)
	e := &model.Event{
		SessionID:   "s1",
		EventKind:   model.EventResponseGenerated,
		Timestamp:   time.Now(),
		Content:     "working on it",
		TokensInput: 10,
		TokensOutput: 20,
	}
	m.ObserveEvent(e)

	snap := m.TakeSnapshot()
	if snap.RateLimiter.TotalCalls != 1 {
		t.Fatalf("expected 1 recorded call, got %d", snap.RateLimiter.TotalCalls)
	}
	if _, ok := snap.Sessions["s1"]; !ok {
		t.Fatal("expected session s1 to be tracked")
	}
}

func TestManagerRecordLoopTripsCircuitBreaker(t *testing.T) {
	m := NewManager(100)
	for i := 0; i < 3; i++ {
		m.RecordLoop("s1", "no progress here", 0, 0)
	}
	snap := m.TakeSnapshot()
	if snap.Sessions["s1"].CircuitState != CircuitOpen {
		t.Fatalf("expected circuit open after 3 no-progress loops, got %v", snap.Sessions["s1"].CircuitState)
	}
}

func TestManagerFileOpsAndErrorCounters(t *testing.T) {
	m := NewManager(100)
	m.ObserveEvent(&model.Event{SessionID: "s1", EventKind: model.EventFileModified, Timestamp: time.Now()})
	m.ObserveEvent(&model.Event{SessionID: "s1", EventKind: model.EventError, Timestamp: time.Now()})

	snap := m.TakeSnapshot()
	sa := snap.Sessions["s1"]
	if sa.FileOpsSeen != 1 || sa.ErrorsSeen != 1 {
		t.Fatalf("expected 1 file op and 1 error, got %+v", sa)
	}
}
