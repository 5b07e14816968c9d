// Package snapshot implements the Status Snapshotter (C8): a periodic
// write-then-rename JSON status document, and the document builder shared
// with the HTTP /status endpoint.
package snapshot

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/robertcprice/agent-monitor/internal/analytics"
	"github.com/robertcprice/agent-monitor/internal/store"
)

// DefaultInterval is the periodic write interval when the daemon config
// does not set one explicitly.
const DefaultInterval = 15 * time.Second

// Sessions summarizes the session table for the status document, per §6.
type Sessions struct {
	ActiveCount int64            `json:"active_count"`
	Total24h    int64            `json:"total_24h"`
	ByAgentType map[string]int64 `json:"by_agent_type"`
}

// Analytics summarizes the analytics layer for the status document.
type Analytics struct {
	TotalMessages int64                       `json:"total_messages"`
	TotalCost     float64                     `json:"total_cost"`
	RateLimit     *analytics.RateLimiterState `json:"rate_limit,omitempty"`
}

// Document is the full status document schema of §6:
// {daemon_status, version, timestamp, uptime_seconds, sessions, analytics}.
type Document struct {
	DaemonStatus  string    `json:"daemon_status"`
	Version       string    `json:"version"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Sessions      Sessions  `json:"sessions"`
	Analytics     Analytics `json:"analytics"`
}

// Build assembles a Document from the current Store and Analytics state.
func Build(st *store.Store, am *analytics.Manager, version string, startedAt time.Time) (*Document, error) {
	recent, err := st.GetRecentSessions(24, 10000)
	if err != nil {
		return nil, err
	}
	byAgentType := make(map[string]int64)
	var total24h int64
	for _, sess := range recent {
		byAgentType[string(sess.AgentKind)]++
		total24h++
	}

	active, err := st.GetActiveSessions(10000)
	if err != nil {
		return nil, err
	}

	metrics, err := st.GetSummaryMetrics(24)
	if err != nil {
		return nil, err
	}

	var rl *analytics.RateLimiterState
	if am != nil {
		snap := am.TakeSnapshot()
		rl = &snap.RateLimiter
	}

	return &Document{
		DaemonStatus:  "running",
		Version:       version,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(startedAt).Seconds()),
		Sessions: Sessions{
			ActiveCount: int64(len(active)),
			Total24h:    total24h,
			ByAgentType: byAgentType,
		},
		Analytics: Analytics{
			TotalMessages: metrics.TotalMessages,
			TotalCost:     metrics.TotalCost,
			RateLimit:     rl,
		},
	}, nil
}

// Snapshotter periodically writes a Document to path via write-then-rename,
// so a partial write never corrupts the prior good file, per §4.8.
type Snapshotter struct {
	path      string
	interval  time.Duration
	store     *store.Store
	analytics *analytics.Manager
	version   string
	startedAt time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSnapshotter returns a Snapshotter writing to path every interval.
func NewSnapshotter(path string, interval time.Duration, st *store.Store, am *analytics.Manager, version string) *Snapshotter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Snapshotter{
		path:      path,
		interval:  interval,
		store:     st,
		analytics: am,
		version:   version,
		startedAt: time.Now().UTC(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start spawns the periodic write loop.
func (s *Snapshotter) Start() {
	go s.loop()
}

// Stop signals the write loop to exit and waits for it to finish.
func (s *Snapshotter) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Snapshotter) loop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.writeOnce(); err != nil {
				log.Printf("[snapshot] write failed: %v", err)
			}
		}
	}
}

func (s *Snapshotter) writeOnce() error {
	doc, err := Build(s.store, s.analytics, s.version, s.startedAt)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
