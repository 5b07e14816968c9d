package monitor

import (
	"sync"
	"time"
)

// sourceHealth tracks consecutive discover/parse failure counts for a
// single Adapter, following the teacher's per-source health counters. Only
// ClaudeAdapter uses it; EditorAdapter and PairAdapter always report
// StatusHealthy.
type sourceHealth struct {
	mu               sync.Mutex
	discoverFailures int
	lastDiscoverErr  string
	lastDiscoverFail time.Time
	parseFailures    map[string]int
	lastParseErr     string
	lastParseFail    time.Time
	threshold        int
}

func newSourceHealth(threshold int) *sourceHealth {
	return &sourceHealth{
		parseFailures: make(map[string]int),
		threshold:     threshold,
	}
}

func (h *sourceHealth) recordDiscoverSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.discoverFailures = 0
	h.lastDiscoverErr = ""
}

func (h *sourceHealth) recordDiscoverFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.discoverFailures++
	h.lastDiscoverErr = err.Error()
	h.lastDiscoverFail = time.Now()
}

func (h *sourceHealth) recordParseSuccess(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.parseFailures, key)
}

func (h *sourceHealth) recordParseFailure(key string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.parseFailures[key]++
	h.lastParseErr = err.Error()
	h.lastParseFail = time.Now()
}

// status computes the current health status for this source.
func (h *sourceHealth) status() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.discoverFailures >= h.threshold {
		return StatusFailed
	}
	for _, n := range h.parseFailures {
		if n >= h.threshold {
			return StatusDegraded
		}
	}
	return StatusHealthy
}

func (h *sourceHealth) lastError() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastDiscoverErr != "" && (h.lastParseErr == "" || h.lastDiscoverFail.After(h.lastParseFail)) {
		return h.lastDiscoverErr
	}
	return h.lastParseErr
}
