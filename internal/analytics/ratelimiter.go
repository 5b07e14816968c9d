package analytics

import (
	"sync"
	"time"
)

// RateLimiterState is a snapshot of the limiter suitable for serialization
// into the status snapshot document.
type RateLimiterState struct {
	CallsThisHour    int   `json:"calls_this_hour"`
	MaxCallsPerHour  int   `json:"max_calls_per_hour"`
	TokensThisHour   int64 `json:"tokens_this_hour"`
	TotalCalls       int64 `json:"total_calls"`
	Disabled         bool  `json:"disabled"`
}

// RateLimiter is a global, fixed-window call counter keyed by the current
// hour stamp.
type RateLimiter struct {
	mu              sync.Mutex
	callsThisHour   int
	maxCallsPerHour int
	tokensThisHour  int64
	totalCalls      int64
	disabled        bool
	lastResetHour   string
}

// NewRateLimiter returns a limiter allowing up to maxCallsPerHour calls in
// any given hour.
func NewRateLimiter(maxCallsPerHour int) *RateLimiter {
	return &RateLimiter{
		maxCallsPerHour: maxCallsPerHour,
		lastResetHour:   hourStamp(time.Now()),
	}
}

func hourStamp(t time.Time) string {
	return t.UTC().Format("2006010215")
}

func (r *RateLimiter) rolloverLocked() {
	stamp := hourStamp(time.Now())
	if stamp != r.lastResetHour {
		r.callsThisHour = 0
		r.tokensThisHour = 0
		r.lastResetHour = stamp
	}
}

// CanMakeCall reports whether another call is currently permitted.
func (r *RateLimiter) CanMakeCall() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disabled {
		return true
	}
	r.rolloverLocked()
	return r.callsThisHour < r.maxCallsPerHour
}

// RecordCall registers one call and its token cost against the current
// hour's window.
func (r *RateLimiter) RecordCall(tokens int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolloverLocked()
	r.callsThisHour++
	r.tokensThisHour += tokens
	r.totalCalls++
}

// SecondsUntilReset returns the time remaining until the next hour
// boundary, when the window rolls over.
func (r *RateLimiter) SecondsUntilReset() int {
	now := time.Now().UTC()
	next := now.Truncate(time.Hour).Add(time.Hour)
	return int(next.Sub(now).Seconds())
}

// SetDisabled toggles the disabled flag. The effect is observable by the
// very next CanMakeCall/RecordCall.
func (r *RateLimiter) SetDisabled(disabled bool) {
	r.mu.Lock()
	r.disabled = disabled
	r.mu.Unlock()
}

// State returns a point-in-time snapshot of the limiter.
func (r *RateLimiter) State() RateLimiterState {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolloverLocked()
	return RateLimiterState{
		CallsThisHour:   r.callsThisHour,
		MaxCallsPerHour: r.maxCallsPerHour,
		TokensThisHour:  r.tokensThisHour,
		TotalCalls:      r.totalCalls,
		Disabled:        r.disabled,
	}
}
