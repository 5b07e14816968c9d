// Package tui implements the data-refresh contract (C9) a terminal UI
// pulls against: session/event polling on a fixed interval and the
// selection-stability algorithm that keeps a user's highlighted row from
// jumping when the underlying list changes underneath it. Rendering and
// input handling are external, per spec.md's explicit non-goal.
package tui

import (
	"sync"
	"time"

	"github.com/robertcprice/agent-monitor/internal/model"
	"github.com/robertcprice/agent-monitor/internal/store"
)

// SessionPollInterval and EventPollInterval are the fixed polling cadences
// of §4.9.
const (
	SessionPollInterval   = 2 * time.Second
	EventPollInterval     = 1 * time.Second
	ActiveSessionsLimit   = 50
	SessionEventsLimit    = 500
)

// Client holds the polled state a terminal UI renders from. All exported
// methods are safe for concurrent use; the poll loops run in their own
// goroutines and writers never block a reader for long.
type Client struct {
	store *store.Store

	mu           sync.Mutex
	sessions     []*model.Session
	sessionIDs   []string
	selectedID   string
	scrollOffset int
	events       []*model.Event
	expanded     bool

	sessionStop chan struct{}
	sessionDone chan struct{}
	eventStop   chan struct{}
	eventDone   chan struct{}
}

// NewClient returns a Client pulling from st. Call Start to begin polling.
func NewClient(st *store.Store) *Client {
	return &Client{
		store:       st,
		sessionStop: make(chan struct{}),
		sessionDone: make(chan struct{}),
		eventStop:   make(chan struct{}),
		eventDone:   make(chan struct{}),
	}
}

// Start spawns the two independent poll loops.
func (c *Client) Start() {
	go c.sessionLoop()
	go c.eventLoop()
}

// Stop signals both loops to exit and waits for them to finish.
func (c *Client) Stop() {
	close(c.sessionStop)
	close(c.eventStop)
	<-c.sessionDone
	<-c.eventDone
}

func (c *Client) sessionLoop() {
	defer close(c.sessionDone)
	c.refreshSessions()
	ticker := time.NewTicker(SessionPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.sessionStop:
			return
		case <-ticker.C:
			c.refreshSessions()
		}
	}
}

func (c *Client) eventLoop() {
	defer close(c.eventDone)
	ticker := time.NewTicker(EventPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.eventStop:
			return
		case <-ticker.C:
			if c.IsExpanded() {
				continue
			}
			c.refreshEvents()
		}
	}
}

func (c *Client) refreshSessions() {
	sessions, err := c.store.GetActiveSessions(ActiveSessionsLimit)
	if err != nil {
		return
	}
	newIDs := make([]string, len(sessions))
	for i, s := range sessions {
		newIDs[i] = s.ID
	}

	c.mu.Lock()
	oldIDs := c.sessionIDs
	selected, offset := ReconcileSelection(oldIDs, newIDs, c.selectedID, c.scrollOffset)
	c.sessions = sessions
	c.sessionIDs = newIDs
	c.selectedID = selected
	c.scrollOffset = offset
	c.mu.Unlock()
}

func (c *Client) refreshEvents() {
	id := c.SelectedID()
	if id == "" {
		return
	}
	events, err := c.store.GetSessionEvents(id, SessionEventsLimit)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.events = events
	c.mu.Unlock()
}

// Select sets the user-highlighted session id, resetting the scroll offset.
func (c *Client) Select(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedID = id
	c.scrollOffset = 0
}

// SetExpanded toggles whether the selected session's event view is
// expanded; event polling pauses while expanded, per §4.9.
func (c *Client) SetExpanded(expanded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expanded = expanded
}

// IsExpanded reports the current expanded state.
func (c *Client) IsExpanded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expanded
}

// Sessions returns the most recently polled session list.
func (c *Client) Sessions() []*model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*model.Session, len(c.sessions))
	copy(out, c.sessions)
	return out
}

// Events returns the most recently polled event list for the selected
// session.
func (c *Client) Events() []*model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*model.Event, len(c.events))
	copy(out, c.events)
	return out
}

// SelectedID returns the currently selected session id.
func (c *Client) SelectedID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedID
}

// ScrollOffset returns the current scroll offset.
func (c *Client) ScrollOffset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scrollOffset
}

// ReconcileSelection implements §4.9's selection-stability rule: the
// previously selected id is re-located by id in the new list; if it is
// gone, selection falls back to the new head. If the old head is still
// present in the new list, the scroll offset is shifted by however many
// new rows were inserted ahead of it, so the selected row does not appear
// to jump when fresh sessions appear at the top.
func ReconcileSelection(oldIDs, newIDs []string, selectedID string, scrollOffset int) (string, int) {
	if selectedID == "" || indexOf(newIDs, selectedID) < 0 {
		if len(newIDs) > 0 {
			return newIDs[0], 0
		}
		return "", 0
	}

	delta := 0
	if len(oldIDs) > 0 {
		if idx := indexOf(newIDs, oldIDs[0]); idx >= 0 {
			delta = idx
		}
	}
	return selectedID, scrollOffset + delta
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
