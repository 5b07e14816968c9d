// Package bus implements the in-process broadcast of Events to N
// subscribers with lossy overflow, generalizing the per-client channel and
// non-blocking-send pattern used by the teacher's WebSocket broadcaster to
// a publisher that must never block and must never tear down a slow
// subscriber.
package bus

import (
	"sync"

	"github.com/robertcprice/agent-monitor/internal/model"
)

// BufferDepth is the bounded buffer size per subscriber, per §4.2.
const BufferDepth = 1000

// Bus is an in-process publish/subscribe channel for model.Event. The zero
// value is not usable; use New.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// New returns a ready-to-use Bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscription is an independent receiver of events in publish order. If
// the subscriber falls behind, it loses the oldest undelivered events and
// Lagged is signaled; the publisher is never blocked by a slow subscriber.
type Subscription struct {
	bus     *Bus
	events  chan model.Event
	lagged  chan struct{}
	mu      sync.Mutex
	closed  bool
}

// Subscribe returns a new Subscription. Dropping it (calling Close) is the
// sole unsubscribe path.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		bus:    b,
		events: make(chan model.Event, BufferDepth),
		lagged: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish delivers ev to every current subscriber without blocking. A
// subscriber whose buffer is full has its oldest queued event dropped to
// make room and is signaled on Lagged().
func (b *Bus) Publish(ev model.Event) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(ev)
	}
}

func (s *Subscription) deliver(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
		return
	default:
	}

	// Buffer full: drop the oldest queued event, signal lag, then enqueue.
	select {
	case <-s.events:
	default:
	}
	select {
	case s.lagged <- struct{}{}:
	default:
	}
	select {
	case s.events <- ev:
	default:
	}
}

// Events returns the channel events are delivered on.
func (s *Subscription) Events() <-chan model.Event {
	return s.events
}

// Lagged yields a value when this subscriber has missed events because its
// bounded buffer overflowed. The channel holds one pending signal, so
// several overflows before a drain yield a single value. It never blocks a
// publisher; consumers should drain it alongside Events().
func (s *Subscription) Lagged() <-chan struct{} {
	return s.lagged
}

// Close unsubscribes s from its Bus. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// SubscriberCount returns the current number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
