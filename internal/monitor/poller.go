package monitor

import (
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/robertcprice/agent-monitor/internal/bus"
	"github.com/robertcprice/agent-monitor/internal/model"
	"github.com/robertcprice/agent-monitor/internal/store"
)

// DefaultScanInterval is the process-scanner tick used when none is
// configured, within §5's 30-60s window.
const DefaultScanInterval = 45 * time.Second

// DiscoveryPoller periodically calls DiscoverSessions on every registered
// Adapter whose Capabilities report RealTimeEvents == false, and reconciles
// the result into the Store and Bus. Adapters themselves only ever report
// what they currently see; turning that into durable state and
// SessionStart notifications is the Poller's job, kept separate so
// EditorAdapter and PairAdapter (which have no event stream of their own to
// tail) need no Store or Bus reference at all. Adapters that already tail
// their own source and write to the Store directly (ClaudeAdapter) are
// skipped, since polling them would overwrite their live-accumulated state
// with a smaller, independently recomputed one.
type DiscoveryPoller struct {
	registry *Registry
	store    *store.Store
	bus      *bus.Bus
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDiscoveryPoller returns a Poller that will scan every interval once
// started.
func NewDiscoveryPoller(reg *Registry, st *store.Store, b *bus.Bus, interval time.Duration) *DiscoveryPoller {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	return &DiscoveryPoller{
		registry: reg,
		store:    st,
		bus:      b,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs one immediate scan and then one per interval, in its own
// goroutine, per §5's "periodic process scanner" task.
func (p *DiscoveryPoller) Start() {
	go p.loop()
}

// Stop signals the loop to exit and waits for it to finish.
func (p *DiscoveryPoller) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *DiscoveryPoller) loop() {
	defer close(p.doneCh)

	p.scanOnce()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.scanOnce()
		}
	}
}

func (p *DiscoveryPoller) scanOnce() {
	for _, a := range p.registry.Adapters() {
		if a.Capabilities().RealTimeEvents {
			// Self-tailing adapters (ClaudeAdapter) already write their own
			// Sessions/Events as they happen; polling DiscoverSessions here
			// would upsert a smaller, independently recomputed Session over
			// the live-accumulated one and violate upsert monotonicity.
			continue
		}
		sessions, err := a.DiscoverSessions()
		if err != nil {
			log.Printf("[monitor] %s discovery failed: %v", a.Name(), err)
			continue
		}
		for _, sess := range sessions {
			p.reconcile(sess)
		}
	}
}

// reconcile upserts a freshly discovered Session and, the first time this
// id is seen, publishes a synthesized SessionStart event with a random id
// per §4's stable-id rule (the inverse case: discovery, unlike log
// tailing, is not re-readable in a way that makes determinism necessary).
func (p *DiscoveryPoller) reconcile(sess *model.Session) {
	existing, err := p.store.GetSession(sess.ID)
	if err != nil {
		log.Printf("[monitor] lookup failed for %s: %v", sess.ID, err)
		return
	}

	if err := p.store.UpsertSession(sess); err != nil {
		log.Printf("[monitor] upsert failed for %s: %v", sess.ID, err)
		return
	}

	if existing != nil {
		return
	}

	ev := model.Event{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		EventKind: model.EventSessionStart,
		Timestamp: sess.StartedAt,
		AgentKind: sess.AgentKind,
		Content:   "session discovered",
	}
	if err := p.store.InsertEvent(&ev); err != nil {
		log.Printf("[monitor] event insert failed for %s: %v", sess.ID, err)
		return
	}
	p.bus.Publish(ev)
}
