package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/homelink/pkg/breaker"
	"github.com/urmzd/homelink/pkg/client"
	"github.com/urmzd/homelink/pkg/clock"
	"github.com/urmzd/homelink/pkg/events"
)

// Config controls the recency term.
type Config struct {
	// FreshWindow is the age below which activity counts fully.
	FreshWindow time.Duration `json:"fresh_window"`

	// StalenessThreshold is the age at which activity stops counting and
	// the interface is reported stale.
	StalenessThreshold time.Duration `json:"staleness_threshold"`
}

// DefaultConfig returns a 60s fresh window and 5m staleness threshold.
func DefaultConfig() Config {
	return Config{
		FreshWindow:        60 * time.Second,
		StalenessThreshold: 5 * time.Minute,
	}
}

// ClientSource is a client state machine the tracker can poll.
type ClientSource interface {
	ID() string
	Snapshot() (client.State, uint64)
}

// Subscriber is the part of the event bus the tracker listens on.
type Subscriber interface {
	Subscribe(t events.Type, key string, handler events.Handler, priority int) func()
}

type record struct {
	health     ConnectionHealth
	clientSeq  uint64
	circuitSeq map[string]uint64
}

// Tracker is the single source of truth for interface health. Its state is
// written only through the update entry points and read as copies.
type Tracker struct {
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.RWMutex
	records map[string]*record
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a tracker with no registered interfaces.
func NewTracker(cfg Config, opts ...Option) *Tracker {
	d := DefaultConfig()
	if cfg.FreshWindow <= 0 {
		cfg.FreshWindow = d.FreshWindow
	}
	if cfg.StalenessThreshold <= 0 {
		cfg.StalenessThreshold = d.StalenessThreshold
	}
	t := &Tracker{
		cfg:     cfg,
		clock:   clock.Real{},
		logger:  log.Logger,
		records: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register starts tracking id. Registering twice keeps the existing record.
func (t *Tracker) Register(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[id]; ok {
		return
	}
	t.records[id] = &record{
		health: ConnectionHealth{
			Interface:   id,
			ClientState: client.Init,
			Circuits:    make(map[string]breaker.State),
		},
		circuitSeq: make(map[string]uint64),
	}
}

// Unregister stops tracking id.
func (t *Tracker) Unregister(id string) {
	t.mu.Lock()
	delete(t.records, id)
	t.mu.Unlock()
}

// with runs fn on the record of id under the write lock.
func (t *Tracker) with(id string, fn func(r *record)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok {
		t.logger.Debug().Str("interface", id).Msg("Health update for untracked interface ignored")
		return
	}
	fn(r)
}

// UpdateFromClientState applies a client transition. Deliveries older
// than the last applied one are dropped.
func (t *Tracker) UpdateFromClientState(change client.StateChange) {
	t.with(change.Interface, func(r *record) {
		if change.Seq != 0 && change.Seq <= r.clientSeq {
			return
		}
		r.clientSeq = change.Seq
		r.health.ClientState = change.New
	})
}

// UpdateFromCircuit applies a circuit transition of one channel.
func (t *Tracker) UpdateFromCircuit(change breaker.StateChange) {
	t.with(change.Interface, func(r *record) {
		if change.Seq != 0 && change.Seq <= r.circuitSeq[change.Channel] {
			return
		}
		r.circuitSeq[change.Channel] = change.Seq
		r.health.Circuits[change.Channel] = change.New
	})
}

// TrackCircuit sets the initial state of a channel, e.g. at registration.
func (t *Tracker) TrackCircuit(id, channel string, state breaker.State) {
	t.with(id, func(r *record) {
		if _, ok := r.health.Circuits[channel]; !ok {
			r.health.Circuits[channel] = state
		}
	})
}

// RecordCallOutcome applies one guarded call result.
func (t *Tracker) RecordCallOutcome(o breaker.CallOutcome) {
	at := o.At
	if at.IsZero() {
		at = t.clock.Now()
	}
	t.with(o.Interface, func(r *record) {
		switch o.Result {
		case breaker.ResultSuccess:
			if at.After(r.health.LastSuccess) {
				r.health.LastSuccess = at
			}
			r.health.ConsecutiveFailures = 0
		case breaker.ResultFailure:
			if at.After(r.health.LastFailure) {
				r.health.LastFailure = at
			}
			r.health.ConsecutiveFailures++
		case breaker.ResultRejected:
			r.health.Rejections++
		}
	})
}

// RecordLiveness notes a liveness push from the backend.
func (t *Tracker) RecordLiveness(id string, at time.Time) {
	if at.IsZero() {
		at = t.clock.Now()
	}
	t.with(id, func(r *record) {
		if at.After(r.health.LastLiveness) {
			r.health.LastLiveness = at
		}
	})
}

// SetReconnectAttempts records the recovery attempt counter of id.
func (t *Tracker) SetReconnectAttempts(id string, attempts int) {
	t.with(id, func(r *record) {
		r.health.ReconnectAttempts = attempts
	})
}

// UpdateAllFromClients polls the given machines.
func (t *Tracker) UpdateAllFromClients(clients []ClientSource) {
	for _, c := range clients {
		state, seq := c.Snapshot()
		t.with(c.ID(), func(r *record) {
			if seq < r.clientSeq {
				return
			}
			r.clientSeq = seq
			r.health.ClientState = state
		})
	}
}

// Health returns the snapshot of id.
func (t *Tracker) Health(id string) (ConnectionHealth, bool) {
	now := t.clock.Now()
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[id]
	if !ok {
		return ConnectionHealth{}, false
	}
	return t.derive(r, now), true
}

func (t *Tracker) derive(r *record, now time.Time) ConnectionHealth {
	h := r.health.clone()
	h.Score = Score(h, now, t.cfg)
	last := h.LastActivity()
	h.Stale = last.IsZero() || now.Sub(last) >= t.cfg.StalenessThreshold
	return h
}

// CentralHealth returns the system-wide snapshot.
func (t *Tracker) CentralHealth() CentralHealth {
	now := t.clock.Now()
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := CentralHealth{
		Interfaces: make(map[string]ConnectionHealth, len(t.records)),
		At:         now,
	}
	for id, r := range t.records {
		out.Interfaces[id] = t.derive(r, now)
	}
	return out
}

// AllClientsHealthy reports whether every tracked interface is CONNECTED.
func (t *Tracker) AllClientsHealthy() bool {
	return t.CentralHealth().AllHealthy()
}

// OverallScore is the system-wide score.
func (t *Tracker) OverallScore() float64 {
	return t.CentralHealth().OverallScore()
}

// FailedClients lists interfaces needing recovery.
func (t *Tracker) FailedClients() []string {
	return t.CentralHealth().FailedClients()
}

// HealthyClients lists CONNECTED interfaces.
func (t *Tracker) HealthyClients() []string {
	return t.CentralHealth().HealthyClients()
}

// DegradedClients lists interfaces in transitional states.
func (t *Tracker) DegradedClients() []string {
	return t.CentralHealth().DegradedClients()
}

// Attach subscribes the tracker to the bus. The returned function
// detaches it.
func (t *Tracker) Attach(bus Subscriber) func() {
	const priority = 100
	unsubs := []func(){
		bus.Subscribe(events.TypeClientStateChanged, events.Wildcard, func(_ context.Context, e events.Event) error {
			if c, ok := e.Payload.(client.StateChange); ok {
				t.UpdateFromClientState(c)
			}
			return nil
		}, priority),
		bus.Subscribe(events.TypeCircuitStateChanged, events.Wildcard, func(_ context.Context, e events.Event) error {
			if c, ok := e.Payload.(breaker.StateChange); ok {
				t.UpdateFromCircuit(c)
			}
			return nil
		}, priority),
		bus.Subscribe(events.TypeCircuitCallOutcome, events.Wildcard, func(_ context.Context, e events.Event) error {
			if o, ok := e.Payload.(breaker.CallOutcome); ok {
				t.RecordCallOutcome(o)
			}
			return nil
		}, priority),
		bus.Subscribe(events.TypeHeartbeatReceived, events.Wildcard, func(_ context.Context, e events.Event) error {
			if hb, ok := e.Payload.(events.Heartbeat); ok {
				t.RecordLiveness(hb.Interface, hb.At)
			}
			return nil
		}, priority),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
