package client

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/homelink/pkg/clock"
	"github.com/urmzd/homelink/pkg/events"
)

const historySize = 20

// StateChange is the payload of TypeClientStateChanged. Seq increases with
// every accepted transition of one machine, so consumers can drop stale
// deliveries.
type StateChange struct {
	Interface string    `json:"interface"`
	Old       State     `json:"old"`
	New       State     `json:"new"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
	Seq       uint64    `json:"seq"`
}

// Observer is called synchronously after every accepted transition. It
// must not call TransitionTo on the same machine.
type Observer func(change StateChange)

// Machine enforces the lifecycle table for one interface.
type Machine struct {
	id       string
	bus      events.Publisher
	clock    clock.Clock
	observer Observer
	logger   zerolog.Logger

	// transitionMu serializes whole transitions including the observer call
	transitionMu sync.Mutex

	mu        sync.RWMutex
	state     State
	seq       uint64
	enteredAt time.Time
	history   []StateChange
}

// Option configures a Machine.
type Option func(*Machine)

// WithPublisher sets where transitions are published.
func WithPublisher(p events.Publisher) Option {
	return func(m *Machine) { m.bus = p }
}

// WithObserver registers a synchronous transition observer.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observer = o }
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// NewMachine creates a machine in INIT for interface id.
func NewMachine(id string, opts ...Option) *Machine {
	m := &Machine{
		id:     id,
		bus:    events.Nop{},
		clock:  clock.Real{},
		logger: log.Logger,
		state:  Init,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.enteredAt = m.clock.Now()
	return m
}

// ID returns the interface ID.
func (m *Machine) ID() string { return m.id }

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot returns the current state together with its sequence number.
func (m *Machine) Snapshot() (State, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.seq
}

// Since returns how long the machine has been in its current state.
func (m *Machine) Since() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clock.Now().Sub(m.enteredAt)
}

// CanTransitionTo reports whether next is reachable from the current state.
func (m *Machine) CanTransitionTo(next State) bool {
	return CanTransition(m.State(), next)
}

// TransitionTo moves the machine to next. A transition the table does not
// permit returns an *InvalidTransitionError and leaves the state as it was.
// The self-transition DISCONNECTED -> DISCONNECTED is accepted as a no-op.
func (m *Machine) TransitionTo(next State, reason string) error {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	m.mu.Lock()
	current := m.state
	if !CanTransition(current, next) {
		m.mu.Unlock()
		return &InvalidTransitionError{Interface: m.id, From: current, To: next}
	}
	if current == next {
		m.mu.Unlock()
		return nil
	}

	now := m.clock.Now()
	m.seq++
	change := StateChange{
		Interface: m.id,
		Old:       current,
		New:       next,
		Reason:    reason,
		At:        now,
		Seq:       m.seq,
	}
	m.state = next
	m.enteredAt = now
	m.history = append(m.history, change)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
	m.mu.Unlock()

	m.logger.Info().
		Str("interface", m.id).
		Stringer("from", current).
		Stringer("to", next).
		Str("reason", reason).
		Msg("Client state changed")

	m.bus.Publish(events.New(events.TypeClientStateChanged, m.id, change))
	if m.observer != nil {
		m.observer(change)
	}
	return nil
}

// History returns the most recent transitions, oldest first.
func (m *Machine) History() []StateChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StateChange, len(m.history))
	copy(out, m.history)
	return out
}
