package central

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/homelink/pkg/clock"
	"github.com/urmzd/homelink/pkg/events"
)

// EventKey is the bus key of central events.
const EventKey = "central"

const historySize = 100

// HealthView answers the RUNNING guard.
type HealthView interface {
	AllClientsHealthy() bool
}

// StateChange is the payload of TypeCentralStateChanged.
type StateChange struct {
	Old    State     `json:"old"`
	New    State     `json:"new"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
	Seq    uint64    `json:"seq"`
}

// Machine is the system-wide state machine. Transitions are requested by
// the scheduler and recovery logic; it never observes clients on its own.
type Machine struct {
	health HealthView
	bus    events.Publisher
	clock  clock.Clock
	logger zerolog.Logger

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

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// NewMachine creates a machine in STARTING.
func NewMachine(health HealthView, opts ...Option) *Machine {
	m := &Machine{
		health: health,
		bus:    events.Nop{},
		clock:  clock.Real{},
		logger: log.Logger,
		state:  Starting,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.enteredAt = m.clock.Now()
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot returns the current state with the sequence number of the
// transition that entered it.
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

// History returns the most recent transitions, oldest first.
func (m *Machine) History() []StateChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StateChange, len(m.history))
	copy(out, m.history)
	return out
}

// TransitionTo moves the machine to next. Edges outside the table return an
// *InvalidTransitionError; RUNNING is refused with ErrGuardRejected unless
// every client is healthy. Rejections leave the state unchanged.
func (m *Machine) TransitionTo(next State, reason string) error {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()
	return m.transitionLocked(next, reason)
}

// transitionLocked performs a transition. Caller holds transitionMu.
func (m *Machine) transitionLocked(next State, reason string) error {
	current := m.State()
	if !CanTransition(current, next) {
		return &InvalidTransitionError{From: current, To: next}
	}
	if next == Running && (m.health == nil || !m.health.AllClientsHealthy()) {
		return fmt.Errorf("%s -> %s: %w", current, next, ErrGuardRejected)
	}

	now := m.clock.Now()
	m.mu.Lock()
	m.seq++
	change := StateChange{Old: current, New: next, Reason: reason, At: now, Seq: m.seq}
	m.state = next
	m.enteredAt = now
	m.history = append(m.history, change)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
	m.mu.Unlock()

	ev := m.logger.Info()
	if next == Failed || next == Degraded {
		ev = m.logger.Warn()
	}
	ev.Stringer("from", current).
		Stringer("to", next).
		Str("reason", reason).
		Msg("Central state changed")

	m.bus.Publish(events.New(events.TypeCentralStateChanged, EventKey, change))
	return nil
}

// OnClientsBuilt moves STARTING to INITIALIZING once the client set exists.
func (m *Machine) OnClientsBuilt() error {
	return m.TransitionTo(Initializing, "clients created")
}

// OnHealthChanged re-evaluates the health guard and moves between
// INITIALIZING, RUNNING and DEGRADED accordingly. Other states are left
// alone; RECOVERING is decided by FinishRecovery.
func (m *Machine) OnHealthChanged(reason string) (State, error) {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	current := m.State()
	healthy := m.health != nil && m.health.AllClientsHealthy()

	var next State
	switch {
	case current == Initializing && healthy:
		next = Running
	case current == Initializing:
		next = Degraded
	case current == Running && !healthy:
		next = Degraded
	case current == Degraded && healthy:
		next = Running
	default:
		return current, nil
	}
	if err := m.transitionLocked(next, reason); err != nil {
		return m.State(), err
	}
	return next, nil
}

// StartRecovery enters RECOVERING from RUNNING or DEGRADED. Calling it while
// already recovering is a no-op. FAILED only leaves through HeartbeatRetry.
func (m *Machine) StartRecovery(reason string) error {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	switch current := m.State(); current {
	case Recovering:
		return nil
	case Failed:
		return &InvalidTransitionError{From: current, To: Recovering}
	}
	return m.transitionLocked(Recovering, reason)
}

// FinishRecovery leaves RECOVERING according to the aggregate outcome. A
// full outcome that no longer satisfies the RUNNING guard settles on DEGRADED.
func (m *Machine) FinishRecovery(outcome RecoveryOutcome, reason string) (State, error) {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	current := m.State()
	if current != Recovering {
		return current, nil
	}

	next := Degraded
	switch outcome {
	case OutcomeFull:
		next = Running
	case OutcomeExhausted:
		next = Failed
	}

	err := m.transitionLocked(next, reason)
	if err != nil && next == Running {
		m.logger.Warn().Err(err).Msg("Recovery finished but clients are not all healthy")
		next = Degraded
		err = m.transitionLocked(Degraded, reason)
	}
	if err != nil {
		return current, err
	}
	return next, nil
}

// HeartbeatRetry moves FAILED to RECOVERING.
func (m *Machine) HeartbeatRetry() error {
	return m.TransitionTo(Recovering, "heartbeat retry")
}

// Stop moves any non-terminal state to STOPPED. Stopping twice is a no-op.
func (m *Machine) Stop(reason string) error {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()
	if m.State() == Stopped {
		return nil
	}
	return m.transitionLocked(Stopped, reason)
}
