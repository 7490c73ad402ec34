// Package breaker implements the per-interface circuit breaker that gates
// remote calls to the central.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/homelink/pkg/clock"
	"github.com/urmzd/homelink/pkg/events"
)

// State is the circuit state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Channel names used by the connectivity layer.
const (
	ChannelPrimary   = "primary"
	ChannelSecondary = "secondary"
)

// CallResult classifies one guarded call.
type CallResult string

const (
	ResultSuccess  CallResult = "success"
	ResultFailure  CallResult = "failure"
	ResultRejected CallResult = "rejected"
)

// Config controls when the breaker trips and closes again.
type Config struct {
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	HalfOpenMaxCalls int           `json:"half_open_max_calls"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return c
}

// StateChange is the payload of TypeCircuitStateChanged and
// TypeCircuitTripped. Seq increases with every transition of one breaker.
type StateChange struct {
	Interface string        `json:"interface"`
	Channel   string        `json:"channel"`
	Old       State         `json:"old"`
	New       State         `json:"new"`
	Failures  int           `json:"failures"`
	InState   time.Duration `json:"in_state"`
	At        time.Time     `json:"at"`
	Seq       uint64        `json:"seq"`
}

// CallOutcome is the payload of TypeCircuitCallOutcome.
type CallOutcome struct {
	Interface string     `json:"interface"`
	Channel   string     `json:"channel"`
	Result    CallResult `json:"result"`
	State     State      `json:"state"`
	At        time.Time  `json:"at"`
}

// Metrics is a point-in-time view of breaker counters.
type Metrics struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ConsecutiveSuccess  int       `json:"consecutive_success"`
	TotalCalls          int64     `json:"total_calls"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
	Rejections          int64     `json:"rejections"`
	Trips               int64     `json:"trips"`
	LastStateChange     time.Time `json:"last_state_change"`
	Seq                 uint64    `json:"seq"`
}

// Breaker is a CLOSED/OPEN/HALF_OPEN gate for one interface channel. It
// never retries; it only decides whether a call may proceed.
type Breaker struct {
	iface   string
	channel string
	cfg     Config
	bus     events.Publisher
	clock   clock.Clock
	logger  zerolog.Logger

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	inFlight    int
	changedAt   time.Time
	seq         uint64
	total       int64
	okCount     int64
	failCount   int64
	rejectCount int64
	trips       int64
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithPublisher sets where state and outcome events are published.
func WithPublisher(p events.Publisher) Option {
	return func(b *Breaker) { b.bus = p }
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// New creates a closed breaker for the given interface and channel.
func New(iface, channel string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		iface:   iface,
		channel: channel,
		cfg:     cfg.normalized(),
		bus:     events.Nop{},
		clock:   clock.Real{},
		logger:  log.Logger,
		state:   Closed,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.changedAt = b.clock.Now()
	return b
}

// Interface returns the interface the breaker guards.
func (b *Breaker) Interface() string { return b.iface }

// Channel returns the call channel the breaker guards.
func (b *Breaker) Channel() string { return b.channel }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Guard runs fn if the breaker permits it and records the outcome. When
// the circuit is open ErrCircuitOpen is returned without invoking fn.
// Cancellation of ctx is not counted as a failure.
func (b *Breaker) Guard(ctx context.Context, fn func(context.Context) error) error {
	seq, err := b.acquire()
	if err != nil {
		return err
	}

	err = fn(ctx)
	switch {
	case err == nil:
		b.record(seq, true)
	case errors.Is(err, context.Canceled):
		b.release(seq)
	default:
		b.record(seq, false)
	}
	return err
}

// acquire decides whether a call may start and returns the transition
// sequence it was admitted under.
func (b *Breaker) acquire() (uint64, error) {
	b.mu.Lock()

	switch b.state {
	case Open:
		if b.clock.Now().Sub(b.changedAt) < b.cfg.RecoveryTimeout {
			b.total++
			b.rejectCount++
			out := b.outcomeLocked(ResultRejected)
			b.mu.Unlock()
			b.bus.Publish(events.New(events.TypeCircuitCallOutcome, b.iface, out))
			return 0, ErrCircuitOpen
		}
		change := b.transitionLocked(HalfOpen)
		b.inFlight = 1
		seq := b.seq
		b.mu.Unlock()
		b.publishChange(change)
		return seq, nil
	case HalfOpen:
		if b.inFlight >= b.cfg.HalfOpenMaxCalls {
			b.total++
			b.rejectCount++
			out := b.outcomeLocked(ResultRejected)
			b.mu.Unlock()
			b.bus.Publish(events.New(events.TypeCircuitCallOutcome, b.iface, out))
			return 0, ErrTooManyProbes
		}
		b.inFlight++
	}
	seq := b.seq
	b.mu.Unlock()
	return seq, nil
}

func (b *Breaker) release(seq uint64) {
	b.mu.Lock()
	if seq == b.seq && b.state == HalfOpen && b.inFlight > 0 {
		b.inFlight--
	}
	b.mu.Unlock()
}

// Record reports the outcome of a call made outside Guard. It counts
// against the current state.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	seq := b.seq
	b.mu.Unlock()
	b.record(seq, success)
}

// record books an outcome admitted under seq. Calls admitted before the
// last transition only update the totals.
func (b *Breaker) record(seq uint64, success bool) {
	b.mu.Lock()

	b.total++
	result := ResultSuccess
	if success {
		b.okCount++
	} else {
		result = ResultFailure
		b.failCount++
	}

	var change *StateChange
	if seq == b.seq {
		change = b.applyLocked(success)
	}
	out := b.outcomeLocked(result)
	b.mu.Unlock()

	if change != nil {
		b.publishChange(*change)
	}
	b.bus.Publish(events.New(events.TypeCircuitCallOutcome, b.iface, out))
}

// applyLocked moves the state counters for an outcome of the current
// state. Caller holds b.mu.
func (b *Breaker) applyLocked(success bool) *StateChange {
	if b.state == HalfOpen && b.inFlight > 0 {
		b.inFlight--
	}

	if success {
		switch b.state {
		case Closed:
			b.failures = 0
		case HalfOpen:
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				c := b.transitionLocked(Closed)
				return &c
			}
		}
		return nil
	}

	b.failures++
	b.successes = 0
	switch b.state {
	case Closed:
		if b.failures >= b.cfg.FailureThreshold {
			c := b.transitionLocked(Open)
			return &c
		}
	case HalfOpen:
		c := b.transitionLocked(Open)
		return &c
	}
	return nil
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.successes = 0
	b.inFlight = 0
	if b.state == Closed {
		b.mu.Unlock()
		return
	}
	change := b.transitionLocked(Closed)
	b.mu.Unlock()
	b.publishChange(change)
}

// Metrics returns a snapshot of the counters.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Metrics{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		ConsecutiveSuccess:  b.successes,
		TotalCalls:          b.total,
		Successes:           b.okCount,
		Failures:            b.failCount,
		Rejections:          b.rejectCount,
		Trips:               b.trips,
		LastStateChange:     b.changedAt,
		Seq:                 b.seq,
	}
}

// transitionLocked moves to next. Caller holds b.mu.
func (b *Breaker) transitionLocked(next State) StateChange {
	now := b.clock.Now()
	change := StateChange{
		Interface: b.iface,
		Channel:   b.channel,
		Old:       b.state,
		New:       next,
		Failures:  b.failures,
		InState:   now.Sub(b.changedAt),
		At:        now,
	}

	b.state = next
	b.changedAt = now
	b.seq++
	change.Seq = b.seq

	switch next {
	case Open:
		b.trips++
		b.successes = 0
		b.inFlight = 0
	case HalfOpen:
		b.successes = 0
	case Closed:
		b.failures = 0
		b.successes = 0
		b.inFlight = 0
	}
	return change
}

func (b *Breaker) outcomeLocked(result CallResult) CallOutcome {
	return CallOutcome{
		Interface: b.iface,
		Channel:   b.channel,
		Result:    result,
		State:     b.state,
		At:        b.clock.Now(),
	}
}

func (b *Breaker) publishChange(change StateChange) {
	ev := b.logger.Info()
	if change.New == Open {
		ev = b.logger.Warn()
	}
	ev.Str("interface", b.iface).
		Str("channel", b.channel).
		Stringer("from", change.Old).
		Stringer("to", change.New).
		Int("failures", change.Failures).
		Msg("Circuit breaker state changed")

	b.bus.Publish(events.New(events.TypeCircuitStateChanged, b.iface, change))
	if change.New == Open {
		b.bus.Publish(events.New(events.TypeCircuitTripped, b.iface, change))
	}
}
