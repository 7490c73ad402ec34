package recovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/urmzd/homelink/pkg/central"
	"github.com/urmzd/homelink/pkg/client"
	"github.com/urmzd/homelink/pkg/clock"
	"github.com/urmzd/homelink/pkg/events"
	"github.com/urmzd/homelink/pkg/transport"
)

// Config is the retry policy.
type Config struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`

	// MaxParallel bounds concurrently recovered interfaces; 0 is unbounded.
	MaxParallel int `json:"max_parallel"`
}

// DefaultConfig returns 8 attempts with 5s..60s backoff.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 8,
		BaseDelay:   5 * time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Tracker is the part of the health tracker recovery reads and feeds.
type Tracker interface {
	FailedClients() []string
	SetReconnectAttempts(id string, attempts int)
}

// Clients resolves interface IDs to their state machines.
type Clients interface {
	Client(id string) (*client.Machine, bool)
}

// Central is the part of the central state machine recovery drives.
type Central interface {
	State() central.State
	StartRecovery(reason string) error
	FinishRecovery(outcome central.RecoveryOutcome, reason string) (central.State, error)
	OnHealthChanged(reason string) (central.State, error)
	HeartbeatRetry() error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// InterfaceResult is the outcome for one interface in a pass.
type InterfaceResult struct {
	Interface string          `json:"interface"`
	Result    Result          `json:"result"`
	Stage     transport.Stage `json:"stage"`
	Attempts  int             `json:"attempts"`
}

// Summary reports one recovery pass. Passes never fail; outcomes are
// reported here.
type Summary struct {
	Results      []InterfaceResult       `json:"results"`
	Outcome      central.RecoveryOutcome `json:"outcome"`
	CentralState central.State           `json:"central_state"`

	// InProgress is set when another pass was running and nothing was done.
	InProgress bool `json:"in_progress,omitempty"`
}

// Coordinator runs recovery passes. Passes are serialized; interfaces
// within a pass are recovered in parallel.
type Coordinator struct {
	cfg       Config
	transport transport.Transport
	tracker   Tracker
	clients   Clients
	central   Central
	bus       events.Publisher
	clock     clock.Clock
	sleep     Sleeper
	logger    zerolog.Logger

	passMu sync.Mutex

	mu     sync.Mutex
	states map[string]*State
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPublisher sets where attempts are published.
func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) { c.bus = p }
}

// WithClock overrides the time source.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithSleeper overrides how backoff delays are waited out.
func WithSleeper(s Sleeper) Option {
	return func(c *Coordinator) { c.sleep = s }
}

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a coordinator.
func New(t transport.Transport, tracker Tracker, clients Clients, cm Central, cfg Config, opts ...Option) *Coordinator {
	d := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = d.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = d.MaxDelay
	}
	c := &Coordinator{
		cfg:       cfg,
		transport: t,
		tracker:   tracker,
		clients:   clients,
		central:   cm,
		bus:       events.Nop{},
		clock:     clock.Real{},
		sleep:     clock.Sleep,
		logger:    log.Logger,
		states:    make(map[string]*State),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective policy.
func (c *Coordinator) Config() Config { return c.cfg }

// State returns a copy of the retry state of id.
func (c *Coordinator) State(id string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[id]; ok {
		return st.clone()
	}
	return State{Interface: id}
}

// States returns copies of every retry state that has seen an attempt.
func (c *Coordinator) States() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]State, 0, len(c.states))
	for _, st := range c.states {
		out = append(out, st.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interface < out[j].Interface })
	return out
}

func (c *Coordinator) stateLocked(id string) *State {
	st, ok := c.states[id]
	if !ok {
		st = &State{Interface: id}
		c.states[id] = st
	}
	return st
}

// RecoverAllFailed runs one attempt for every failed interface that has
// budget left. With nothing failed it changes nothing and publishes nothing.
func (c *Coordinator) RecoverAllFailed(ctx context.Context) Summary {
	if !c.passMu.TryLock() {
		return c.busy()
	}
	defer c.passMu.Unlock()

	ids := c.failed(c.tracker.FailedClients())
	if len(ids) == 0 {
		return Summary{CentralState: c.central.State()}
	}
	return c.passLocked(ctx, ids, "recovering failed clients")
}

// RecoverClient runs one attempt for id. Recovering an interface that is
// not failed is a no-op.
func (c *Coordinator) RecoverClient(ctx context.Context, id string) Summary {
	if !c.passMu.TryLock() {
		return c.busy()
	}
	defer c.passMu.Unlock()

	if len(c.failed([]string{id})) == 0 {
		return Summary{
			Results:      []InterfaceResult{{Interface: id, Result: ResultNoop, Attempts: c.State(id).Attempts}},
			CentralState: c.central.State(),
		}
	}
	return c.passLocked(ctx, []string{id}, "recovering client "+id)
}

// HeartbeatRetry grants every exhausted interface one more attempt and
// runs a pass. It does nothing unless the central state is FAILED.
func (c *Coordinator) HeartbeatRetry(ctx context.Context) Summary {
	if c.central.State() != central.Failed {
		return Summary{CentralState: c.central.State()}
	}
	if !c.passMu.TryLock() {
		return c.busy()
	}
	defer c.passMu.Unlock()

	ids := c.failed(c.tracker.FailedClients())
	c.mu.Lock()
	for _, id := range ids {
		st := c.stateLocked(id)
		if !st.CanRetry(c.cfg.MaxAttempts) {
			st.ExtraBudget++
		}
	}
	c.mu.Unlock()

	if err := c.central.HeartbeatRetry(); err != nil {
		c.logger.Error().Err(err).Msg("Heartbeat retry could not enter recovery")
		return Summary{CentralState: c.central.State()}
	}
	c.logger.Info().Int("interfaces", len(ids)).Msg("Heartbeat retry started")
	return c.passLocked(ctx, ids, "heartbeat retry")
}

func (c *Coordinator) busy() Summary {
	c.logger.Debug().Msg("Recovery pass already running")
	return Summary{InProgress: true, CentralState: c.central.State()}
}

// failed keeps the IDs whose client is currently DISCONNECTED or FAILED.
func (c *Coordinator) failed(ids []string) []string {
	var out []string
	for _, id := range ids {
		m, ok := c.clients.Client(id)
		if !ok {
			c.logger.Warn().Str("interface", id).Msg("Recovery requested for unknown interface")
			continue
		}
		if m.State().IsFailed() {
			out = append(out, id)
		}
	}
	return out
}

// passLocked recovers ids in parallel and moves the central state by the
// aggregate. Caller holds passMu.
func (c *Coordinator) passLocked(ctx context.Context, ids []string, reason string) Summary {
	entered := false
	if c.central.State() != central.Failed {
		if err := c.central.StartRecovery(reason); err != nil {
			c.logger.Debug().Err(err).Msg("Recovering without central recovery state")
		} else {
			entered = true
		}
	}

	results := make([]InterfaceResult, len(ids))
	var g errgroup.Group
	if c.cfg.MaxParallel > 0 {
		g.SetLimit(c.cfg.MaxParallel)
	}
	for i, id := range ids {
		g.Go(func() error {
			results[i] = c.recoverOne(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	outcome := aggregate(results)
	summary := Summary{Results: results, Outcome: outcome}

	var err error
	switch {
	case entered:
		summary.CentralState, err = c.central.FinishRecovery(outcome, "recovery "+outcome.String())
	case c.central.State() != central.Failed:
		summary.CentralState, err = c.central.OnHealthChanged("recovery " + outcome.String())
	default:
		summary.CentralState = central.Failed
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to apply recovery outcome")
	}

	c.logger.Info().
		Int("interfaces", len(ids)).
		Stringer("outcome", outcome).
		Stringer("central", summary.CentralState).
		Msg("Recovery pass finished")
	return summary
}

func aggregate(results []InterfaceResult) central.RecoveryOutcome {
	full, exhausted := 0, 0
	for _, r := range results {
		switch r.Result {
		case ResultSuccess, ResultNoop:
			full++
		case ResultMaxRetries:
			exhausted++
		}
	}
	switch {
	case full == len(results):
		return central.OutcomeFull
	case exhausted == len(results):
		return central.OutcomeExhausted
	default:
		return central.OutcomePartial
	}
}

// recoverOne runs at most one attempt for id.
func (c *Coordinator) recoverOne(ctx context.Context, id string) InterfaceResult {
	m, ok := c.clients.Client(id)
	if !ok || !m.State().IsFailed() {
		return InterfaceResult{Interface: id, Result: ResultNoop}
	}

	c.mu.Lock()
	st := c.stateLocked(id)
	attempts, last, canRetry := st.Attempts, st.LastAttempt, st.CanRetry(c.cfg.MaxAttempts)
	c.mu.Unlock()

	if !canRetry {
		c.logger.Debug().Str("interface", id).Int("attempts", attempts).Msg("Retry budget exhausted")
		return InterfaceResult{Interface: id, Result: ResultMaxRetries, Attempts: attempts}
	}

	attempt := Attempt{ID: uuid.NewString(), Interface: id, Number: attempts + 1}

	if attempts > 0 {
		wait := Backoff(attempts, c.cfg.BaseDelay, c.cfg.MaxDelay) - c.clock.Now().Sub(last)
		if wait > 0 {
			c.logger.Debug().Str("interface", id).Dur("delay", wait).Msg("Backing off before recovery attempt")
			if err := c.sleep(ctx, wait); err != nil {
				attempt.At = c.clock.Now()
				return c.finish(m, attempt, transport.StageNone, ResultAborted)
			}
		}
	}

	attempt.At = c.clock.Now()
	c.bus.Publish(events.New(events.TypeRecoveryAttempted, id, attempt))

	if err := m.TransitionTo(client.Reconnecting, "recovery attempt"); err != nil {
		c.logger.Error().Err(err).Str("interface", id).Msg("Cannot start recovery attempt")
		return InterfaceResult{Interface: id, Result: ResultNoop, Attempts: attempts}
	}

	stage, result := c.execute(ctx, id)
	return c.finish(m, attempt, stage, result)
}

// execute reconnects and walks the verify stages. Cancellation is checked
// between steps, never inside a transport call.
func (c *Coordinator) execute(ctx context.Context, id string) (transport.Stage, Result) {
	if ctx.Err() != nil {
		return transport.StageNone, ResultAborted
	}
	if out := c.transport.Reconnect(ctx, id); !out.OK() {
		if ctx.Err() != nil {
			return transport.StageNone, ResultAborted
		}
		c.logger.Warn().Str("interface", id).Stringer("outcome", out).Msg("Reconnect failed")
		return transport.StageNone, ResultFailed
	}

	reached := transport.StageNone
	for _, stage := range transport.VerifyStages {
		if ctx.Err() != nil {
			return reached, ResultAborted
		}
		out := c.transport.Verify(ctx, id, stage)
		if !out.OK() {
			if ctx.Err() != nil {
				return reached, ResultAborted
			}
			c.logger.Warn().Str("interface", id).Stringer("stage", stage).Stringer("outcome", out).Msg("Verification failed")
			break
		}
		reached = stage
	}

	switch reached {
	case transport.StageValues:
		return transport.StageFull, ResultSuccess
	case transport.StageNone:
		return reached, ResultFailed
	default:
		return reached, ResultPartial
	}
}

// finish books the attempt and settles the client state.
func (c *Coordinator) finish(m *client.Machine, attempt Attempt, stage transport.Stage, result Result) InterfaceResult {
	id := m.ID()
	attempt.Stage = stage
	attempt.Result = result
	attempt.Duration = c.clock.Now().Sub(attempt.At)

	c.mu.Lock()
	st := c.stateLocked(id)
	switch result {
	case ResultSuccess:
		st.Attempts = 0
		st.ExtraBudget = 0
	case ResultAborted:
	default:
		st.Attempts++
	}
	if result != ResultAborted {
		st.LastAttempt = attempt.At
	}
	st.record(attempt)
	attempts := st.Attempts
	exhausted := !st.CanRetry(c.cfg.MaxAttempts)
	c.mu.Unlock()

	c.tracker.SetReconnectAttempts(id, attempts)

	var next client.State
	switch result {
	case ResultSuccess:
		next = client.Connected
	case ResultFailed:
		next = client.Failed
	default:
		next = client.Disconnected
	}
	if m.State() == client.Reconnecting {
		if err := m.TransitionTo(next, "recovery "+string(result)); err != nil {
			c.logger.Error().Err(err).Str("interface", id).Msg("Failed to settle client after recovery")
		}
	}

	ev := c.logger.Info()
	if result != ResultSuccess {
		ev = c.logger.Warn()
	}
	ev.Str("interface", id).
		Str("attempt", attempt.ID).
		Int("number", attempt.Number).
		Str("result", string(result)).
		Stringer("stage", stage).
		Msg("Recovery attempt finished")

	c.bus.Publish(events.New(events.TypeRecoveryCompleted, id, attempt))

	out := result
	if exhausted && (result == ResultFailed || result == ResultPartial) {
		out = ResultMaxRetries
	}
	return InterfaceResult{Interface: id, Result: out, Stage: stage, Attempts: attempts}
}
