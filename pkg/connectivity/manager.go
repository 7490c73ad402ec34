// Package connectivity wires the resilience components for a set of
// interfaces and exposes the query and control surface.
package connectivity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/urmzd/homelink/pkg/breaker"
	"github.com/urmzd/homelink/pkg/central"
	"github.com/urmzd/homelink/pkg/client"
	"github.com/urmzd/homelink/pkg/clock"
	"github.com/urmzd/homelink/pkg/events"
	"github.com/urmzd/homelink/pkg/health"
	"github.com/urmzd/homelink/pkg/recovery"
	"github.com/urmzd/homelink/pkg/scheduler"
	"github.com/urmzd/homelink/pkg/transport"
)

// Status is the payload of TypeSystemStatusChanged. Seq is the central
// transition the status describes; consumers drop statuses older than the
// last one seen.
type Status struct {
	Seq                uint64        `json:"seq"`
	CentralState       central.State `json:"central_state"`
	Reason             string        `json:"reason,omitempty"`
	DegradedInterfaces []string      `json:"degraded_interfaces"`
	Score              float64       `json:"score"`
	At                 time.Time     `json:"at"`
}

// Report summarizes one health check.
type Report struct {
	Probed       []string      `json:"probed"`
	FailedProbes []string      `json:"failed_probes"`
	Disconnected []string      `json:"disconnected"`
	CentralState central.State `json:"central_state"`
}

// Manager owns every per-interface component and the system-wide state.
type Manager struct {
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger

	bus       *events.Bus
	tracker   *health.Tracker
	central   *central.Machine
	guarded   *transport.Guarded
	coord     *recovery.Coordinator
	scheduler *scheduler.Scheduler

	ids      []string
	clients  map[string]*client.Machine
	sources  []health.ClientSource
	breakers map[string]transport.Breakers

	ctx    context.Context
	cancel context.CancelFunc
	ops    sync.WaitGroup
	detach []func()

	mu            sync.Mutex
	started       bool
	stopped       bool
	probeFailures map[string]int
}

type options struct {
	bus       *events.Bus
	clock     clock.Clock
	sleeper   recovery.Sleeper
	newTicker scheduler.TickerFactory
	logger    *zerolog.Logger
}

// Option configures a Manager.
type Option func(*options)

// WithBus uses an existing bus instead of creating one.
func WithBus(b *events.Bus) Option {
	return func(o *options) { o.bus = b }
}

// WithClock overrides the time source of every component.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithSleeper overrides how recovery backoff is waited out.
func WithSleeper(s recovery.Sleeper) Option {
	return func(o *options) { o.sleeper = s }
}

// WithTickerFactory overrides the scheduler tickers.
func WithTickerFactory(f scheduler.TickerFactory) Option {
	return func(o *options) { o.newTicker = f }
}

// WithLogger overrides the logger of every component.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// New builds the components for ids on top of t. Nothing connects until
// Start.
func New(ids []string, t transport.Transport, cfg Config, opts ...Option) (*Manager, error) {
	if len(ids) == 0 {
		return nil, ErrNoInterfaces
	}
	o := options{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.Logger
	if o.logger != nil {
		logger = *o.logger
	}
	if o.bus == nil {
		o.bus = events.NewBus(events.WithLogger(logger))
	}
	if cfg.ProbeFailureLimit <= 0 {
		cfg.ProbeFailureLimit = DefaultConfig().ProbeFailureLimit
	}

	m := &Manager{
		cfg:           cfg,
		clock:         o.clock,
		logger:        logger,
		bus:           o.bus,
		guarded:       transport.NewGuarded(t),
		clients:       make(map[string]*client.Machine, len(ids)),
		breakers:      make(map[string]transport.Breakers, len(ids)),
		probeFailures: make(map[string]int, len(ids)),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.tracker = health.NewTracker(cfg.Health, health.WithClock(o.clock), health.WithLogger(logger))

	for _, id := range ids {
		if _, ok := m.clients[id]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInterface, id)
		}
		m.tracker.Register(id)

		b := transport.Breakers{
			Primary: breaker.New(id, breaker.ChannelPrimary, cfg.Breaker,
				breaker.WithPublisher(m.bus), breaker.WithClock(o.clock), breaker.WithLogger(logger)),
			Secondary: breaker.New(id, breaker.ChannelSecondary, cfg.Breaker,
				breaker.WithPublisher(m.bus), breaker.WithClock(o.clock), breaker.WithLogger(logger)),
		}
		m.breakers[id] = b
		m.guarded.Add(id, b)
		m.tracker.TrackCircuit(id, breaker.ChannelPrimary, breaker.Closed)
		m.tracker.TrackCircuit(id, breaker.ChannelSecondary, breaker.Closed)

		c := client.NewMachine(id,
			client.WithPublisher(m.bus),
			client.WithClock(o.clock),
			client.WithLogger(logger),
			client.WithObserver(m.onClientChange),
		)
		m.clients[id] = c
		m.ids = append(m.ids, id)
		m.sources = append(m.sources, c)
	}
	sort.Strings(m.ids)

	m.central = central.NewMachine(m,
		central.WithPublisher(m.bus),
		central.WithClock(o.clock),
		central.WithLogger(logger),
	)

	recOpts := []recovery.Option{
		recovery.WithPublisher(m.bus),
		recovery.WithClock(o.clock),
		recovery.WithLogger(logger),
	}
	if o.sleeper != nil {
		recOpts = append(recOpts, recovery.WithSleeper(o.sleeper))
	}
	m.coord = recovery.New(m.guarded, freshTracker{m}, m, m.central, cfg.Recovery, recOpts...)

	schedOpts := []scheduler.Option{scheduler.WithLogger(logger)}
	if o.newTicker != nil {
		schedOpts = append(schedOpts, scheduler.WithTickerFactory(o.newTicker))
	}
	m.scheduler = scheduler.New(m, cfg.Scheduler, schedOpts...)

	m.detach = append(m.detach,
		m.tracker.Attach(m.bus),
		m.bus.Subscribe(events.TypeCentralStateChanged, central.EventKey, m.onCentralChange, 0),
	)
	return m, nil
}

// onClientChange keeps the tracker and the RUNNING invariant in step with
// client transitions as they happen.
func (m *Manager) onClientChange(change client.StateChange) {
	m.tracker.UpdateFromClientState(change)
	if change.Old == client.Connected && change.New != client.Connected && !m.isStopped() {
		if _, err := m.central.OnHealthChanged("client " + change.Interface + " left CONNECTED"); err != nil {
			m.logger.Error().Err(err).Str("interface", change.Interface).Msg("Failed to re-evaluate central state")
		}
	}
}

func (m *Manager) onCentralChange(_ context.Context, e events.Event) error {
	change, ok := e.Payload.(central.StateChange)
	if !ok {
		return nil
	}
	status := m.status(change.New, change.Seq, change.Reason)
	m.bus.Publish(events.New(events.TypeSystemStatusChanged, central.EventKey, status))
	return nil
}

func (m *Manager) status(state central.State, seq uint64, reason string) Status {
	h := m.CentralHealth()
	degraded := make([]string, 0)
	degraded = append(degraded, h.FailedClients()...)
	degraded = append(degraded, h.DegradedClients()...)
	sort.Strings(degraded)
	return Status{
		Seq:                seq,
		CentralState:       state,
		Reason:             reason,
		DegradedInterfaces: degraded,
		Score:              h.OverallScore(),
		At:                 m.clock.Now(),
	}
}

// freshTracker refreshes client state before listing failed interfaces.
type freshTracker struct{ m *Manager }

func (f freshTracker) FailedClients() []string {
	f.m.tracker.UpdateAllFromClients(f.m.sources)
	return f.m.tracker.FailedClients()
}

func (f freshTracker) SetReconnectAttempts(id string, attempts int) {
	f.m.tracker.SetReconnectAttempts(id, attempts)
}

// AllClientsHealthy polls every client and reports whether all are
// CONNECTED. It is the guard of the central RUNNING state.
func (m *Manager) AllClientsHealthy() bool {
	m.tracker.UpdateAllFromClients(m.sources)
	return m.tracker.AllClientsHealthy()
}

// Client returns the state machine of id.
func (m *Manager) Client(id string) (*client.Machine, bool) {
	c, ok := m.clients[id]
	return c, ok
}

// Interfaces returns the managed interface IDs, sorted.
func (m *Manager) Interfaces() []string {
	out := make([]string, len(m.ids))
	copy(out, m.ids)
	return out
}

// Bus returns the event bus.
func (m *Manager) Bus() *events.Bus { return m.bus }

// Config returns the effective settings.
func (m *Manager) Config() Config { return m.cfg }

// Start connects every interface, settles the central state and starts
// the scheduler. Starting twice is a no-op; starting after Stop fails.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.ops.Add(1)
	m.mu.Unlock()
	defer m.ops.Done()

	if err := m.central.OnClientsBuilt(); err != nil {
		return err
	}

	ctx, stop := m.bind(ctx)
	defer stop()

	var g errgroup.Group
	for _, id := range m.ids {
		g.Go(func() error { return m.connect(ctx, id) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	state, err := m.central.OnHealthChanged("startup complete")
	if err != nil {
		return err
	}
	if m.isStopped() {
		return ErrStopped
	}
	m.logger.Info().
		Int("interfaces", len(m.ids)).
		Stringer("central", state).
		Msg("Connectivity manager started")

	return m.scheduler.Start(m.ctx)
}

// connect performs the initial session setup and liveness probe of id.
func (m *Manager) connect(ctx context.Context, id string) error {
	c := m.clients[id]
	if err := c.TransitionTo(client.Connecting, "startup"); err != nil {
		return err
	}
	out := m.guarded.Reconnect(ctx, id)
	if out.OK() {
		out = m.guarded.Probe(ctx, id)
	}
	if !out.OK() {
		m.logger.Warn().Str("interface", id).Stringer("outcome", out).Msg("Initial connection failed")
		return c.TransitionTo(client.Failed, "initial connection "+out.String())
	}
	return c.TransitionTo(client.Connected, "initial connection")
}

// bind derives a context cancelled by either ctx or Stop.
func (m *Manager) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	release := context.AfterFunc(m.ctx, cancel)
	return ctx, func() {
		release()
		cancel()
	}
}

func (m *Manager) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// enter registers an in-flight operation. It fails once Stop began.
func (m *Manager) enter() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return false
	}
	m.ops.Add(1)
	return true
}

// Stop cancels running work, waits for it, stops every client and moves the
// central state to STOPPED. Stopping twice is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.cancel()
	m.scheduler.Stop()
	m.ops.Wait()

	for _, id := range m.ids {
		c := m.clients[id]
		if c.State() == client.Reconnecting {
			if err := c.TransitionTo(client.Disconnected, "shutdown"); err != nil {
				m.logger.Error().Err(err).Str("interface", id).Msg("Failed to settle client")
			}
		}
		if c.CanTransitionTo(client.Stopping) {
			if err := c.TransitionTo(client.Stopping, "shutdown"); err != nil {
				m.logger.Error().Err(err).Str("interface", id).Msg("Failed to stop client")
				continue
			}
		}
		if c.State() == client.Stopping {
			if err := c.TransitionTo(client.Stopped, "shutdown"); err != nil {
				m.logger.Error().Err(err).Str("interface", id).Msg("Failed to stop client")
			}
		}
	}
	if err := m.central.Stop("shutdown"); err != nil {
		m.logger.Error().Err(err).Msg("Failed to stop central state machine")
	}

	m.bus.Wait()
	for _, d := range m.detach {
		d()
	}
	if err := m.guarded.Close(); err != nil {
		m.logger.Error().Err(err).Msg("Failed to close transport")
	}
	m.logger.Info().Msg("Connectivity manager stopped")
}

// CheckHealth probes every CONNECTED interface through its primary breaker.
// An interface failing ProbeFailureLimit probes in a row becomes
// DISCONNECTED. The central state is re-evaluated afterwards.
func (m *Manager) CheckHealth(ctx context.Context) Report {
	if !m.enter() {
		return Report{CentralState: m.central.State()}
	}
	defer m.ops.Done()
	ctx, stop := m.bind(ctx)
	defer stop()

	var probed []string
	for _, id := range m.ids {
		if m.clients[id].State() == client.Connected {
			probed = append(probed, id)
		}
	}
	results := make([]probeResult, len(probed))

	var g errgroup.Group
	for i, id := range probed {
		g.Go(func() error {
			results[i] = m.probe(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Probed: probed}
	for i, id := range probed {
		if !results[i].ok {
			report.FailedProbes = append(report.FailedProbes, id)
		}
		if results[i].dropped {
			report.Disconnected = append(report.Disconnected, id)
		}
	}

	state, err := m.central.OnHealthChanged("health check")
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to re-evaluate central state")
	}
	report.CentralState = state
	return report
}

type probeResult struct {
	ok, dropped bool
}

func (m *Manager) probe(ctx context.Context, id string) (result probeResult) {
	out := m.guarded.Probe(ctx, id)

	m.mu.Lock()
	if out.OK() {
		m.probeFailures[id] = 0
	} else {
		m.probeFailures[id]++
	}
	failures := m.probeFailures[id]
	drop := failures >= m.cfg.ProbeFailureLimit
	if drop {
		m.probeFailures[id] = 0
	}
	m.mu.Unlock()

	result.ok = out.OK()
	if !result.ok {
		m.logger.Warn().Str("interface", id).Stringer("outcome", out).Int("failures", failures).Msg("Health probe failed")
	}
	if drop {
		if err := m.clients[id].TransitionTo(client.Disconnected, "health probes failed"); err != nil {
			m.logger.Error().Err(err).Str("interface", id).Msg("Failed to disconnect client")
		} else {
			result.dropped = true
		}
	}
	return result
}

// RecoverAllFailed runs one recovery attempt for every failed interface.
func (m *Manager) RecoverAllFailed(ctx context.Context) recovery.Summary {
	if !m.enter() {
		return recovery.Summary{CentralState: m.central.State()}
	}
	defer m.ops.Done()
	ctx, stop := m.bind(ctx)
	defer stop()
	return m.coord.RecoverAllFailed(ctx)
}

// RecoverClient runs one recovery attempt for id. Recovering a connected
// interface is a no-op.
func (m *Manager) RecoverClient(ctx context.Context, id string) (recovery.Summary, error) {
	if _, ok := m.clients[id]; !ok {
		return recovery.Summary{}, fmt.Errorf("%w: %s", ErrUnknownInterface, id)
	}
	if !m.enter() {
		return recovery.Summary{CentralState: m.central.State()}, nil
	}
	defer m.ops.Done()
	ctx, stop := m.bind(ctx)
	defer stop()
	return m.coord.RecoverClient(ctx, id), nil
}

// HealthCycle is the periodic check: probe, re-evaluate, recover.
func (m *Manager) HealthCycle(ctx context.Context) {
	report := m.CheckHealth(ctx)
	if len(m.freshFailed()) == 0 {
		m.logger.Debug().Int("probed", len(report.Probed)).Msg("Health check passed")
		return
	}
	m.RecoverAllFailed(ctx)
}

// HeartbeatCycle retries recovery while the central state is FAILED.
func (m *Manager) HeartbeatCycle(ctx context.Context) {
	if m.central.State() != central.Failed {
		return
	}
	if !m.enter() {
		return
	}
	defer m.ops.Done()
	ctx, stop := m.bind(ctx)
	defer stop()
	m.coord.HeartbeatRetry(ctx)
}

func (m *Manager) freshFailed() []string {
	return freshTracker{m}.FailedClients()
}

// RecordLiveness notes a liveness push from the backend of id.
func (m *Manager) RecordLiveness(id string) error {
	if _, ok := m.clients[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, id)
	}
	// the tracker applies the event from its bus subscription
	at := m.clock.Now()
	m.bus.PublishSync(context.Background(), events.New(events.TypeHeartbeatReceived, id, events.Heartbeat{Interface: id, At: at}))
	return nil
}

// Health returns the snapshot of id.
func (m *Manager) Health(id string) (health.ConnectionHealth, error) {
	m.tracker.UpdateAllFromClients(m.sources)
	h, ok := m.tracker.Health(id)
	if !ok {
		return health.ConnectionHealth{}, fmt.Errorf("%w: %s", ErrUnknownInterface, id)
	}
	return h, nil
}

// CentralHealth returns the system-wide snapshot.
func (m *Manager) CentralHealth() health.CentralHealth {
	m.tracker.UpdateAllFromClients(m.sources)
	return m.tracker.CentralHealth()
}

// ClientState returns the lifecycle state of id.
func (m *Manager) ClientState(id string) (client.State, error) {
	c, ok := m.clients[id]
	if !ok {
		return client.Init, fmt.Errorf("%w: %s", ErrUnknownInterface, id)
	}
	return c.State(), nil
}

// CentralState returns the system-wide lifecycle state.
func (m *Manager) CentralState() central.State {
	return m.central.State()
}

// CentralHistory returns the recent central transitions.
func (m *Manager) CentralHistory() []central.StateChange {
	return m.central.History()
}

// Status returns the current system status.
func (m *Manager) Status() Status {
	state, seq := m.central.Snapshot()
	return m.status(state, seq, "")
}

// Diagnostics is the detailed view of one interface.
type Diagnostics struct {
	Health   health.ConnectionHealth    `json:"health"`
	History  []client.StateChange       `json:"history"`
	Circuits map[string]breaker.Metrics `json:"circuits"`
	Recovery recovery.State             `json:"recovery"`
}

// Diagnostics returns the detailed view of id.
func (m *Manager) Diagnostics(id string) (Diagnostics, error) {
	h, err := m.Health(id)
	if err != nil {
		return Diagnostics{}, err
	}
	b := m.breakers[id]
	return Diagnostics{
		Health:  h,
		History: m.clients[id].History(),
		Circuits: map[string]breaker.Metrics{
			breaker.ChannelPrimary:   b.Primary.Metrics(),
			breaker.ChannelSecondary: b.Secondary.Metrics(),
		},
		Recovery: m.coord.State(id),
	}, nil
}

// SchedulerStats returns the scheduler cycle counters.
func (m *Manager) SchedulerStats() scheduler.Stats {
	return m.scheduler.Stats()
}
