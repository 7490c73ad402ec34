// Package scheduler periodically drives the health-check and heartbeat
// retry cycles.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyRunning is returned by Start on a running scheduler
var ErrAlreadyRunning = errors.New("scheduler already running")

// Jobs are the cycles the scheduler drives.
type Jobs interface {
	// HealthCycle probes connected interfaces and recovers failed ones.
	HealthCycle(ctx context.Context)

	// HeartbeatCycle retries recovery while the system is FAILED.
	HeartbeatCycle(ctx context.Context)
}

// Config holds the cycle periods.
type Config struct {
	CheckInterval     time.Duration `json:"check_interval"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
}

// DefaultConfig returns 120s checks and a 60s heartbeat.
func DefaultConfig() Config {
	return Config{
		CheckInterval:     120 * time.Second,
		HeartbeatInterval: 60 * time.Second,
	}
}

// Ticker delivers ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Stats counts cycles.
type Stats struct {
	Checks     int64 `json:"checks"`
	Heartbeats int64 `json:"heartbeats"`
	Skipped    int64 `json:"skipped"`
}

// Scheduler runs at most one cycle at a time; a tick arriving while a cycle
// runs is skipped and counted.
type Scheduler struct {
	jobs      Jobs
	cfg       Config
	newTicker TickerFactory
	logger    zerolog.Logger

	cycleMu sync.Mutex
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	checks     atomic.Int64
	heartbeats atomic.Int64
	skipped    atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(f TickerFactory) Option {
	return func(s *Scheduler) { s.newTicker = f }
}

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a stopped scheduler.
func New(jobs Jobs, cfg Config, opts ...Option) *Scheduler {
	d := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = d.CheckInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = d.HeartbeatInterval
	}
	s := &Scheduler{
		jobs:      jobs,
		cfg:       cfg,
		newTicker: NewRealTicker,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective periods.
func (s *Scheduler) Config() Config { return s.cfg }

// Start launches the tick loop. It stops when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	check := s.newTicker(s.cfg.CheckInterval)
	heartbeat := s.newTicker(s.cfg.HeartbeatInterval)

	s.logger.Info().
		Dur("check_interval", s.cfg.CheckInterval).
		Dur("heartbeat_interval", s.cfg.HeartbeatInterval).
		Msg("Scheduler started")

	go s.loop(ctx, check, heartbeat, s.done)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, check, heartbeat Ticker, done chan struct{}) {
	defer close(done)
	defer check.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-check.C():
			s.spawn(ctx, "check", s.jobs.HealthCycle, &s.checks)
		case <-heartbeat.C():
			s.spawn(ctx, "heartbeat", s.jobs.HeartbeatCycle, &s.heartbeats)
		}
	}
}

// spawn runs job in the background unless another cycle holds the lock.
func (s *Scheduler) spawn(ctx context.Context, name string, job func(context.Context), counter *atomic.Int64) {
	if !s.cycleMu.TryLock() {
		s.skipped.Add(1)
		s.logger.Debug().Str("cycle", name).Msg("Cycle still running, tick skipped")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.cycleMu.Unlock()
		counter.Add(1)
		job(ctx)
	}()
}

// RunCheck runs one health cycle synchronously. It returns false when a
// cycle was already running.
func (s *Scheduler) RunCheck(ctx context.Context) bool {
	if !s.cycleMu.TryLock() {
		s.skipped.Add(1)
		return false
	}
	defer s.cycleMu.Unlock()
	s.checks.Add(1)
	s.jobs.HealthCycle(ctx)
	return true
}

// Stop cancels the loop and waits for a running cycle to return. Stopping
// a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info().Msg("Scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns the cycle counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Checks:     s.checks.Load(),
		Heartbeats: s.heartbeats.Load(),
		Skipped:    s.skipped.Load(),
	}
}
