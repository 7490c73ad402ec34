package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/homelink/pkg/clock"
	"github.com/urmzd/homelink/pkg/events"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var errRemote = errors.New("remote call failed")

func ok(context.Context) error   { return nil }
func fail(context.Context) error { return errRemote }

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *clock.Manual, *recorder) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &recorder{}
	b := New("hmip", ChannelPrimary, cfg,
		WithClock(clk),
		WithPublisher(rec),
		WithLogger(zerolog.Nop()),
	)
	return b, clk, rec
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _, rec := newTestBreaker(t, Config{FailureThreshold: 3, SuccessThreshold: 2, RecoveryTimeout: 10 * time.Second})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Guard(ctx, fail), errRemote)
		assert.Equal(t, Closed, b.State())
	}
	assert.ErrorIs(t, b.Guard(ctx, fail), errRemote)
	assert.Equal(t, Open, b.State())

	tripped := rec.ofType(events.TypeCircuitTripped)
	require.Len(t, tripped, 1)
	change := tripped[0].Payload.(StateChange)
	assert.Equal(t, Closed, change.Old)
	assert.Equal(t, Open, change.New)
	assert.Equal(t, 3, change.Failures)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _, _ := newTestBreaker(t, Config{FailureThreshold: 3})
	ctx := context.Background()

	_ = b.Guard(ctx, fail)
	_ = b.Guard(ctx, fail)
	require.NoError(t, b.Guard(ctx, ok))
	_ = b.Guard(ctx, fail)
	_ = b.Guard(ctx, fail)

	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 2, b.Metrics().ConsecutiveFailures)
}

func TestBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	b, _, rec := newTestBreaker(t, Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	_ = b.Guard(ctx, fail)
	require.Equal(t, Open, b.State())

	called := false
	err := b.Guard(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRejection(err))
	assert.False(t, called)

	m := b.Metrics()
	assert.Equal(t, int64(1), m.Rejections)
	assert.Equal(t, int64(1), m.Failures)

	var rejected int
	for _, e := range rec.ofType(events.TypeCircuitCallOutcome) {
		if e.Payload.(CallOutcome).Result == ResultRejected {
			rejected++
		}
	}
	assert.Equal(t, 1, rejected)
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b, clk, _ := newTestBreaker(t, Config{FailureThreshold: 1, SuccessThreshold: 2, RecoveryTimeout: 30 * time.Second})
	ctx := context.Background()

	_ = b.Guard(ctx, fail)
	clk.Advance(29 * time.Second)
	assert.ErrorIs(t, b.Guard(ctx, ok), ErrCircuitOpen)

	clk.Advance(time.Second)
	var stateDuringCall State
	require.NoError(t, b.Guard(ctx, func(context.Context) error {
		stateDuringCall = b.State()
		return nil
	}))
	assert.Equal(t, HalfOpen, stateDuringCall)
	assert.Equal(t, HalfOpen, b.State())

	require.NoError(t, b.Guard(ctx, ok))
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clk, rec := newTestBreaker(t, Config{FailureThreshold: 2, SuccessThreshold: 3, RecoveryTimeout: 5 * time.Second})
	ctx := context.Background()

	_ = b.Guard(ctx, fail)
	_ = b.Guard(ctx, fail)
	clk.Advance(5 * time.Second)

	require.NoError(t, b.Guard(ctx, ok))
	require.Equal(t, HalfOpen, b.State())
	_ = b.Guard(ctx, fail)
	assert.Equal(t, Open, b.State())
	assert.Len(t, rec.ofType(events.TypeCircuitTripped), 2)

	// cooldown restarts from the re-trip
	assert.ErrorIs(t, b.Guard(ctx, ok), ErrCircuitOpen)
}

func TestBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	b, clk, _ := newTestBreaker(t, Config{FailureThreshold: 1, RecoveryTimeout: time.Second, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	_ = b.Guard(ctx, fail)
	clk.Advance(time.Second)

	var inner error
	err := b.Guard(ctx, func(context.Context) error {
		inner = b.Guard(ctx, ok)
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrTooManyProbes)
}

// blockingCall returns a guarded call that signals entry and returns
// result once released.
func blockingCall(entered chan<- struct{}, release <-chan struct{}, result error) func(context.Context) error {
	return func(context.Context) error {
		entered <- struct{}{}
		<-release
		return result
	}
}

func TestBreaker_LateOutcomeFromEarlierState(t *testing.T) {
	b, clk, _ := newTestBreaker(t, Config{FailureThreshold: 2, SuccessThreshold: 1, RecoveryTimeout: 5 * time.Second, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	slowEntered, slowRelease, slowDone := make(chan struct{}, 1), make(chan struct{}), make(chan error, 1)
	go func() { slowDone <- b.Guard(ctx, blockingCall(slowEntered, slowRelease, nil)) }()
	<-slowEntered

	_ = b.Guard(ctx, fail)
	_ = b.Guard(ctx, fail)
	require.Equal(t, Open, b.State())
	clk.Advance(5 * time.Second)

	probeEntered, probeRelease, probeDone := make(chan struct{}, 1), make(chan struct{}), make(chan error, 1)
	go func() { probeDone <- b.Guard(ctx, blockingCall(probeEntered, probeRelease, nil)) }()
	<-probeEntered
	require.Equal(t, HalfOpen, b.State())

	close(slowRelease)
	require.NoError(t, <-slowDone)

	assert.Equal(t, HalfOpen, b.State(), "an outcome admitted while CLOSED must not close the circuit")
	assert.ErrorIs(t, b.Guard(ctx, ok), ErrTooManyProbes)
	m := b.Metrics()
	assert.Zero(t, m.ConsecutiveSuccess)
	assert.Equal(t, int64(1), m.Successes)

	close(probeRelease)
	require.NoError(t, <-probeDone)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_LateCancellationKeepsProbeSlot(t *testing.T) {
	b, clk, _ := newTestBreaker(t, Config{FailureThreshold: 1, RecoveryTimeout: time.Second, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	slowEntered, slowRelease, slowDone := make(chan struct{}, 1), make(chan struct{}), make(chan error, 1)
	go func() { slowDone <- b.Guard(ctx, blockingCall(slowEntered, slowRelease, context.Canceled)) }()
	<-slowEntered

	_ = b.Guard(ctx, fail)
	clk.Advance(time.Second)

	probeEntered, probeRelease, probeDone := make(chan struct{}, 1), make(chan struct{}), make(chan error, 1)
	go func() { probeDone <- b.Guard(ctx, blockingCall(probeEntered, probeRelease, nil)) }()
	<-probeEntered

	close(slowRelease)
	assert.ErrorIs(t, <-slowDone, context.Canceled)
	assert.ErrorIs(t, b.Guard(ctx, ok), ErrTooManyProbes)

	close(probeRelease)
	require.NoError(t, <-probeDone)
}

func TestBreaker_CancellationIsNeutral(t *testing.T) {
	b, _, _ := newTestBreaker(t, Config{FailureThreshold: 1})
	ctx := context.Background()

	err := b.Guard(ctx, func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, int64(0), b.Metrics().Failures)
}

func TestBreaker_Reset(t *testing.T) {
	b, _, rec := newTestBreaker(t, Config{FailureThreshold: 1})

	_ = b.Guard(context.Background(), fail)
	require.Equal(t, Open, b.State())

	b.Reset()
	assert.Equal(t, Closed, b.State())
	changes := rec.ofType(events.TypeCircuitStateChanged)
	require.Len(t, changes, 2)
	assert.Equal(t, Closed, changes[1].Payload.(StateChange).New)
	assert.Equal(t, uint64(2), changes[1].Payload.(StateChange).Seq)

	b.Reset()
	assert.Len(t, rec.ofType(events.TypeCircuitStateChanged), 2)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", Closed.String())
	assert.Equal(t, "OPEN", Open.String())
	assert.Equal(t, "HALF_OPEN", HalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
