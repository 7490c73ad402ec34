package transport_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/homelink/pkg/breaker"
	"github.com/urmzd/homelink/pkg/clock"
	"github.com/urmzd/homelink/pkg/transport"
	"github.com/urmzd/homelink/pkg/transport/transporttest"
)

func TestFromError(t *testing.T) {
	assert.Equal(t, transport.Success, transport.FromError(nil))
	assert.Equal(t, transport.Rejected, transport.FromError(breaker.ErrCircuitOpen))
	assert.Equal(t, transport.Rejected, transport.FromError(breaker.ErrTooManyProbes))
	assert.Equal(t, transport.Timeout, transport.FromError(context.DeadlineExceeded))
	assert.Equal(t, transport.Timeout, transport.FromError(fmt.Errorf("ping: %w", transport.ErrTimeout)))
	assert.Equal(t, transport.Failure, transport.FromError(errors.New("boom")))
}

func TestOutcomeErrRoundTrip(t *testing.T) {
	for _, o := range []transport.Outcome{transport.Success, transport.Failure, transport.Timeout, transport.Rejected} {
		assert.Equal(t, o, transport.FromError(o.Err()), o.String())
	}
}

func TestNull_AlwaysFails(t *testing.T) {
	n := transport.NewNull()
	ctx := context.Background()
	assert.Equal(t, transport.Failure, n.Probe(ctx, "x"))
	assert.Equal(t, transport.Failure, n.Reconnect(ctx, "x"))
	assert.Equal(t, transport.Failure, n.Verify(ctx, "x", transport.StageBasic))
}

func TestRouter_Dispatch(t *testing.T) {
	fake := transporttest.New()
	r := transport.NewRouter().WithLogger(zerolog.Nop())
	r.Register("hmip", fake)
	r.Register("null", transport.NewNull())
	ctx := context.Background()

	assert.Equal(t, transport.Success, r.Probe(ctx, "hmip"))
	assert.Equal(t, transport.Failure, r.Probe(ctx, "null"))
	assert.Equal(t, transport.Failure, r.Reconnect(ctx, "missing"))
	assert.Equal(t, 1, fake.Calls(transporttest.OpProbe, "hmip"))
	assert.Equal(t, []string{"hmip", "null"}, r.IDs())
	assert.NoError(t, r.Close())
}

func newBreakers(clk clock.Clock) transport.Breakers {
	cfg := breaker.Config{FailureThreshold: 2, SuccessThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}
	return transport.Breakers{
		Primary:   breaker.New("hmip", breaker.ChannelPrimary, cfg, breaker.WithClock(clk), breaker.WithLogger(zerolog.Nop())),
		Secondary: breaker.New("hmip", breaker.ChannelSecondary, cfg, breaker.WithClock(clk), breaker.WithLogger(zerolog.Nop())),
	}
}

func TestGuarded_TripsAndRejects(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	fake := transporttest.New()
	fake.SetProbe("hmip", transport.Failure)
	g := transport.NewGuarded(fake)
	b := newBreakers(clk)
	g.Add("hmip", b)
	ctx := context.Background()

	assert.Equal(t, transport.Failure, g.Probe(ctx, "hmip"))
	assert.Equal(t, transport.Failure, g.Probe(ctx, "hmip"))
	assert.Equal(t, breaker.Open, b.Primary.State())

	assert.Equal(t, transport.Rejected, g.Probe(ctx, "hmip"))
	assert.Equal(t, 2, fake.Calls(transporttest.OpProbe, "hmip"), "rejected probe must not reach the transport")

	// the session channel is independent
	assert.Equal(t, transport.Success, g.Reconnect(ctx, "hmip"))
	assert.Equal(t, breaker.Closed, b.Primary.State(), "successful reconnect resets the primary breaker")

	fake.Healthy("hmip")
	assert.Equal(t, transport.Success, g.Verify(ctx, "hmip", transport.StageValues))
}

func TestGuarded_UnknownInterfacePassesThrough(t *testing.T) {
	fake := transporttest.New()
	g := transport.NewGuarded(fake)
	assert.Equal(t, transport.Success, g.Probe(context.Background(), "wired"))
}

func TestGuarded_TimeoutCountsAsFailure(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	fake := transporttest.New()
	fake.SetReconnect("hmip", transport.Timeout)
	g := transport.NewGuarded(fake)
	b := newBreakers(clk)
	g.Add("hmip", b)

	assert.Equal(t, transport.Timeout, g.Reconnect(context.Background(), "hmip"))
	assert.Equal(t, 1, b.Secondary.Metrics().ConsecutiveFailures)
}

func TestFake_VerifyFailsFromStage(t *testing.T) {
	fake := transporttest.New()
	fake.FailVerifyFrom("hmip", transport.StageParamsets)
	ctx := context.Background()

	require.Equal(t, transport.Success, fake.Verify(ctx, "hmip", transport.StageDevices))
	assert.Equal(t, transport.Failure, fake.Verify(ctx, "hmip", transport.StageParamsets))
	assert.Equal(t, transport.Failure, fake.Verify(ctx, "hmip", transport.StageValues))
}
