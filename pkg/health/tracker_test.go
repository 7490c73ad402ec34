package health

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/homelink/pkg/breaker"
	"github.com/urmzd/homelink/pkg/client"
	"github.com/urmzd/homelink/pkg/clock"
	"github.com/urmzd/homelink/pkg/events"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestTracker() (*Tracker, *clock.Manual) {
	clk := clock.NewManual(epoch)
	return NewTracker(DefaultConfig(), WithClock(clk), WithLogger(zerolog.Nop())), clk
}

func connect(tr *Tracker, id string, seq uint64) {
	tr.UpdateFromClientState(client.StateChange{Interface: id, Old: client.Connecting, New: client.Connected, Seq: seq})
}

func TestScore_FullyHealthy(t *testing.T) {
	tr, clk := newTestTracker()
	tr.Register("hmip")
	tr.TrackCircuit("hmip", breaker.ChannelPrimary, breaker.Closed)
	connect(tr, "hmip", 2)
	tr.RecordCallOutcome(breaker.CallOutcome{Interface: "hmip", Result: breaker.ResultSuccess, At: clk.Now()})

	h, ok := tr.Health("hmip")
	require.True(t, ok)
	assert.InDelta(t, 1.0, h.Score, 1e-9)
	assert.False(t, h.Stale)
}

func TestScore_Terms(t *testing.T) {
	cfg := DefaultConfig()
	now := epoch

	h := ConnectionHealth{
		ClientState: client.Reconnecting,
		Circuits: map[string]breaker.State{
			breaker.ChannelPrimary:   breaker.HalfOpen,
			breaker.ChannelSecondary: breaker.Open,
		},
	}
	// 0.4*0.5 + 0.3*(1/3+0)/2 + 0
	assert.InDelta(t, 0.2+0.05, Score(h, now, cfg), 1e-9)

	h = ConnectionHealth{ClientState: client.Disconnected, LastSuccess: now.Add(-3 * time.Minute)}
	// recency halfway between 60s and 300s: 1 - 120/240 = 0.5
	assert.InDelta(t, 0.3+0.3*0.5, Score(h, now, cfg), 1e-9)

	h = ConnectionHealth{ClientState: client.Connected, LastLiveness: now.Add(-10 * time.Minute)}
	assert.InDelta(t, 0.4+0.3, Score(h, now, cfg), 1e-9)
}

func TestRecencyTerm(t *testing.T) {
	fresh, stale := time.Minute, 5*time.Minute
	assert.Equal(t, 0.0, recencyTerm(time.Time{}, epoch, fresh, stale))
	assert.Equal(t, 1.0, recencyTerm(epoch.Add(-59*time.Second), epoch, fresh, stale))
	assert.Equal(t, 0.0, recencyTerm(epoch.Add(-5*time.Minute), epoch, fresh, stale))
	assert.InDelta(t, 0.75, recencyTerm(epoch.Add(-2*time.Minute), epoch, fresh, stale), 1e-9)
}

func TestTracker_DropsStaleClientDeliveries(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Register("hmip")

	tr.UpdateFromClientState(client.StateChange{Interface: "hmip", Old: client.Reconnecting, New: client.Connected, Seq: 5})
	tr.UpdateFromClientState(client.StateChange{Interface: "hmip", Old: client.Disconnected, New: client.Reconnecting, Seq: 4})

	h, _ := tr.Health("hmip")
	assert.Equal(t, client.Connected, h.ClientState)
}

func TestTracker_DropsStaleCircuitDeliveries(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Register("hmip")

	tr.UpdateFromCircuit(breaker.StateChange{Interface: "hmip", Channel: breaker.ChannelPrimary, New: breaker.Closed, Seq: 2})
	tr.UpdateFromCircuit(breaker.StateChange{Interface: "hmip", Channel: breaker.ChannelPrimary, New: breaker.Open, Seq: 1})
	tr.UpdateFromCircuit(breaker.StateChange{Interface: "hmip", Channel: breaker.ChannelSecondary, New: breaker.Open, Seq: 1})

	h, _ := tr.Health("hmip")
	assert.Equal(t, breaker.Closed, h.Circuits[breaker.ChannelPrimary])
	assert.Equal(t, breaker.Open, h.Circuits[breaker.ChannelSecondary])
}

func TestTracker_CallOutcomes(t *testing.T) {
	tr, clk := newTestTracker()
	tr.Register("hmip")

	for i := 0; i < 3; i++ {
		tr.RecordCallOutcome(breaker.CallOutcome{Interface: "hmip", Result: breaker.ResultFailure, At: clk.Now()})
	}
	tr.RecordCallOutcome(breaker.CallOutcome{Interface: "hmip", Result: breaker.ResultRejected})

	h, _ := tr.Health("hmip")
	assert.Equal(t, 3, h.ConsecutiveFailures)
	assert.Equal(t, 1, h.Rejections)
	assert.Equal(t, epoch, h.LastFailure)

	clk.Advance(time.Second)
	tr.RecordCallOutcome(breaker.CallOutcome{Interface: "hmip", Result: breaker.ResultSuccess, At: clk.Now()})
	h, _ = tr.Health("hmip")
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.Equal(t, epoch.Add(time.Second), h.LastSuccess)
}

func TestTracker_ClientLists(t *testing.T) {
	tr, _ := newTestTracker()
	for _, id := range []string{"bidcos", "hmip", "virtual", "wired"} {
		tr.Register(id)
	}
	connect(tr, "hmip", 1)
	tr.UpdateFromClientState(client.StateChange{Interface: "bidcos", New: client.Disconnected, Seq: 1})
	tr.UpdateFromClientState(client.StateChange{Interface: "wired", New: client.Failed, Seq: 1})
	tr.UpdateFromClientState(client.StateChange{Interface: "virtual", New: client.Reconnecting, Seq: 1})

	assert.Equal(t, []string{"hmip"}, tr.HealthyClients())
	assert.Equal(t, []string{"bidcos", "wired"}, tr.FailedClients())
	assert.Equal(t, []string{"virtual"}, tr.DegradedClients())
	assert.False(t, tr.AllClientsHealthy())
}

func TestCentralHealth_Aggregates(t *testing.T) {
	empty := CentralHealth{}
	assert.False(t, empty.AllHealthy())
	assert.False(t, empty.AnyHealthy())
	assert.Equal(t, 0.0, empty.OverallScore())

	c := CentralHealth{Interfaces: map[string]ConnectionHealth{
		"a": {ClientState: client.Connected, Score: 1.0},
		"b": {ClientState: client.Disconnected, Score: 0.2},
	}}
	assert.True(t, c.AnyHealthy())
	assert.False(t, c.AllHealthy())
	assert.InDelta(t, 0.6, c.OverallScore(), 1e-9)

	down := CentralHealth{Interfaces: map[string]ConnectionHealth{
		"a": {ClientState: client.Failed, Score: 0.3},
	}}
	assert.Equal(t, 0.0, down.OverallScore())
}

type fakeSource struct {
	id    string
	state client.State
	seq   uint64
}

func (f fakeSource) ID() string                        { return f.id }
func (f fakeSource) Snapshot() (client.State, uint64) { return f.state, f.seq }

func TestTracker_UpdateAllFromClients(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Register("hmip")
	tr.Register("bidcos")
	connect(tr, "bidcos", 9)

	tr.UpdateAllFromClients([]ClientSource{
		fakeSource{id: "hmip", state: client.Connected, seq: 2},
		fakeSource{id: "bidcos", state: client.Disconnected, seq: 3},
		fakeSource{id: "unknown", state: client.Connected, seq: 1},
	})

	h, _ := tr.Health("hmip")
	assert.Equal(t, client.Connected, h.ClientState)
	h, _ = tr.Health("bidcos")
	assert.Equal(t, client.Connected, h.ClientState, "older poll must not override newer event")
	_, ok := tr.Health("unknown")
	assert.False(t, ok)
}

func TestTracker_SnapshotsAreCopies(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Register("hmip")
	tr.TrackCircuit("hmip", breaker.ChannelPrimary, breaker.Closed)

	h, _ := tr.Health("hmip")
	h.Circuits[breaker.ChannelPrimary] = breaker.Open

	again, _ := tr.Health("hmip")
	assert.Equal(t, breaker.Closed, again.Circuits[breaker.ChannelPrimary])
}

func TestTracker_AttachToBus(t *testing.T) {
	tr, clk := newTestTracker()
	tr.Register("hmip")
	bus := events.NewBus(events.WithLogger(zerolog.Nop()))
	detach := tr.Attach(bus)

	bus.Publish(events.New(events.TypeClientStateChanged, "hmip", client.StateChange{Interface: "hmip", New: client.Connected, Seq: 1}))
	bus.Publish(events.New(events.TypeCircuitStateChanged, "hmip", breaker.StateChange{Interface: "hmip", Channel: breaker.ChannelPrimary, New: breaker.HalfOpen, Seq: 1}))
	bus.Publish(events.New(events.TypeHeartbeatReceived, "hmip", events.Heartbeat{Interface: "hmip", At: clk.Now()}))
	bus.Wait()

	h, _ := tr.Health("hmip")
	assert.Equal(t, client.Connected, h.ClientState)
	assert.Equal(t, breaker.HalfOpen, h.Circuits[breaker.ChannelPrimary])
	assert.Equal(t, epoch, h.LastLiveness)

	detach()
	bus.Publish(events.New(events.TypeClientStateChanged, "hmip", client.StateChange{Interface: "hmip", New: client.Disconnected, Seq: 2}))
	bus.Wait()
	h, _ = tr.Health("hmip")
	assert.Equal(t, client.Connected, h.ClientState)
}

func TestTracker_Unregister(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Register("hmip")
	tr.Unregister("hmip")

	_, ok := tr.Health("hmip")
	assert.False(t, ok)
	assert.Empty(t, tr.CentralHealth().Interfaces)
}
