package central

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/homelink/pkg/events"
)

type recorder struct {
	events []events.Event
}

func (r *recorder) Publish(e events.Event) { r.events = append(r.events, e) }

type fakeHealth struct{ healthy bool }

func (f *fakeHealth) AllClientsHealthy() bool { return f.healthy }

func allStates() []State {
	return []State{Starting, Initializing, Running, Degraded, Recovering, Failed, Stopped}
}

func newTestMachine(healthy bool) (*Machine, *fakeHealth, *recorder) {
	h := &fakeHealth{healthy: healthy}
	rec := &recorder{}
	return NewMachine(h, WithPublisher(rec), WithLogger(zerolog.Nop())), h, rec
}

// drive brings m into target, toggling health as needed.
func drive(t *testing.T, m *Machine, h *fakeHealth, target State) {
	t.Helper()
	paths := map[State][]State{
		Starting:     nil,
		Initializing: {Initializing},
		Running:      {Initializing, Running},
		Degraded:     {Initializing, Degraded},
		Recovering:   {Initializing, Degraded, Recovering},
		Failed:       {Initializing, Failed},
		Stopped:      {Stopped},
	}
	prev := h.healthy
	h.healthy = true
	for _, s := range paths[target] {
		require.NoError(t, m.TransitionTo(s, "test"))
	}
	h.healthy = prev
}

func TestMachine_RejectsEveryEdgeOutsideTable(t *testing.T) {
	for _, from := range allStates() {
		for _, to := range allStates() {
			if CanTransition(from, to) {
				continue
			}
			m, h, rec := newTestMachine(true)
			drive(t, m, h, from)
			before := len(rec.events)

			err := m.TransitionTo(to, "invalid")
			require.Error(t, err, "%s -> %s should be rejected", from, to)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			assert.Equal(t, from, m.State())
			assert.Len(t, rec.events, before)
		}
	}
}

func TestMachine_RunningRequiresAllHealthy(t *testing.T) {
	m, h, rec := newTestMachine(false)
	require.NoError(t, m.OnClientsBuilt())

	err := m.TransitionTo(Running, "try")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGuardRejected))
	assert.Equal(t, Initializing, m.State())
	assert.Len(t, rec.events, 1)

	h.healthy = true
	require.NoError(t, m.TransitionTo(Running, "try"))
	assert.Equal(t, Running, m.State())
}

func TestMachine_OnHealthChanged(t *testing.T) {
	m, h, _ := newTestMachine(true)
	require.NoError(t, m.OnClientsBuilt())

	s, err := m.OnHealthChanged("initial")
	require.NoError(t, err)
	assert.Equal(t, Running, s)

	s, err = m.OnHealthChanged("still fine")
	require.NoError(t, err)
	assert.Equal(t, Running, s)

	h.healthy = false
	s, err = m.OnHealthChanged("client lost")
	require.NoError(t, err)
	assert.Equal(t, Degraded, s)

	h.healthy = true
	s, err = m.OnHealthChanged("client back")
	require.NoError(t, err)
	assert.Equal(t, Running, s)
}

func TestMachine_InitializingUnhealthyDegrades(t *testing.T) {
	m, _, _ := newTestMachine(false)
	require.NoError(t, m.OnClientsBuilt())

	s, err := m.OnHealthChanged("initial")
	require.NoError(t, err)
	assert.Equal(t, Degraded, s)
}

func TestMachine_RecoveryCycle(t *testing.T) {
	m, h, _ := newTestMachine(false)
	drive(t, m, h, Degraded)

	require.NoError(t, m.StartRecovery("failed clients"))
	require.NoError(t, m.StartRecovery("again"), "already recovering is a no-op")
	assert.Equal(t, Recovering, m.State())

	s, err := m.FinishRecovery(OutcomePartial, "one left")
	require.NoError(t, err)
	assert.Equal(t, Degraded, s)

	require.NoError(t, m.StartRecovery("retry"))
	s, err = m.FinishRecovery(OutcomeExhausted, "out of retries")
	require.NoError(t, err)
	assert.Equal(t, Failed, s)

	err = m.StartRecovery("not allowed")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, Failed, m.State())

	require.NoError(t, m.HeartbeatRetry())
	assert.Equal(t, Recovering, m.State())

	h.healthy = true
	s, err = m.FinishRecovery(OutcomeFull, "all back")
	require.NoError(t, err)
	assert.Equal(t, Running, s)
}

func TestMachine_FullRecoveryFallsBackWhenGuardFails(t *testing.T) {
	m, h, _ := newTestMachine(false)
	drive(t, m, h, Recovering)

	s, err := m.FinishRecovery(OutcomeFull, "verify passed")
	require.NoError(t, err)
	assert.Equal(t, Degraded, s)
}

func TestMachine_FinishRecoveryOutsideRecoveringIsNoop(t *testing.T) {
	m, h, rec := newTestMachine(true)
	drive(t, m, h, Running)
	before := len(rec.events)

	s, err := m.FinishRecovery(OutcomeExhausted, "stray")
	require.NoError(t, err)
	assert.Equal(t, Running, s)
	assert.Len(t, rec.events, before)
}

func TestMachine_StopIsIdempotent(t *testing.T) {
	for _, from := range allStates() {
		m, h, _ := newTestMachine(true)
		drive(t, m, h, from)
		require.NoError(t, m.Stop("shutdown"))
		require.NoError(t, m.Stop("shutdown again"))
		assert.Equal(t, Stopped, m.State())
	}
	assert.True(t, Stopped.IsTerminal())
}

func TestMachine_PublishesChanges(t *testing.T) {
	m, _, rec := newTestMachine(true)
	require.NoError(t, m.OnClientsBuilt())

	require.Len(t, rec.events, 1)
	e := rec.events[0]
	assert.Equal(t, events.TypeCentralStateChanged, e.Type)
	assert.Equal(t, EventKey, e.Key)
	change := e.Payload.(StateChange)
	assert.Equal(t, Starting, change.Old)
	assert.Equal(t, Initializing, change.New)
	assert.Equal(t, "clients created", change.Reason)
}

func TestMachine_HistoryIsBounded(t *testing.T) {
	m, h, _ := newTestMachine(true)
	drive(t, m, h, Running)
	for i := 0; i < 60; i++ {
		require.NoError(t, m.TransitionTo(Degraded, "flap"))
		require.NoError(t, m.TransitionTo(Running, "flap"))
	}

	hist := m.History()
	assert.Len(t, hist, historySize)
	assert.Equal(t, Running, hist[len(hist)-1].New)
}
