package client

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

func allStates() []State {
	return []State{Init, Connecting, Connected, Reconnecting, Disconnected, Failed, Stopping, Stopped}
}

// walk drives a fresh machine along path, failing the test on any rejection.
func walk(t *testing.T, m *Machine, path ...State) {
	t.Helper()
	for _, s := range path {
		require.NoError(t, m.TransitionTo(s, "test"))
	}
}

// pathTo lists transitions that bring a fresh machine into target.
func pathTo(target State) []State {
	switch target {
	case Init:
		return nil
	case Connecting:
		return []State{Connecting}
	case Connected:
		return []State{Connecting, Connected}
	case Reconnecting:
		return []State{Connecting, Connected, Reconnecting}
	case Disconnected:
		return []State{Connecting, Connected, Disconnected}
	case Failed:
		return []State{Connecting, Failed}
	case Stopping:
		return []State{Stopping}
	case Stopped:
		return []State{Stopping, Stopped}
	}
	return nil
}

func TestMachine_StartsInInit(t *testing.T) {
	m := NewMachine("hmip", WithLogger(zerolog.Nop()))
	assert.Equal(t, Init, m.State())
	assert.Equal(t, "hmip", m.ID())
}

func TestMachine_HappyPath(t *testing.T) {
	rec := &recorder{}
	m := NewMachine("hmip", WithPublisher(rec), WithLogger(zerolog.Nop()))

	walk(t, m, Connecting, Connected, Disconnected, Reconnecting, Connected, Stopping, Stopped)
	assert.Equal(t, Stopped, m.State())
	require.Len(t, rec.events, 7)

	last := rec.events[6].Payload.(StateChange)
	assert.Equal(t, Stopping, last.Old)
	assert.Equal(t, Stopped, last.New)
	assert.Equal(t, uint64(7), last.Seq)
	assert.Equal(t, events.TypeClientStateChanged, rec.events[0].Type)
	assert.Equal(t, "hmip", rec.events[0].Key)
}

func TestMachine_RejectsEveryEdgeOutsideTable(t *testing.T) {
	for _, from := range allStates() {
		for _, to := range allStates() {
			if CanTransition(from, to) {
				continue
			}
			rec := &recorder{}
			m := NewMachine("hmip", WithLogger(zerolog.Nop()))
			walk(t, m, pathTo(from)...)
			m.bus = rec

			err := m.TransitionTo(to, "invalid")
			require.Error(t, err, "%s -> %s should be rejected", from, to)
			assert.True(t, errors.Is(err, ErrInvalidTransition))

			var ite *InvalidTransitionError
			require.True(t, errors.As(err, &ite))
			assert.Equal(t, from, ite.From)
			assert.Equal(t, to, ite.To)

			assert.Equal(t, from, m.State(), "state must be unchanged")
			assert.Empty(t, rec.events)

			// rejecting again changes nothing either
			require.Error(t, m.TransitionTo(to, "invalid"))
			assert.Equal(t, from, m.State())
		}
	}
}

func TestMachine_StoppedIsTerminal(t *testing.T) {
	assert.True(t, Stopped.IsTerminal())
	for _, s := range allStates() {
		assert.False(t, CanTransition(Stopped, s))
	}
}

func TestMachine_DisconnectedSelfTransitionIsNoop(t *testing.T) {
	rec := &recorder{}
	m := NewMachine("hmip", WithPublisher(rec), WithLogger(zerolog.Nop()))
	walk(t, m, pathTo(Disconnected)...)
	before := len(rec.events)

	require.NoError(t, m.TransitionTo(Disconnected, "again"))
	assert.Equal(t, Disconnected, m.State())
	assert.Len(t, rec.events, before)
}

func TestMachine_ObserverCalledSynchronously(t *testing.T) {
	var observed []StateChange
	var m *Machine
	m = NewMachine("bidcos",
		WithLogger(zerolog.Nop()),
		WithObserver(func(c StateChange) {
			// the new state is already visible to the observer
			assert.Equal(t, c.New, m.State())
			observed = append(observed, c)
		}),
	)

	walk(t, m, Connecting, Connected)
	require.Len(t, observed, 2)
	assert.Equal(t, Init, observed[0].Old)
	assert.Equal(t, Connecting, observed[0].New)
	assert.Equal(t, Connected, observed[1].New)
}

func TestMachine_HistoryIsBounded(t *testing.T) {
	m := NewMachine("hmip", WithLogger(zerolog.Nop()))
	walk(t, m, Connecting, Connected)
	for i := 0; i < 15; i++ {
		walk(t, m, Disconnected, Connecting, Connected)
	}

	h := m.History()
	assert.Len(t, h, historySize)
	assert.Equal(t, Connected, h[len(h)-1].New)
}

func TestState_IsFailed(t *testing.T) {
	assert.True(t, Disconnected.IsFailed())
	assert.True(t, Failed.IsFailed())
	assert.False(t, Connected.IsFailed())
	assert.False(t, Reconnecting.IsFailed())
}
