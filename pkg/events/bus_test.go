package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *Bus {
	return NewBus(WithLogger(zerolog.Nop()))
}

func TestBus_DeliversToExactAndWildcard(t *testing.T) {
	bus := newTestBus()

	var exact, wildcard, other atomic.Int32
	bus.Subscribe(TypeClientStateChanged, "hmip", func(context.Context, Event) error {
		exact.Add(1)
		return nil
	}, 0)
	bus.Subscribe(TypeClientStateChanged, Wildcard, func(context.Context, Event) error {
		wildcard.Add(1)
		return nil
	}, 0)
	bus.Subscribe(TypeClientStateChanged, "bidcos", func(context.Context, Event) error {
		other.Add(1)
		return nil
	}, 0)

	bus.Publish(New(TypeClientStateChanged, "hmip", nil))
	bus.Wait()

	assert.Equal(t, int32(1), exact.Load())
	assert.Equal(t, int32(1), wildcard.Load())
	assert.Equal(t, int32(0), other.Load())
}

func TestBus_HandlerOrderByPriority(t *testing.T) {
	bus := newTestBus()
	noop := func(context.Context, Event) error { return nil }

	bus.Subscribe(TypeCircuitTripped, Wildcard, noop, 0)
	bus.Subscribe(TypeCircuitTripped, "hmip", noop, 1)
	bus.Subscribe(TypeCircuitTripped, "hmip", noop, 10)
	bus.Subscribe(TypeCircuitTripped, "hmip", noop, 1)
	bus.Subscribe(TypeCircuitTripped, Wildcard, noop, 5)

	subs := bus.handlers(New(TypeCircuitTripped, "hmip", nil))
	require.Len(t, subs, 5)

	// exact first (10, 1, 1 in registration order), then wildcard (5, 0)
	assert.Equal(t, 10, subs[0].priority)
	assert.Equal(t, 1, subs[1].priority)
	assert.Equal(t, 1, subs[2].priority)
	assert.Less(t, subs[1].id, subs[2].id)
	assert.Equal(t, 5, subs[3].priority)
	assert.Equal(t, 0, subs[4].priority)
}

func TestBus_IsolatesFailingHandlers(t *testing.T) {
	bus := newTestBus()

	var received atomic.Int32
	bus.Subscribe(TypeCentralStateChanged, Wildcard, func(context.Context, Event) error {
		return errors.New("boom")
	}, 10)
	bus.Subscribe(TypeCentralStateChanged, Wildcard, func(context.Context, Event) error {
		panic("handler exploded")
	}, 5)
	bus.Subscribe(TypeCentralStateChanged, Wildcard, func(context.Context, Event) error {
		received.Add(1)
		return nil
	}, 0)

	assert.NotPanics(t, func() {
		bus.Publish(New(TypeCentralStateChanged, "", nil))
	})
	bus.Wait()

	assert.Equal(t, int32(1), received.Load())
	stats := bus.Stats()
	assert.Equal(t, uint64(2), stats.HandlerErrors)
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Equal(t, 0, stats.Pending)
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	bus := newTestBus()

	var calls atomic.Int32
	unsubscribe := bus.Subscribe(TypeHeartbeatReceived, "hmip", func(context.Context, Event) error {
		calls.Add(1)
		return nil
	}, 0)

	unsubscribe()
	unsubscribe()

	bus.Publish(New(TypeHeartbeatReceived, "hmip", nil))
	bus.Wait()

	assert.Equal(t, int32(0), calls.Load())
	assert.Empty(t, bus.subs[TypeHeartbeatReceived])
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := newTestBus()

	bus.Publish(New(TypeRecoveryAttempted, "hmip", nil))
	bus.Wait()

	stats := bus.Stats()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(1), stats.Completed)
}

func TestBus_PublishSyncWaitsForHandlers(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	var seen []string
	for _, name := range []string{"a", "b", "c"} {
		bus.Subscribe(TypeSystemStatusChanged, Wildcard, func(context.Context, Event) error {
			mu.Lock()
			seen = append(seen, name)
			mu.Unlock()
			return nil
		}, 0)
	}

	bus.PublishSync(context.Background(), New(TypeSystemStatusChanged, "", nil))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
}

func TestBus_HandlerMayPublish(t *testing.T) {
	bus := newTestBus()

	var chained atomic.Int32
	bus.Subscribe(TypeCircuitTripped, Wildcard, func(_ context.Context, e Event) error {
		bus.Publish(New(TypeSystemStatusChanged, "", e.Key))
		return nil
	}, 0)
	bus.Subscribe(TypeSystemStatusChanged, Wildcard, func(context.Context, Event) error {
		chained.Add(1)
		return nil
	}, 0)

	bus.Publish(New(TypeCircuitTripped, "hmip", nil))
	bus.Wait()

	assert.Equal(t, int32(1), chained.Load())
}
