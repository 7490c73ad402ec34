package events

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler processes one event. A returned error is logged by the bus and
// never reaches the publisher or other handlers.
type Handler func(ctx context.Context, e Event) error

type subscription struct {
	id       uint64
	priority int
	handler  Handler
}

// Stats are diagnostic counters of the bus.
type Stats struct {
	Published     uint64 `json:"published"`
	Completed     uint64 `json:"completed"`
	HandlerErrors uint64 `json:"handler_errors"`
	Pending       int    `json:"pending"`
}

// Bus dispatches events to subscribers. Handlers matched by one publish run
// concurrently; exact-key handlers are started before wildcard ones and
// each group is started in descending priority.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Type]map[string][]*subscription
	nextID uint64

	statsMu sync.Mutex
	idle    *sync.Cond
	stats   Stats

	logger zerolog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for handler failures.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[Type]map[string][]*subscription),
		logger: log.Logger,
	}
	b.idle = sync.NewCond(&b.statsMu)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for events of type t with the given key, or
// Wildcard for all keys. The returned function removes the subscription
// and may be called any number of times.
func (b *Bus) Subscribe(t Type, key string, handler Handler, priority int) func() {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, priority: priority, handler: handler}
	byKey, ok := b.subs[t]
	if !ok {
		byKey = make(map[string][]*subscription)
		b.subs[t] = byKey
	}
	list := append(byKey[key], sub)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].id < list[j].id
	})
	byKey[key] = list
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(t, key, sub.id) })
	}
}

func (b *Bus) remove(t Type, key string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[t][key]
	for i, s := range list {
		if s.id == id {
			b.subs[t][key] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[t][key]) == 0 {
		delete(b.subs[t], key)
	}
}

// handlers resolves exact-key subscribers followed by wildcard ones.
func (b *Bus) handlers(e Event) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	byKey := b.subs[e.Type]
	if byKey == nil {
		return nil
	}
	var out []*subscription
	if e.Key != Wildcard {
		out = append(out, byKey[e.Key]...)
	}
	out = append(out, byKey[Wildcard]...)
	return out
}

// Publish schedules delivery of e and returns without waiting for any
// handler.
func (b *Bus) Publish(e Event) {
	subs := b.handlers(e)

	b.statsMu.Lock()
	b.stats.Published++
	if len(subs) == 0 {
		b.stats.Completed++
		b.statsMu.Unlock()
		return
	}
	b.stats.Pending++
	b.statsMu.Unlock()

	go b.dispatch(context.Background(), e, subs)
}

// PublishSync delivers e and waits until every matched handler finished.
func (b *Bus) PublishSync(ctx context.Context, e Event) {
	subs := b.handlers(e)

	b.statsMu.Lock()
	b.stats.Published++
	b.stats.Pending++
	b.statsMu.Unlock()

	b.dispatch(ctx, e, subs)
}

func (b *Bus) dispatch(ctx context.Context, e Event, subs []*subscription) {
	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			if err := b.invoke(ctx, s, e); err != nil {
				b.statsMu.Lock()
				b.stats.HandlerErrors++
				b.statsMu.Unlock()
				b.logger.Error().
					Err(err).
					Str("event", string(e.Type)).
					Str("key", e.Key).
					Msg("Event handler failed")
			}
		}(s)
	}
	wg.Wait()

	b.statsMu.Lock()
	b.stats.Completed++
	b.stats.Pending--
	if b.stats.Pending == 0 {
		b.idle.Broadcast()
	}
	b.statsMu.Unlock()
}

func (b *Bus) invoke(ctx context.Context, s *subscription, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ctx, e)
}

// Wait blocks until no dispatch is in flight. It must not be called from
// inside a handler.
func (b *Bus) Wait() {
	b.statsMu.Lock()
	for b.stats.Pending > 0 {
		b.idle.Wait()
	}
	b.statsMu.Unlock()
}

// Stats returns a snapshot of the diagnostic counters.
func (b *Bus) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}
