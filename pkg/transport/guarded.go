package transport

import (
	"context"
	"sync"

	"github.com/urmzd/homelink/pkg/breaker"
)

// Breakers are the circuit breakers of one interface. Probes and verify
// calls go through Primary, session re-registration through Secondary.
type Breakers struct {
	Primary   *breaker.Breaker
	Secondary *breaker.Breaker
}

// Guarded wraps a Transport so every call passes the interface's breakers.
type Guarded struct {
	inner Transport

	mu       sync.RWMutex
	breakers map[string]Breakers
}

// NewGuarded wraps inner.
func NewGuarded(inner Transport) *Guarded {
	return &Guarded{inner: inner, breakers: make(map[string]Breakers)}
}

// Add sets the breakers of id.
func (g *Guarded) Add(id string, b Breakers) {
	g.mu.Lock()
	g.breakers[id] = b
	g.mu.Unlock()
}

// Breakers returns the breakers of id.
func (g *Guarded) Breakers(id string) (Breakers, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b, ok := g.breakers[id]
	return b, ok
}

func guard(ctx context.Context, b *breaker.Breaker, call func(context.Context) Outcome) Outcome {
	if b == nil {
		return call(ctx)
	}
	return FromError(b.Guard(ctx, func(ctx context.Context) error {
		return call(ctx).Err()
	}))
}

func (g *Guarded) Probe(ctx context.Context, id string) Outcome {
	b, _ := g.Breakers(id)
	return guard(ctx, b.Primary, func(ctx context.Context) Outcome {
		return g.inner.Probe(ctx, id)
	})
}

// Reconnect re-establishes the session and resets the primary breaker on
// success.
func (g *Guarded) Reconnect(ctx context.Context, id string) Outcome {
	b, _ := g.Breakers(id)
	out := guard(ctx, b.Secondary, func(ctx context.Context) Outcome {
		return g.inner.Reconnect(ctx, id)
	})
	if out.OK() && b.Primary != nil {
		b.Primary.Reset()
	}
	return out
}

func (g *Guarded) Verify(ctx context.Context, id string, stage Stage) Outcome {
	b, _ := g.Breakers(id)
	return guard(ctx, b.Primary, func(ctx context.Context) Outcome {
		return g.inner.Verify(ctx, id, stage)
	})
}

// Close closes the wrapped transport if it holds resources.
func (g *Guarded) Close() error {
	if c, ok := g.inner.(Closer); ok {
		return c.Close()
	}
	return nil
}
