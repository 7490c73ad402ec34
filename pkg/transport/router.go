package transport

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Router dispatches calls to the transport registered for each interface.
type Router struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	routes map[string]Transport
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{logger: log.Logger, routes: make(map[string]Transport)}
}

// WithLogger overrides the router logger.
func (r *Router) WithLogger(l zerolog.Logger) *Router {
	r.logger = l
	return r
}

// Register serves id with t, replacing any previous route.
func (r *Router) Register(id string, t Transport) {
	r.mu.Lock()
	r.routes[id] = t
	r.mu.Unlock()
}

// IDs returns the routed interface IDs, sorted.
func (r *Router) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.routes))
	for id := range r.routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Router) route(id string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.routes[id]
	if !ok {
		r.logger.Warn().Str("interface", id).Err(ErrUnknownInterface).Msg("No transport for interface")
	}
	return t, ok
}

func (r *Router) Probe(ctx context.Context, id string) Outcome {
	t, ok := r.route(id)
	if !ok {
		return Failure
	}
	return t.Probe(ctx, id)
}

func (r *Router) Reconnect(ctx context.Context, id string) Outcome {
	t, ok := r.route(id)
	if !ok {
		return Failure
	}
	return t.Reconnect(ctx, id)
}

func (r *Router) Verify(ctx context.Context, id string, stage Stage) Outcome {
	t, ok := r.route(id)
	if !ok {
		return Failure
	}
	return t.Verify(ctx, id, stage)
}

// Close closes every distinct routed transport that holds resources.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[Transport]bool)
	var first error
	for id, t := range r.routes {
		if seen[t] {
			continue
		}
		seen[t] = true
		if c, ok := t.(Closer); ok {
			if err := c.Close(); err != nil {
				r.logger.Error().Err(err).Str("interface", id).Msg("Failed to close transport")
				if first == nil {
					first = err
				}
			}
		}
	}
	return first
}
