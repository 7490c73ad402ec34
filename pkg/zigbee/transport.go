// Package zigbee implements the connectivity transport for Zigbee
// coordinators attached over serial using the ASH framing layer.
package zigbee

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/urmzd/homelink/pkg/clock"
	"github.com/urmzd/homelink/pkg/transport"
)

type endpoint struct {
	address string
	opts    Options
	link    *link
}

// Transport manages one ASH link per interface.
//
// Reconnect opens the port and completes a RST/RSTACK handshake. Probe
// passes while frames keep arriving, and otherwise does a handshake round
// trip. Verify BASIC is a probe; higher stages need a handshake.
type Transport struct {
	open   Opener
	clock  clock.Clock
	logger zerolog.Logger

	liveness      func(id string)
	livenessEvery time.Duration

	mu        sync.Mutex
	endpoints map[string]*endpoint
}

// Option configures a Transport.
type Option func(*Transport)

// WithOpener replaces the serial port opener.
func WithOpener(open Opener) Option {
	return func(t *Transport) { t.open = open }
}

// WithClock sets the clock used for frame freshness.
func WithClock(c clock.Clock) Option {
	return func(t *Transport) { t.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// DefaultLivenessInterval is the minimum gap between two liveness reports
// of one link.
const DefaultLivenessInterval = 10 * time.Second

// WithLiveness calls fn with the interface ID when frames arrive from its
// coordinator, at most once per every. A non-positive every uses
// DefaultLivenessInterval.
func WithLiveness(fn func(id string), every time.Duration) Option {
	return func(t *Transport) {
		if every <= 0 {
			every = DefaultLivenessInterval
		}
		t.liveness = fn
		t.livenessEvery = every
	}
}

// New creates a Transport with no interfaces.
func New(opts ...Option) *Transport {
	t := &Transport{
		open:      OpenSerial,
		clock:     clock.Real{},
		logger:    log.Logger,
		endpoints: make(map[string]*endpoint),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add registers interface id at the serial address. Links are opened by
// Reconnect.
func (t *Transport) Add(id, address string, opts Options) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.endpoints[id]; ok {
		return fmt.Errorf("zigbee interface %s already added", id)
	}
	t.endpoints[id] = &endpoint{address: address, opts: opts}
	return nil
}

// IDs lists the registered interfaces in order.
func (t *Transport) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.endpoints))
	for id := range t.endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *Transport) current(id string) (*endpoint, *link) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ep, ok := t.endpoints[id]
	if !ok {
		return nil, nil
	}
	return ep, ep.link
}

func (t *Transport) Probe(ctx context.Context, id string) transport.Outcome {
	_, l := t.current(id)
	if l == nil {
		return transport.Failure
	}
	if err := l.failure(); err != nil {
		t.logger.Debug().Str("interface", id).Err(err).Msg("Probe on broken link")
		return transport.Failure
	}
	if l.fresh() {
		return transport.Success
	}
	return l.handshake(ctx)
}

func (t *Transport) Reconnect(ctx context.Context, id string) transport.Outcome {
	ep, old := t.current(id)
	if ep == nil {
		return transport.Failure
	}
	if old != nil {
		old.close()
	}
	if err := ctx.Err(); err != nil {
		return transport.Timeout
	}

	port, err := t.open(ep.address, ep.opts)
	if err != nil {
		t.logger.Warn().Str("interface", id).Str("port", ep.address).Err(err).Msg("Failed to open serial port")
		return transport.Failure
	}
	l := newLink(id, port, ep.opts, t)

	t.mu.Lock()
	ep.link = l
	t.mu.Unlock()

	outcome := l.handshake(ctx)
	if outcome.OK() {
		t.logger.Info().Str("interface", id).Str("port", ep.address).Msg("ASH link established")
	}
	return outcome
}

func (t *Transport) Verify(ctx context.Context, id string, stage transport.Stage) transport.Outcome {
	if stage == transport.StageBasic {
		return t.Probe(ctx, id)
	}
	_, l := t.current(id)
	if l == nil || l.failure() != nil {
		return transport.Failure
	}
	return l.handshake(ctx)
}

// Close closes every open link.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ep := range t.endpoints {
		if ep.link != nil {
			ep.link.close()
			ep.link = nil
		}
	}
	return nil
}
