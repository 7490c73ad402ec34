// Package app assembles the connectivity service from stored configuration.
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/urmzd/homelink/pkg/connectivity"
	"github.com/urmzd/homelink/pkg/db"
	"github.com/urmzd/homelink/pkg/metrics"
	"github.com/urmzd/homelink/pkg/schema"
	"github.com/urmzd/homelink/pkg/transport"
	"github.com/urmzd/homelink/pkg/zigbee"
)

// Service is a wired connectivity manager with its metrics.
type Service struct {
	Manager  *connectivity.Manager
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	detach   func()
	stopOnce sync.Once
}

type options struct {
	opener  zigbee.Opener
	logger  zerolog.Logger
	manager []connectivity.Option
}

// Option configures Build.
type Option func(*options)

// WithOpener overrides how Zigbee serial ports are opened.
func WithOpener(open zigbee.Opener) Option {
	return func(o *options) { o.opener = open }
}

// WithLogger overrides the logger handed to every component.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithManagerOptions passes extra options to the connectivity manager.
func WithManagerOptions(opts ...connectivity.Option) Option {
	return func(o *options) { o.manager = append(o.manager, opts...) }
}

// liveness forwards link activity to the manager once it is built.
type liveness struct {
	manager atomic.Pointer[connectivity.Manager]
	logger  zerolog.Logger
}

func (l *liveness) record(id string) {
	m := l.manager.Load()
	if m == nil {
		return
	}
	if err := m.RecordLiveness(id); err != nil {
		l.logger.Debug().Err(err).Str("interface", id).Msg("Dropping liveness report")
	}
}

// Transports routes every enabled interface of cfg to the transport of its
// kind. onLive, when set, receives the liveness reports of Zigbee links.
func Transports(cfg *db.Config, opener zigbee.Opener, onLive func(id string), logger zerolog.Logger) (*transport.Router, error) {
	router := transport.NewRouter().WithLogger(logger)

	var zb *zigbee.Transport
	null := transport.NewNull()

	for _, iface := range cfg.Interfaces {
		switch iface.Kind {
		case schema.KindZigbee:
			if zb == nil {
				zopts := []zigbee.Option{zigbee.WithLogger(logger)}
				if opener != nil {
					zopts = append(zopts, zigbee.WithOpener(opener))
				}
				if onLive != nil {
					zopts = append(zopts, zigbee.WithLiveness(onLive, zigbee.DefaultLivenessInterval))
				}
				zb = zigbee.New(zopts...)
			}
			if err := zb.Add(iface.ID, iface.Address, zigbee.ParseOptions(iface.Options)); err != nil {
				return nil, fmt.Errorf("interface %s: %w", iface.ID, err)
			}
			router.Register(iface.ID, zb)
		case schema.KindNull:
			router.Register(iface.ID, null)
		default:
			return nil, fmt.Errorf("interface %s: %w: %s", iface.ID, schema.ErrUnknownKind, iface.Kind)
		}
	}
	return router, nil
}

// Build creates the service for cfg. Nothing connects until Start.
func Build(cfg *db.Config, opts ...Option) (*Service, error) {
	o := options{logger: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}

	live := &liveness{logger: o.logger}
	router, err := Transports(cfg, o.opener, live.record, o.logger)
	if err != nil {
		return nil, err
	}

	mopts := append([]connectivity.Option{connectivity.WithLogger(o.logger)}, o.manager...)
	manager, err := connectivity.New(cfg.InterfaceIDs(), router, cfg.Resilience, mopts...)
	if err != nil {
		return nil, err
	}
	live.manager.Store(manager)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg, manager)
	if err != nil {
		return nil, err
	}

	return &Service{
		Manager:  manager,
		Metrics:  m,
		Registry: reg,
		detach:   m.Attach(manager.Bus()),
	}, nil
}

// Start connects every interface and starts the periodic checks.
func (s *Service) Start(ctx context.Context) error {
	return s.Manager.Start(ctx)
}

// Stop shuts the manager down and closes every transport. It is safe to
// call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.Manager.Stop()
		s.detach()
	})
}
