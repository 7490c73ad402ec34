// Package metrics exports connectivity events and health snapshots to
// Prometheus.
//
// Counters are fed from the event bus. Gauges are computed on scrape from
// the live health snapshot, so they never lag behind the tracker.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/urmzd/homelink/pkg/breaker"
	"github.com/urmzd/homelink/pkg/central"
	"github.com/urmzd/homelink/pkg/client"
	"github.com/urmzd/homelink/pkg/events"
	"github.com/urmzd/homelink/pkg/health"
	"github.com/urmzd/homelink/pkg/recovery"
)

const namespace = "homelink"

// Source is the live state read on every scrape.
type Source interface {
	CentralState() central.State
	CentralHealth() health.CentralHealth
}

// Subscriber is the part of the event bus the counters need.
type Subscriber interface {
	Subscribe(t events.Type, key string, handler events.Handler, priority int) func()
}

// Metrics holds the event counters and the snapshot collector.
type Metrics struct {
	EventsTotal             *prometheus.CounterVec
	ClientTransitionsTotal  *prometheus.CounterVec
	CentralTransitionsTotal *prometheus.CounterVec
	CircuitTripsTotal       *prometheus.CounterVec
	RecoveryAttemptsTotal   *prometheus.CounterVec

	collector *snapshotCollector
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer, src Source) (*Metrics, error) {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Connectivity events published, by type.",
		}, []string{"type"}),
		ClientTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "transitions_total",
			Help:      "Client state transitions, by interface and target state.",
		}, []string{"interface", "state"}),
		CentralTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "central",
			Name:      "transitions_total",
			Help:      "Central state transitions, by target state.",
		}, []string{"state"}),
		CircuitTripsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "trips_total",
			Help:      "Circuit breaker trips to OPEN, by interface and channel.",
		}, []string{"interface", "channel"}),
		RecoveryAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "attempts_total",
			Help:      "Completed recovery attempts, by interface and result.",
		}, []string{"interface", "result"}),
		collector: newSnapshotCollector(src),
	}

	for _, c := range []prometheus.Collector{
		m.EventsTotal,
		m.ClientTransitionsTotal,
		m.CentralTransitionsTotal,
		m.CircuitTripsTotal,
		m.RecoveryAttemptsTotal,
		m.collector,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

var counted = []events.Type{
	events.TypeClientStateChanged,
	events.TypeCentralStateChanged,
	events.TypeCircuitStateChanged,
	events.TypeCircuitTripped,
	events.TypeCircuitCallOutcome,
	events.TypeRecoveryAttempted,
	events.TypeRecoveryCompleted,
	events.TypeSystemStatusChanged,
	events.TypeHeartbeatReceived,
}

// Attach subscribes the counters to bus. The returned function detaches.
func (m *Metrics) Attach(bus Subscriber) func() {
	unsubs := make([]func(), 0, len(counted))
	for _, t := range counted {
		unsubs = append(unsubs, bus.Subscribe(t, events.Wildcard, m.observe, 0))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (m *Metrics) observe(_ context.Context, e events.Event) error {
	m.EventsTotal.WithLabelValues(string(e.Type)).Inc()

	switch p := e.Payload.(type) {
	case client.StateChange:
		m.ClientTransitionsTotal.WithLabelValues(p.Interface, p.New.String()).Inc()
	case central.StateChange:
		m.CentralTransitionsTotal.WithLabelValues(p.New.String()).Inc()
	case breaker.StateChange:
		if e.Type == events.TypeCircuitTripped {
			m.CircuitTripsTotal.WithLabelValues(p.Interface, p.Channel).Inc()
		}
	case recovery.Attempt:
		if e.Type == events.TypeRecoveryCompleted {
			m.RecoveryAttemptsTotal.WithLabelValues(p.Interface, string(p.Result)).Inc()
		}
	}
	return nil
}
