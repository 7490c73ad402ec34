package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/urmzd/homelink/pkg/central"
)

var centralStates = []central.State{
	central.Starting,
	central.Initializing,
	central.Running,
	central.Degraded,
	central.Recovering,
	central.Failed,
	central.Stopped,
}

// snapshotCollector reports gauges from the current health snapshot.
type snapshotCollector struct {
	src Source

	score        *prometheus.Desc
	up           *prometheus.Desc
	stale        *prometheus.Desc
	attempts     *prometheus.Desc
	overall      *prometheus.Desc
	centralState *prometheus.Desc
}

func newSnapshotCollector(src Source) *snapshotCollector {
	iface := []string{"interface"}
	return &snapshotCollector{
		src: src,
		score: prometheus.NewDesc(prometheus.BuildFQName(namespace, "interface", "health_score"),
			"Health score of the interface between 0 and 1.", iface, nil),
		up: prometheus.NewDesc(prometheus.BuildFQName(namespace, "interface", "up"),
			"1 if the interface is CONNECTED.", iface, nil),
		stale: prometheus.NewDesc(prometheus.BuildFQName(namespace, "interface", "stale"),
			"1 if no activity was seen within the staleness threshold.", iface, nil),
		attempts: prometheus.NewDesc(prometheus.BuildFQName(namespace, "interface", "reconnect_attempts"),
			"Recovery attempts consumed in the current episode.", iface, nil),
		overall: prometheus.NewDesc(prometheus.BuildFQName(namespace, "central", "health_score"),
			"Mean interface health score, 0 when nothing is connected.", nil, nil),
		centralState: prometheus.NewDesc(prometheus.BuildFQName(namespace, "central", "state"),
			"1 for the current central state, 0 for the others.", []string{"state"}, nil),
	}
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.score
	ch <- c.up
	ch <- c.stale
	ch <- c.attempts
	ch <- c.overall
	ch <- c.centralState
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.src.CentralHealth()
	for id, h := range snap.Interfaces {
		ch <- prometheus.MustNewConstMetric(c.score, prometheus.GaugeValue, h.Score, id)
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, boolValue(h.IsHealthy()), id)
		ch <- prometheus.MustNewConstMetric(c.stale, prometheus.GaugeValue, boolValue(h.Stale), id)
		ch <- prometheus.MustNewConstMetric(c.attempts, prometheus.GaugeValue, float64(h.ReconnectAttempts), id)
	}
	ch <- prometheus.MustNewConstMetric(c.overall, prometheus.GaugeValue, snap.OverallScore())

	current := c.src.CentralState()
	for _, s := range centralStates {
		ch <- prometheus.MustNewConstMetric(c.centralState, prometheus.GaugeValue, boolValue(s == current), s.String())
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
