// Package health aggregates client state, circuit state and liveness into
// per-interface and system-wide health snapshots.
package health

import (
	"sort"
	"time"

	"github.com/urmzd/homelink/pkg/breaker"
	"github.com/urmzd/homelink/pkg/client"
)

// ConnectionHealth is a derived snapshot for one interface. Readers own
// their copy; the tracker never hands out shared state.
type ConnectionHealth struct {
	Interface           string                   `json:"interface"`
	ClientState         client.State             `json:"client_state"`
	Circuits            map[string]breaker.State `json:"circuits"`
	LastSuccess         time.Time                `json:"last_success,omitempty"`
	LastFailure         time.Time                `json:"last_failure,omitempty"`
	LastLiveness        time.Time                `json:"last_liveness,omitempty"`
	ConsecutiveFailures int                      `json:"consecutive_failures"`
	Rejections          int                      `json:"rejections"`
	ReconnectAttempts   int                      `json:"reconnect_attempts"`
	Score               float64                  `json:"score"`
	Stale               bool                     `json:"stale"`
}

// IsHealthy reports whether the interface is fully connected.
func (h ConnectionHealth) IsHealthy() bool {
	return h.ClientState == client.Connected
}

// IsFailed reports whether the interface needs recovery.
func (h ConnectionHealth) IsFailed() bool {
	return h.ClientState.IsFailed()
}

// IsDegraded reports whether the interface is neither healthy, failed nor
// shutting down, e.g. still connecting or reconnecting.
func (h ConnectionHealth) IsDegraded() bool {
	switch h.ClientState {
	case client.Connected, client.Disconnected, client.Failed, client.Stopping, client.Stopped:
		return false
	}
	return true
}

// LastActivity is the most recent successful call or liveness signal.
func (h ConnectionHealth) LastActivity() time.Time {
	if h.LastLiveness.After(h.LastSuccess) {
		return h.LastLiveness
	}
	return h.LastSuccess
}

func (h ConnectionHealth) clone() ConnectionHealth {
	c := h
	c.Circuits = make(map[string]breaker.State, len(h.Circuits))
	for k, v := range h.Circuits {
		c.Circuits[k] = v
	}
	return c
}

// CentralHealth is the system-wide snapshot.
type CentralHealth struct {
	Interfaces map[string]ConnectionHealth `json:"interfaces"`
	At         time.Time                   `json:"at"`
}

// AllHealthy reports whether every tracked interface is CONNECTED. An
// empty set is not healthy.
func (c CentralHealth) AllHealthy() bool {
	if len(c.Interfaces) == 0 {
		return false
	}
	for _, h := range c.Interfaces {
		if !h.IsHealthy() {
			return false
		}
	}
	return true
}

// AnyHealthy reports whether at least one interface is CONNECTED.
func (c CentralHealth) AnyHealthy() bool {
	for _, h := range c.Interfaces {
		if h.IsHealthy() {
			return true
		}
	}
	return false
}

// OverallScore is the mean interface score, or 0 when nothing is connected.
func (c CentralHealth) OverallScore() float64 {
	if !c.AnyHealthy() {
		return 0
	}
	var sum float64
	for _, h := range c.Interfaces {
		sum += h.Score
	}
	return sum / float64(len(c.Interfaces))
}

// FailedClients lists interfaces in DISCONNECTED or FAILED, sorted.
func (c CentralHealth) FailedClients() []string {
	return c.filter(ConnectionHealth.IsFailed)
}

// HealthyClients lists CONNECTED interfaces, sorted.
func (c CentralHealth) HealthyClients() []string {
	return c.filter(ConnectionHealth.IsHealthy)
}

// DegradedClients lists interfaces in a transitional state, sorted.
func (c CentralHealth) DegradedClients() []string {
	return c.filter(ConnectionHealth.IsDegraded)
}

func (c CentralHealth) filter(pred func(ConnectionHealth) bool) []string {
	var out []string
	for id, h := range c.Interfaces {
		if pred(h) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
