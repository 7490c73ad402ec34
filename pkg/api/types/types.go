package types

import (
	"time"

	"github.com/urmzd/homelink/pkg/breaker"
	"github.com/urmzd/homelink/pkg/central"
	"github.com/urmzd/homelink/pkg/client"
	"github.com/urmzd/homelink/pkg/connectivity"
	"github.com/urmzd/homelink/pkg/health"
	"github.com/urmzd/homelink/pkg/recovery"
	"github.com/urmzd/homelink/pkg/scheduler"
)

// --- Response DTOs ---

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned from GET /health
type HealthResponse struct {
	Status             string        `json:"status"`
	CentralState       central.State `json:"central_state"`
	Score              float64       `json:"score"`
	Interfaces         int           `json:"interfaces"`
	DegradedInterfaces []string      `json:"degraded_interfaces"`
	Timestamp          time.Time     `json:"timestamp"`
}

// InterfaceSummary is one entry of GET /interfaces
type InterfaceSummary struct {
	ID                string                   `json:"id"`
	ClientState       client.State             `json:"client_state"`
	Circuits          map[string]breaker.State `json:"circuits"`
	Score             float64                  `json:"score"`
	Stale             bool                     `json:"stale"`
	ReconnectAttempts int                      `json:"reconnect_attempts"`
	LastActivity      *time.Time               `json:"last_activity,omitempty"`
}

// NewInterfaceSummary flattens a health snapshot.
func NewInterfaceSummary(h health.ConnectionHealth) InterfaceSummary {
	s := InterfaceSummary{
		ID:                h.Interface,
		ClientState:       h.ClientState,
		Circuits:          h.Circuits,
		Score:             h.Score,
		Stale:             h.Stale,
		ReconnectAttempts: h.ReconnectAttempts,
	}
	if at := h.LastActivity(); !at.IsZero() {
		s.LastActivity = &at
	}
	return s
}

// ListInterfacesResponse is returned from GET /interfaces
type ListInterfacesResponse struct {
	Interfaces []InterfaceSummary `json:"interfaces"`
	Count      int                `json:"count"`
}

// InterfaceResponse is returned from GET /interfaces/:id
type InterfaceResponse struct {
	Interface   InterfaceSummary         `json:"interface"`
	Diagnostics connectivity.Diagnostics `json:"diagnostics"`
}

// CentralResponse is returned from GET /central
type CentralResponse struct {
	State     central.State         `json:"state"`
	Score     float64               `json:"score"`
	History   []central.StateChange `json:"history"`
	Scheduler scheduler.Stats       `json:"scheduler"`
}

// RecoverResponse is returned from the recovery endpoints
type RecoverResponse struct {
	Summary recovery.Summary `json:"summary"`
}

// HeartbeatResponse is returned from POST /interfaces/:id/heartbeat
type HeartbeatResponse struct {
	Interface string    `json:"interface"`
	Received  time.Time `json:"received"`
}
