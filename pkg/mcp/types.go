package mcp

import (
	"time"

	"github.com/urmzd/homelink/pkg/breaker"
	"github.com/urmzd/homelink/pkg/central"
	"github.com/urmzd/homelink/pkg/client"
	"github.com/urmzd/homelink/pkg/connectivity"
	"github.com/urmzd/homelink/pkg/health"
	"github.com/urmzd/homelink/pkg/recovery"
)

// --- Tool output types ---

type GetHealthOutput struct {
	Status             string        `json:"status"`
	CentralState       central.State `json:"central_state"`
	Score              float64       `json:"score"`
	Interfaces         int           `json:"interfaces"`
	DegradedInterfaces []string      `json:"degraded_interfaces"`
	Timestamp          string        `json:"timestamp"`
}

type InterfaceInfo struct {
	ID                string                   `json:"id"`
	ClientState       client.State             `json:"client_state"`
	Circuits          map[string]breaker.State `json:"circuits"`
	Score             float64                  `json:"score"`
	Stale             bool                     `json:"stale"`
	ReconnectAttempts int                      `json:"reconnect_attempts"`
	LastActivity      string                   `json:"last_activity,omitempty"`
}

type ListInterfacesOutput struct {
	Interfaces []InterfaceInfo `json:"interfaces"`
	Count      int             `json:"count"`
}

type GetInterfaceHealthOutput struct {
	Interface   InterfaceInfo            `json:"interface"`
	Diagnostics connectivity.Diagnostics `json:"diagnostics"`
}

type GetCentralStateOutput struct {
	State   central.State         `json:"state"`
	Score   float64               `json:"score"`
	History []central.StateChange `json:"history"`
}

type RecoverOutput struct {
	Summary recovery.Summary `json:"summary"`
	Message string           `json:"message,omitempty"`
}

// --- Conversion helpers ---

// InterfaceToInfo flattens a health snapshot.
func InterfaceToInfo(h health.ConnectionHealth) InterfaceInfo {
	info := InterfaceInfo{
		ID:                h.Interface,
		ClientState:       h.ClientState,
		Circuits:          h.Circuits,
		Score:             h.Score,
		Stale:             h.Stale,
		ReconnectAttempts: h.ReconnectAttempts,
	}
	if at := h.LastActivity(); !at.IsZero() {
		info.LastActivity = at.UTC().Format(time.RFC3339)
	}
	return info
}
