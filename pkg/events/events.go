// Package events provides the typed publish/subscribe hub every
// connectivity component reports through.
package events

import "time"

// Type identifies the kind of an event.
type Type string

// Event types
const (
	TypeClientStateChanged  Type = "client_state_changed"
	TypeCentralStateChanged Type = "central_state_changed"
	TypeCircuitStateChanged Type = "circuit_state_changed"
	TypeCircuitTripped      Type = "circuit_tripped"
	TypeCircuitCallOutcome  Type = "circuit_call_outcome"
	TypeRecoveryAttempted   Type = "recovery_attempted"
	TypeRecoveryCompleted   Type = "recovery_completed"
	TypeSystemStatusChanged Type = "system_status_changed"
	TypeHeartbeatReceived   Type = "heartbeat_received"
)

// Wildcard subscribes a handler to every key of an event type.
const Wildcard = "*"

// Event is an immutable notification. Key is the interface ID the event
// concerns, or empty for system-wide events. Payload holds a value type
// defined by the publishing package.
type Event struct {
	Type      Type      `json:"type"`
	Key       string    `json:"key,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// New builds an event stamped with the current time.
func New(t Type, key string, payload any) Event {
	return Event{Type: t, Key: key, Timestamp: time.Now(), Payload: payload}
}

// Heartbeat is the payload of TypeHeartbeatReceived: a liveness push from
// the backend for one interface.
type Heartbeat struct {
	Interface string    `json:"interface"`
	At        time.Time `json:"at"`
}

// Publisher is the narrow capability components need to emit events.
type Publisher interface {
	Publish(e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}
