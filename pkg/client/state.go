// Package client holds the lifecycle state machine of one interface
// connection to the central.
package client

// State is the lifecycle state of one interface connection.
type State int

const (
	Init State = iota
	Connecting
	Connected
	Reconnecting
	Disconnected
	Failed
	Stopping
	Stopped
)

var stateNames = map[State]string{
	Init:         "INIT",
	Connecting:   "CONNECTING",
	Connected:    "CONNECTED",
	Reconnecting: "RECONNECTING",
	Disconnected: "DISCONNECTED",
	Failed:       "FAILED",
	Stopping:     "STOPPING",
	Stopped:      "STOPPED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions is the fixed table of permitted edges.
var transitions = map[State][]State{
	Init:         {Connecting, Stopping},
	Connecting:   {Connected, Failed, Disconnected, Stopping},
	Connected:    {Disconnected, Reconnecting, Stopping},
	Disconnected: {Connecting, Reconnecting, Stopping, Disconnected},
	Reconnecting: {Connected, Disconnected, Failed, Connecting},
	Failed:       {Connecting, Reconnecting, Stopping},
	Stopping:     {Stopped},
	Stopped:      {},
}

// CanTransition reports whether the table permits from -> to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsFailed reports whether the interface needs recovery.
func (s State) IsFailed() bool {
	return s == Disconnected || s == Failed
}
