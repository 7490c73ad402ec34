// Package central holds the system-wide lifecycle state machine.
package central

// State is the lifecycle state of the whole system.
type State int

const (
	Starting State = iota
	Initializing
	Running
	Degraded
	Recovering
	Failed
	Stopped
)

var stateNames = map[State]string{
	Starting:     "STARTING",
	Initializing: "INITIALIZING",
	Running:      "RUNNING",
	Degraded:     "DEGRADED",
	Recovering:   "RECOVERING",
	Failed:       "FAILED",
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

var transitions = map[State][]State{
	Starting:     {Initializing, Stopped},
	Initializing: {Running, Degraded, Failed, Stopped},
	Running:      {Degraded, Recovering, Stopped},
	Degraded:     {Running, Recovering, Failed, Stopped},
	Recovering:   {Running, Degraded, Failed, Stopped},
	Failed:       {Recovering, Stopped},
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

// RecoveryOutcome is the aggregate result of one recovery pass.
type RecoveryOutcome int

const (
	// OutcomeFull means every recovered interface reached FULL.
	OutcomeFull RecoveryOutcome = iota
	// OutcomePartial means some interfaces are still not connected.
	OutcomePartial
	// OutcomeExhausted means every failed interface ran out of retries.
	OutcomeExhausted
)

func (o RecoveryOutcome) String() string {
	switch o {
	case OutcomeFull:
		return "full"
	case OutcomePartial:
		return "partial"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// MarshalText renders the outcome name in JSON payloads.
func (o RecoveryOutcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}
