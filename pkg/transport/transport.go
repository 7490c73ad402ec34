// Package transport defines the connectivity capability the resilience core
// consumes from the protocol layer.
package transport

import (
	"context"
	"errors"

	"github.com/urmzd/homelink/pkg/breaker"
)

// Outcome is the result of one remote operation. Routine failures are
// values, not errors.
type Outcome int

const (
	Success Outcome = iota
	Failure
	Timeout
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// MarshalText renders the outcome name in JSON payloads.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// OK reports whether o is Success.
func (o Outcome) OK() bool { return o == Success }

// Err maps o to the matching sentinel, nil for Success.
func (o Outcome) Err() error {
	switch o {
	case Success:
		return nil
	case Timeout:
		return ErrTimeout
	case Rejected:
		return breaker.ErrCircuitOpen
	default:
		return ErrCallFailed
	}
}

// FromError classifies an error returned by a remote call.
func FromError(err error) Outcome {
	switch {
	case err == nil:
		return Success
	case breaker.IsRejection(err):
		return Rejected
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return Timeout
	default:
		return Failure
	}
}

// Stage is a data-availability level proven by Verify.
type Stage int

const (
	// StageNone means not even the liveness probe succeeded.
	StageNone Stage = iota
	StageBasic
	StageDevices
	StageParamsets
	StageValues
	StageFull
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "NONE"
	case StageBasic:
		return "BASIC"
	case StageDevices:
		return "DEVICES"
	case StageParamsets:
		return "PARAMSETS"
	case StageValues:
		return "VALUES"
	case StageFull:
		return "FULL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the stage name in JSON payloads.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// VerifyStages lists the stages checked in order. Passing all of them
// reaches StageFull.
var VerifyStages = []Stage{StageBasic, StageDevices, StageParamsets, StageValues}

// Transport is the connectivity capability for a set of interfaces.
type Transport interface {
	// Probe performs a lightweight liveness round trip.
	Probe(ctx context.Context, id string) Outcome

	// Reconnect re-establishes the session/callback channel.
	Reconnect(ctx context.Context, id string) Outcome

	// Verify performs the minimal call proving stage is reachable.
	Verify(ctx context.Context, id string, stage Stage) Outcome
}

// Closer is implemented by transports holding resources.
type Closer interface {
	Close() error
}
