package central

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition indicates a state change the lifecycle table forbids
	ErrInvalidTransition = errors.New("invalid central state transition")

	// ErrGuardRejected indicates a permitted edge whose precondition does not hold
	ErrGuardRejected = errors.New("central state guard rejected transition")
)

// InvalidTransitionError describes a rejected transition request.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("central: %s -> %s: %s", e.From, e.To, ErrInvalidTransition)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
