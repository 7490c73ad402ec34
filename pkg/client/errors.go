package client

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition indicates a state change the lifecycle table forbids
var ErrInvalidTransition = errors.New("invalid client state transition")

// InvalidTransitionError describes a rejected transition request.
type InvalidTransitionError struct {
	Interface string
	From      State
	To        State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("interface %s: %s -> %s: %s", e.Interface, e.From, e.To, ErrInvalidTransition)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
