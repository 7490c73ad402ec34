package connectivity

import "errors"

var (
	// ErrUnknownInterface indicates the interface is not managed
	ErrUnknownInterface = errors.New("unknown interface")

	// ErrNoInterfaces indicates a manager was built without interfaces
	ErrNoInterfaces = errors.New("no interfaces configured")

	// ErrDuplicateInterface indicates an interface ID was given twice
	ErrDuplicateInterface = errors.New("duplicate interface")

	// ErrStopped indicates the manager was already stopped
	ErrStopped = errors.New("connectivity manager stopped")

	// ErrInvalidConfig indicates a resilience setting is out of range
	ErrInvalidConfig = errors.New("invalid connectivity config")
)
