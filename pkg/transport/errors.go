package transport

import "errors"

var (
	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrCallFailed indicates a remote call returned a failure
	ErrCallFailed = errors.New("remote call failed")

	// ErrNotConnected indicates the link is not connected
	ErrNotConnected = errors.New("transport not connected")

	// ErrUnknownInterface indicates no transport serves the interface
	ErrUnknownInterface = errors.New("unknown interface")
)
