package breaker

import "errors"

var (
	// ErrCircuitOpen indicates a call was rejected without being attempted
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyProbes indicates the half-open probe budget is in use
	ErrTooManyProbes = errors.New("circuit breaker half-open probe limit reached")
)

// IsRejection reports whether err is a fast rejection by a breaker.
func IsRejection(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyProbes)
}
