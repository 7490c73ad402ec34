package transport

import "context"

// Null is a transport whose every call fails. It lets the service run in
// limited mode for interfaces without a usable backend.
type Null struct{}

// NewNull creates a Null transport.
func NewNull() *Null {
	return &Null{}
}

func (Null) Probe(ctx context.Context, id string) Outcome {
	return Failure
}

func (Null) Reconnect(ctx context.Context, id string) Outcome {
	return Failure
}

func (Null) Verify(ctx context.Context, id string, stage Stage) Outcome {
	return Failure
}
