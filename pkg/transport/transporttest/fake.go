// Package transporttest provides a scriptable transport for tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/urmzd/homelink/pkg/transport"
)

// Op names a transport operation.
type Op string

const (
	OpProbe     Op = "probe"
	OpReconnect Op = "reconnect"
	OpVerify    Op = "verify"
)

// Fake answers Success unless told otherwise.
type Fake struct {
	mu        sync.Mutex
	probe     map[string]transport.Outcome
	reconnect map[string]transport.Outcome
	failFrom  map[string]transport.Stage
	calls     map[Op]map[string]int

	// OnReconnect, when set, runs before Reconnect answers.
	OnReconnect func(ctx context.Context, id string)
}

// New creates a Fake.
func New() *Fake {
	return &Fake{
		probe:     make(map[string]transport.Outcome),
		reconnect: make(map[string]transport.Outcome),
		failFrom:  make(map[string]transport.Stage),
		calls: map[Op]map[string]int{
			OpProbe:     {},
			OpReconnect: {},
			OpVerify:    {},
		},
	}
}

// SetProbe makes Probe of id answer o.
func (f *Fake) SetProbe(id string, o transport.Outcome) {
	f.mu.Lock()
	f.probe[id] = o
	f.mu.Unlock()
}

// SetReconnect makes Reconnect of id answer o.
func (f *Fake) SetReconnect(id string, o transport.Outcome) {
	f.mu.Lock()
	f.reconnect[id] = o
	f.mu.Unlock()
}

// FailVerifyFrom makes Verify of id fail for stage and above.
func (f *Fake) FailVerifyFrom(id string, stage transport.Stage) {
	f.mu.Lock()
	f.failFrom[id] = stage
	f.mu.Unlock()
}

// Healthy clears every scripted failure of id.
func (f *Fake) Healthy(id string) {
	f.mu.Lock()
	delete(f.probe, id)
	delete(f.reconnect, id)
	delete(f.failFrom, id)
	f.mu.Unlock()
}

// Calls returns how often op was called for id.
func (f *Fake) Calls(op Op, id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op][id]
}

func (f *Fake) Probe(ctx context.Context, id string) transport.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[OpProbe][id]++
	if o, ok := f.probe[id]; ok {
		return o
	}
	return transport.Success
}

func (f *Fake) Reconnect(ctx context.Context, id string) transport.Outcome {
	if f.OnReconnect != nil {
		f.OnReconnect(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[OpReconnect][id]++
	if o, ok := f.reconnect[id]; ok {
		return o
	}
	return transport.Success
}

func (f *Fake) Verify(ctx context.Context, id string, stage transport.Stage) transport.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[OpVerify][id]++
	if from, ok := f.failFrom[id]; ok && stage >= from {
		return transport.Failure
	}
	return transport.Success
}
