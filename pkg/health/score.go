package health

import (
	"time"

	"github.com/urmzd/homelink/pkg/breaker"
	"github.com/urmzd/homelink/pkg/client"
)

// Score weights
const (
	stateWeight   = 0.4
	circuitWeight = 0.3
	recencyWeight = 0.3
)

func stateTerm(s client.State) float64 {
	switch s {
	case client.Connected:
		return 1.0
	case client.Reconnecting:
		return 0.5
	default:
		return 0.0
	}
}

// circuitTerm averages the channel terms; no channel counts as closed.
func circuitTerm(circuits map[string]breaker.State) float64 {
	if len(circuits) == 0 {
		return 1.0
	}
	var sum float64
	for _, s := range circuits {
		switch s {
		case breaker.Closed:
			sum += 1.0
		case breaker.HalfOpen:
			sum += 1.0 / 3.0
		}
	}
	return sum / float64(len(circuits))
}

// recencyTerm is 1.0 within fresh, decays linearly and reaches 0 at stale.
func recencyTerm(last, now time.Time, fresh, stale time.Duration) float64 {
	if last.IsZero() {
		return 0.0
	}
	age := now.Sub(last)
	if age < fresh {
		return 1.0
	}
	if age >= stale || stale <= fresh {
		return 0.0
	}
	return 1.0 - float64(age-fresh)/float64(stale-fresh)
}

// Score computes the weighted [0,1] health score of h at now.
func Score(h ConnectionHealth, now time.Time, cfg Config) float64 {
	return stateWeight*stateTerm(h.ClientState) +
		circuitWeight*circuitTerm(h.Circuits) +
		recencyWeight*recencyTerm(h.LastActivity(), now, cfg.FreshWindow, cfg.StalenessThreshold)
}
