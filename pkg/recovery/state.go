// Package recovery drives staged reconnection of failed interfaces with
// exponential backoff and a bounded retry budget.
package recovery

import (
	"time"

	"github.com/urmzd/homelink/pkg/transport"
)

const historySize = 20

// Result is the outcome of one recovery attempt.
type Result string

const (
	ResultSuccess    Result = "SUCCESS"
	ResultPartial    Result = "PARTIAL"
	ResultFailed     Result = "FAILED"
	ResultMaxRetries Result = "MAX_RETRIES"
	ResultAborted    Result = "ABORTED"
	// ResultNoop means the interface did not need recovery.
	ResultNoop Result = "NOOP"
)

// Attempt records one recovery attempt. It is the payload of
// TypeRecoveryAttempted and TypeRecoveryCompleted.
type Attempt struct {
	ID        string          `json:"id"`
	Interface string          `json:"interface"`
	Number    int             `json:"number"`
	Stage     transport.Stage `json:"stage"`
	Result    Result          `json:"result,omitempty"`
	At        time.Time       `json:"at"`
	Duration  time.Duration   `json:"duration"`
}

// State is the retry bookkeeping of one interface.
type State struct {
	Interface   string    `json:"interface"`
	Attempts    int       `json:"attempts"`
	ExtraBudget int       `json:"extra_budget"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
	History     []Attempt `json:"history"`
}

// CanRetry reports whether another attempt fits the budget.
func (s State) CanRetry(maxAttempts int) bool {
	return s.Attempts < maxAttempts+s.ExtraBudget
}

func (s *State) record(a Attempt) {
	s.History = append(s.History, a)
	if len(s.History) > historySize {
		s.History = s.History[len(s.History)-historySize:]
	}
}

func (s State) clone() State {
	c := s
	c.History = make([]Attempt, len(s.History))
	copy(c.History, s.History)
	return c
}

// Backoff returns min(base*2^(failures-1), max). Zero failures need no delay.
func Backoff(failures int, base, max time.Duration) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
