package connectivity

import (
	"fmt"
	"time"

	"github.com/urmzd/homelink/pkg/breaker"
	"github.com/urmzd/homelink/pkg/health"
	"github.com/urmzd/homelink/pkg/recovery"
	"github.com/urmzd/homelink/pkg/scheduler"
)

// Config bundles the resilience settings of all components.
type Config struct {
	Breaker   breaker.Config   `json:"breaker"`
	Recovery  recovery.Config  `json:"recovery"`
	Health    health.Config    `json:"health"`
	Scheduler scheduler.Config `json:"scheduler"`

	// ProbeFailureLimit is the number of consecutive failed health probes
	// after which a connected interface is marked DISCONNECTED.
	ProbeFailureLimit int `json:"probe_failure_limit"`
}

// DefaultConfig returns the default settings of every component.
func DefaultConfig() Config {
	return Config{
		Breaker:           breaker.DefaultConfig(),
		Recovery:          recovery.DefaultConfig(),
		Health:            health.DefaultConfig(),
		Scheduler:         scheduler.DefaultConfig(),
		ProbeFailureLimit: 5,
	}
}

// Validate rejects negative settings and a backoff floor above its cap.
// Zero values are allowed and fall back to component defaults.
func (c Config) Validate() error {
	durations := map[string]time.Duration{
		"breaker.recovery_timeout":     c.Breaker.RecoveryTimeout,
		"recovery.base_delay":          c.Recovery.BaseDelay,
		"recovery.max_delay":           c.Recovery.MaxDelay,
		"health.fresh_window":          c.Health.FreshWindow,
		"health.staleness_threshold":   c.Health.StalenessThreshold,
		"scheduler.check_interval":     c.Scheduler.CheckInterval,
		"scheduler.heartbeat_interval": c.Scheduler.HeartbeatInterval,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalidConfig, name)
		}
	}
	counts := map[string]int{
		"breaker.failure_threshold":   c.Breaker.FailureThreshold,
		"breaker.success_threshold":   c.Breaker.SuccessThreshold,
		"breaker.half_open_max_calls": c.Breaker.HalfOpenMaxCalls,
		"recovery.max_attempts":       c.Recovery.MaxAttempts,
		"recovery.max_parallel":       c.Recovery.MaxParallel,
		"probe_failure_limit":         c.ProbeFailureLimit,
	}
	for name, n := range counts {
		if n < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalidConfig, name)
		}
	}
	if c.Recovery.MaxDelay > 0 && c.Recovery.BaseDelay > c.Recovery.MaxDelay {
		return fmt.Errorf("%w: recovery.base_delay exceeds recovery.max_delay", ErrInvalidConfig)
	}
	if c.Health.StalenessThreshold > 0 && c.Health.FreshWindow > c.Health.StalenessThreshold {
		return fmt.Errorf("%w: health.fresh_window exceeds health.staleness_threshold", ErrInvalidConfig)
	}
	return nil
}
