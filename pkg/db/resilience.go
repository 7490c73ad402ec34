package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/urmzd/homelink/pkg/connectivity"
)

var ErrResilienceNotFound = errors.New("resilience settings not found")

// ResilienceStore persists the connectivity settings of a profile.
type ResilienceStore interface {
	Get(ctx context.Context, profileID int64) (connectivity.Config, error)
	Save(ctx context.Context, profileID int64, cfg connectivity.Config) error
}

// Resilience returns a ResilienceStore for this database.
func (db *DB) Resilience() ResilienceStore {
	return &resilienceStore{db: db}
}

type resilienceStore struct {
	db *DB
}

func (s *resilienceStore) Get(ctx context.Context, profileID int64) (connectivity.Config, error) {
	return getResilience(ctx, s.db, profileID)
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getResilience(ctx context.Context, q rowQueryer, profileID int64) (connectivity.Config, error) {
	var (
		cfg                                  connectivity.Config
		recoveryTimeout, baseDelay, maxDelay int64
		checkInterval, heartbeatInterval     int64
		freshWindow, staleness               int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT failure_threshold, success_threshold, recovery_timeout_ms, half_open_max_calls,
		       max_attempts, base_delay_ms, max_delay_ms, max_parallel,
		       check_interval_ms, heartbeat_interval_ms,
		       fresh_window_ms, staleness_threshold_ms, probe_failure_limit
		FROM resilience_settings WHERE profile_id = ?
	`, profileID).Scan(
		&cfg.Breaker.FailureThreshold, &cfg.Breaker.SuccessThreshold, &recoveryTimeout, &cfg.Breaker.HalfOpenMaxCalls,
		&cfg.Recovery.MaxAttempts, &baseDelay, &maxDelay, &cfg.Recovery.MaxParallel,
		&checkInterval, &heartbeatInterval,
		&freshWindow, &staleness, &cfg.ProbeFailureLimit,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return connectivity.Config{}, ErrResilienceNotFound
	}
	if err != nil {
		return connectivity.Config{}, err
	}
	cfg.Breaker.RecoveryTimeout = fromMillis(recoveryTimeout)
	cfg.Recovery.BaseDelay = fromMillis(baseDelay)
	cfg.Recovery.MaxDelay = fromMillis(maxDelay)
	cfg.Scheduler.CheckInterval = fromMillis(checkInterval)
	cfg.Scheduler.HeartbeatInterval = fromMillis(heartbeatInterval)
	cfg.Health.FreshWindow = fromMillis(freshWindow)
	cfg.Health.StalenessThreshold = fromMillis(staleness)
	return cfg, nil
}

func (s *resilienceStore) Save(ctx context.Context, profileID int64, cfg connectivity.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return saveResilience(ctx, s.db, profileID, cfg)
}

func saveResilience(ctx context.Context, ex execer, profileID int64, cfg connectivity.Config) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO resilience_settings (
			profile_id, failure_threshold, success_threshold, recovery_timeout_ms, half_open_max_calls,
			max_attempts, base_delay_ms, max_delay_ms, max_parallel,
			check_interval_ms, heartbeat_interval_ms,
			fresh_window_ms, staleness_threshold_ms, probe_failure_limit
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (profile_id) DO UPDATE SET
			failure_threshold = excluded.failure_threshold,
			success_threshold = excluded.success_threshold,
			recovery_timeout_ms = excluded.recovery_timeout_ms,
			half_open_max_calls = excluded.half_open_max_calls,
			max_attempts = excluded.max_attempts,
			base_delay_ms = excluded.base_delay_ms,
			max_delay_ms = excluded.max_delay_ms,
			max_parallel = excluded.max_parallel,
			check_interval_ms = excluded.check_interval_ms,
			heartbeat_interval_ms = excluded.heartbeat_interval_ms,
			fresh_window_ms = excluded.fresh_window_ms,
			staleness_threshold_ms = excluded.staleness_threshold_ms,
			probe_failure_limit = excluded.probe_failure_limit,
			updated_at = datetime('now')
	`,
		profileID, cfg.Breaker.FailureThreshold, cfg.Breaker.SuccessThreshold,
		cfg.Breaker.RecoveryTimeout.Milliseconds(), cfg.Breaker.HalfOpenMaxCalls,
		cfg.Recovery.MaxAttempts, cfg.Recovery.BaseDelay.Milliseconds(),
		cfg.Recovery.MaxDelay.Milliseconds(), cfg.Recovery.MaxParallel,
		cfg.Scheduler.CheckInterval.Milliseconds(), cfg.Scheduler.HeartbeatInterval.Milliseconds(),
		cfg.Health.FreshWindow.Milliseconds(), cfg.Health.StalenessThreshold.Milliseconds(),
		cfg.ProbeFailureLimit,
	)
	if err != nil {
		return fmt.Errorf("failed to save resilience settings: %w", err)
	}
	return nil
}

func fromMillis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
