package db

import (
	"context"
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 2

// Profiles and the status API listen address.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version     INTEGER PRIMARY KEY,
    applied_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS profiles (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL UNIQUE,
    timezone    TEXT NOT NULL DEFAULT 'UTC',
    is_active   INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS api_servers (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    profile_id  INTEGER NOT NULL UNIQUE REFERENCES profiles(id) ON DELETE CASCADE,
    host        TEXT NOT NULL DEFAULT '0.0.0.0',
    port        INTEGER NOT NULL DEFAULT 8080,
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_profiles_active ON profiles(is_active);
`

// Monitored interfaces and per-profile resilience settings. Durations are
// stored in milliseconds.
const schemaV2 = `
CREATE TABLE IF NOT EXISTS interfaces (
    id          TEXT NOT NULL,
    profile_id  INTEGER NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
    kind        TEXT NOT NULL,
    address     TEXT NOT NULL DEFAULT '',
    enabled     INTEGER NOT NULL DEFAULT 1,
    options     TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (profile_id, id)
);

CREATE TABLE IF NOT EXISTS resilience_settings (
    profile_id                INTEGER PRIMARY KEY REFERENCES profiles(id) ON DELETE CASCADE,
    failure_threshold         INTEGER NOT NULL,
    success_threshold         INTEGER NOT NULL,
    recovery_timeout_ms       INTEGER NOT NULL,
    half_open_max_calls       INTEGER NOT NULL,
    max_attempts              INTEGER NOT NULL,
    base_delay_ms             INTEGER NOT NULL,
    max_delay_ms              INTEGER NOT NULL,
    max_parallel              INTEGER NOT NULL DEFAULT 0,
    check_interval_ms         INTEGER NOT NULL,
    heartbeat_interval_ms     INTEGER NOT NULL,
    fresh_window_ms           INTEGER NOT NULL,
    staleness_threshold_ms    INTEGER NOT NULL,
    probe_failure_limit       INTEGER NOT NULL,
    updated_at                TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_interfaces_profile ON interfaces(profile_id);
`

var migrations = []struct {
	version int
	sql     string
}{
	{1, schemaV1},
	{2, schemaV2},
}

// Migrate runs database migrations to bring the schema up to date.
func (db *DB) Migrate(ctx context.Context) error {
	version, err := db.getSchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if version >= currentSchemaVersion {
		return nil
	}

	for _, m := range migrations {
		if version >= m.version {
			continue
		}
		if err := db.applySchema(ctx, m.version, m.sql); err != nil {
			return fmt.Errorf("failed to apply schema v%d: %w", m.version, err)
		}
	}

	return nil
}

// getSchemaVersion returns the current schema version, or 0 if no schema exists.
func (db *DB) getSchemaVersion(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&count)
	if err != nil {
		return 0, err
	}

	if count == 0 {
		return 0, nil
	}

	var version int
	err = db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}

func (db *DB) applySchema(ctx context.Context, version int, ddl string) error {
	return db.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}

		return nil
	})
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	return db.getSchemaVersion(ctx)
}
