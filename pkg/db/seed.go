package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/urmzd/homelink/pkg/connectivity"
)

// Seed is a YAML description of a profile, imported on top of the
// existing configuration.
//
//	profile: default
//	api: {host: 127.0.0.1, port: 8090}
//	resilience:
//	  max_attempts: 5
//	  base_delay: 2s
//	interfaces:
//	  - id: zigbee0
//	    kind: zigbee
//	    address: /dev/ttyUSB0
//	    options: {baud: 115200}
type Seed struct {
	Profile    string          `yaml:"profile"`
	Timezone   string          `yaml:"timezone"`
	Activate   bool            `yaml:"activate"`
	API        *SeedAPI        `yaml:"api"`
	Resilience *SeedResilience `yaml:"resilience"`
	Interfaces []SeedInterface `yaml:"interfaces"`
}

// SeedAPI overrides the status API listen address.
type SeedAPI struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SeedInterface declares one interface. Enabled defaults to true.
type SeedInterface struct {
	ID      string         `yaml:"id"`
	Kind    string         `yaml:"kind"`
	Address string         `yaml:"address"`
	Enabled *bool          `yaml:"enabled"`
	Options map[string]any `yaml:"options"`
}

// SeedResilience overrides individual resilience settings; zero fields keep
// the stored value.
type SeedResilience struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	RecoveryTimeout    time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls   int           `yaml:"half_open_max_calls"`
	MaxAttempts        int           `yaml:"max_attempts"`
	BaseDelay          time.Duration `yaml:"base_delay"`
	MaxDelay           time.Duration `yaml:"max_delay"`
	MaxParallel        int           `yaml:"max_parallel"`
	CheckInterval      time.Duration `yaml:"check_interval"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	FreshWindow        time.Duration `yaml:"fresh_window"`
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`
	ProbeFailureLimit  int           `yaml:"probe_failure_limit"`
}

func (r *SeedResilience) apply(cfg connectivity.Config) connectivity.Config {
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setDur := func(dst *time.Duration, v time.Duration) {
		if v != 0 {
			*dst = v
		}
	}
	setInt(&cfg.Breaker.FailureThreshold, r.FailureThreshold)
	setInt(&cfg.Breaker.SuccessThreshold, r.SuccessThreshold)
	setDur(&cfg.Breaker.RecoveryTimeout, r.RecoveryTimeout)
	setInt(&cfg.Breaker.HalfOpenMaxCalls, r.HalfOpenMaxCalls)
	setInt(&cfg.Recovery.MaxAttempts, r.MaxAttempts)
	setDur(&cfg.Recovery.BaseDelay, r.BaseDelay)
	setDur(&cfg.Recovery.MaxDelay, r.MaxDelay)
	setInt(&cfg.Recovery.MaxParallel, r.MaxParallel)
	setDur(&cfg.Scheduler.CheckInterval, r.CheckInterval)
	setDur(&cfg.Scheduler.HeartbeatInterval, r.HeartbeatInterval)
	setDur(&cfg.Health.FreshWindow, r.FreshWindow)
	setDur(&cfg.Health.StalenessThreshold, r.StalenessThreshold)
	setInt(&cfg.ProbeFailureLimit, r.ProbeFailureLimit)
	return cfg
}

// ParseSeed decodes a seed document, rejecting unknown keys.
func ParseSeed(r io.Reader) (*Seed, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var seed Seed
	if err := dec.Decode(&seed); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("seed is empty")
		}
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	if seed.Profile == "" {
		seed.Profile = DefaultProfile
	}
	return &seed, nil
}

// ImportSeedFile reads and imports the seed at path.
func (db *DB) ImportSeedFile(ctx context.Context, path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed: %w", err)
	}
	defer func() { _ = f.Close() }()

	seed, err := ParseSeed(f)
	if err != nil {
		return nil, err
	}
	return db.ImportSeed(ctx, seed)
}

// ImportSeed creates or updates the seeded profile in one transaction.
// Interfaces are upserted by ID; interfaces not named in the seed are kept.
// A new profile becomes active when no other profile is or Activate is set.
func (db *DB) ImportSeed(ctx context.Context, seed *Seed) (*Profile, error) {
	ifaces := make([]*Interface, 0, len(seed.Interfaces))
	options := make([]string, 0, len(seed.Interfaces))
	seen := make(map[string]bool, len(seed.Interfaces))
	for _, si := range seed.Interfaces {
		if si.ID == "" {
			return nil, errors.New("seed interface without id")
		}
		if seen[si.ID] {
			return nil, fmt.Errorf("seed interface %s declared twice", si.ID)
		}
		seen[si.ID] = true
		if err := db.validator().ValidateOptions(si.Kind, si.Options); err != nil {
			return nil, fmt.Errorf("seed interface %s: %w", si.ID, err)
		}
		encoded, err := encodeOptions(si.Options)
		if err != nil {
			return nil, fmt.Errorf("seed interface %s: %w", si.ID, err)
		}
		enabled := true
		if si.Enabled != nil {
			enabled = *si.Enabled
		}
		ifaces = append(ifaces, &Interface{
			ID: si.ID, Kind: si.Kind, Address: si.Address, Enabled: enabled, Options: si.Options,
		})
		options = append(options, encoded)
	}

	var profileID int64
	err := db.Tx(ctx, func(tx *sql.Tx) error {
		var err error
		profileID, err = seedProfile(ctx, tx, seed)
		if err != nil {
			return err
		}

		if api := seed.API; api != nil {
			if err := saveAPIServer(ctx, tx, &APIServer{ProfileID: profileID, Host: api.Host, Port: api.Port}); err != nil {
				return err
			}
		}

		cfg, err := loadResilience(ctx, tx, profileID)
		if err != nil {
			return err
		}
		if seed.Resilience != nil {
			cfg = seed.Resilience.apply(cfg)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := saveResilience(ctx, tx, profileID, cfg); err != nil {
			return err
		}

		for n, iface := range ifaces {
			iface.ProfileID = profileID
			if err := upsertInterface(ctx, tx, iface, options[n]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return db.Profiles().Get(ctx, profileID)
}

func seedProfile(ctx context.Context, tx *sql.Tx, seed *Seed) (int64, error) {
	var id int64
	activate := seed.Activate
	err := tx.QueryRowContext(ctx, `SELECT id FROM profiles WHERE name = ?`, seed.Profile).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		var active int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles WHERE is_active = 1`).Scan(&active); err != nil {
			return 0, err
		}
		tz := seed.Timezone
		if tz == "" {
			tz = "UTC"
		}
		result, err := tx.ExecContext(ctx, `INSERT INTO profiles (name, timezone) VALUES (?, ?)`, seed.Profile, tz)
		if err != nil {
			return 0, fmt.Errorf("failed to create profile: %w", err)
		}
		if id, err = result.LastInsertId(); err != nil {
			return 0, err
		}
		activate = activate || active == 0
	case err != nil:
		return 0, err
	case seed.Timezone != "":
		if _, err := tx.ExecContext(ctx, `
			UPDATE profiles SET timezone = ?, updated_at = datetime('now') WHERE id = ?
		`, seed.Timezone, id); err != nil {
			return 0, err
		}
	}

	if activate {
		if _, err := tx.ExecContext(ctx, `UPDATE profiles SET is_active = (id = ?)`, id); err != nil {
			return 0, fmt.Errorf("failed to activate profile: %w", err)
		}
	}
	return id, nil
}

// loadResilience reads the stored settings inside tx, or the defaults.
func loadResilience(ctx context.Context, tx *sql.Tx, profileID int64) (connectivity.Config, error) {
	cfg, err := getResilience(ctx, tx, profileID)
	if errors.Is(err, ErrResilienceNotFound) {
		return connectivity.DefaultConfig(), nil
	}
	return cfg, err
}
