package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/urmzd/homelink/pkg/connectivity"
)

var ErrNoActiveProfile = errors.New("no active profile found")

// Config is the runtime configuration of the active profile.
type Config struct {
	Profile    *Profile
	APIServer  *APIServer
	Interfaces []*Interface
	Resilience connectivity.Config
}

// APIAddress returns the API server listen address.
func (c *Config) APIAddress() string {
	if c.APIServer == nil {
		return "0.0.0.0:8080"
	}
	return c.APIServer.Address()
}

// Timezone returns the profile timezone.
func (c *Config) Timezone() string {
	if c.Profile == nil {
		return "UTC"
	}
	return c.Profile.Timezone
}

// InterfaceIDs returns the IDs of the enabled interfaces.
func (c *Config) InterfaceIDs() []string {
	ids := make([]string, 0, len(c.Interfaces))
	for _, i := range c.Interfaces {
		ids = append(ids, i.ID)
	}
	return ids
}

// ActiveConfig loads the complete configuration for the active profile.
// Missing resilience settings fall back to the connectivity defaults.
func (db *DB) ActiveConfig(ctx context.Context) (*Config, error) {
	profile, err := db.Profiles().GetActive(ctx)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, ErrNoActiveProfile
		}
		return nil, fmt.Errorf("failed to get active profile: %w", err)
	}

	config := &Config{
		Profile: profile,
	}

	apiServer, err := db.APIServers().Get(ctx, profile.ID)
	if err != nil && !errors.Is(err, ErrAPIServerNotFound) {
		return nil, fmt.Errorf("failed to get API server config: %w", err)
	}
	config.APIServer = apiServer

	config.Interfaces, err = db.Interfaces().ListEnabled(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	config.Resilience, err = db.Resilience().Get(ctx, profile.ID)
	switch {
	case errors.Is(err, ErrResilienceNotFound):
		config.Resilience = connectivity.DefaultConfig()
	case err != nil:
		return nil, fmt.Errorf("failed to get resilience settings: %w", err)
	}

	return config, nil
}
