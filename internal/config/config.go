// Package config loads and validates the orchestrator configuration.
//
// The configuration file is YAML. Operational timeouts are tuned separately
// through environment variables; see timeouts.go.
package config

import (
	"fmt"
	"time"
)

// Config is the top-level orchestrator configuration.
type Config struct {
	// Listen is the HTTP API bind address, e.g. ":8840".
	Listen string `mapstructure:"listen"`

	// Database is the SQLite database path.
	Database string `mapstructure:"database"`

	// WebhookSecret authenticates backend-pushed machine snapshots.
	WebhookSecret string `mapstructure:"webhook_secret"`

	Backend BackendConfig `mapstructure:"backend"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Images  ImagesConfig  `mapstructure:"images"`
}

// BackendConfig holds the provisioning backend endpoint and credentials.
type BackendConfig struct {
	// Endpoint is the versioned API root, e.g.
	// "https://maas.example.com/MAAS/api/2.0".
	Endpoint string `mapstructure:"endpoint"`

	ConsumerKey string `mapstructure:"consumer_key"`
	TokenKey    string `mapstructure:"token_key"`
	TokenSecret string `mapstructure:"token_secret"`

	// MachineCap is the hard cap on machine listing results.
	MachineCap int `mapstructure:"machine_cap"`
}

// TrackerConfig tunes the reconciliation loop.
type TrackerConfig struct {
	// ActiveInterval is the poll interval for machines that are
	// commissioning or deploying.
	ActiveInterval time.Duration `mapstructure:"active_interval"`

	// IdleInterval is the poll interval for everything else.
	IdleInterval time.Duration `mapstructure:"idle_interval"`
}

// ImagesConfig tunes the image lifecycle manager.
type ImagesConfig struct {
	// CheckInterval is how often upstream tracks are checked for new builds.
	CheckInterval time.Duration `mapstructure:"check_interval"`

	// KeepVersions is the per-track retention count.
	KeepVersions int `mapstructure:"keep_versions"`

	// MaxAgeDays retires versions older than this many days.
	MaxAgeDays int `mapstructure:"max_age_days"`

	// ValidationTag marks the machine reserved for validation deployments.
	ValidationTag string `mapstructure:"validation_tag"`

	// ValidationEggs are rendered into the validation deployment payload.
	ValidationEggs []string `mapstructure:"validation_eggs"`

	// ValidationBootConfig names the boot config used for validation
	// deployments.
	ValidationBootConfig string `mapstructure:"validation_boot_config"`

	Tracks []TrackConfig `mapstructure:"tracks"`
}

// TrackConfig is one tracked OS release.
type TrackConfig struct {
	Name         string `mapstructure:"name"`
	Architecture string `mapstructure:"architecture"`
	UpstreamURL  string `mapstructure:"upstream_url"`
}

// Validate checks the configuration for missing or contradictory values.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Backend.Endpoint == "" {
		return fmt.Errorf("backend.endpoint is required")
	}
	if c.Backend.ConsumerKey == "" || c.Backend.TokenKey == "" || c.Backend.TokenSecret == "" {
		return fmt.Errorf("backend credentials (consumer_key, token_key, token_secret) are required")
	}
	if c.Tracker.ActiveInterval <= 0 || c.Tracker.IdleInterval <= 0 {
		return fmt.Errorf("tracker intervals must be positive")
	}
	if c.Tracker.ActiveInterval > c.Tracker.IdleInterval {
		return fmt.Errorf("tracker.active_interval must not exceed tracker.idle_interval")
	}
	if c.Images.KeepVersions < 1 {
		return fmt.Errorf("images.keep_versions must be at least 1")
	}
	for i, track := range c.Images.Tracks {
		if track.Name == "" || track.Architecture == "" {
			return fmt.Errorf("images.tracks[%d]: name and architecture are required", i)
		}
		if track.UpstreamURL == "" {
			return fmt.Errorf("images.tracks[%d] (%s): upstream_url is required", i, track.Name)
		}
	}
	return nil
}
