package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// LoadFile reads and parses the configuration from a YAML file, applies
// defaults, and validates the result.
func LoadFile(path string) (*Config, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Load(data)
}

// Load parses configuration from raw YAML bytes.
func Load(data []byte) (*Config, error) {
	var rawConfig map[string]interface{}
	if err := yaml.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := decoder.Decode(rawConfig); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":8840"
	}
	if cfg.Backend.MachineCap == 0 {
		cfg.Backend.MachineCap = 1000
	}
	if cfg.Tracker.ActiveInterval == 0 {
		cfg.Tracker.ActiveInterval = 5 * time.Second
	}
	if cfg.Tracker.IdleInterval == 0 {
		cfg.Tracker.IdleInterval = 60 * time.Second
	}
	if cfg.Images.CheckInterval == 0 {
		cfg.Images.CheckInterval = 6 * time.Hour
	}
	if cfg.Images.KeepVersions == 0 {
		cfg.Images.KeepVersions = 5
	}
	if cfg.Images.MaxAgeDays == 0 {
		cfg.Images.MaxAgeDays = 90
	}
	if cfg.Images.ValidationTag == "" {
		cfg.Images.ValidationTag = "image-validation"
	}
}
