package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds the operational deadlines. Every multi-step wait has an
// overall deadline independent of the per-request timeout, so a backend
// that retries forever at the transport layer cannot hang orchestration.
type Timeouts struct {
	Request           time.Duration // per backend HTTP request
	ImageSync         time.Duration // waiting for the backend to finish syncing image bytes
	ImageValidation   time.Duration // waiting for a validation deployment to complete
	DeployComplete    time.Duration // waiting for a deployment to reach a terminal machine state
	RetryMaxAttempts  int           // transient-failure retries per backend call
	RetryInitialDelay time.Duration // first backoff delay
}

// LoadTimeouts reads timeout configuration from environment variables,
// falling back to defaults for unset or invalid values.
//
// Environment variables:
//   - HATCHERY_TIMEOUT_REQUEST (default: 30s)
//   - HATCHERY_TIMEOUT_IMAGE_SYNC (default: 1h)
//   - HATCHERY_TIMEOUT_IMAGE_VALIDATION (default: 30m)
//   - HATCHERY_TIMEOUT_DEPLOY_COMPLETE (default: 2h)
//   - HATCHERY_RETRY_MAX_ATTEMPTS (default: 5)
//   - HATCHERY_RETRY_INITIAL_DELAY (default: 1s)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		Request:           parseDuration("HATCHERY_TIMEOUT_REQUEST", 30*time.Second),
		ImageSync:         parseDuration("HATCHERY_TIMEOUT_IMAGE_SYNC", time.Hour),
		ImageValidation:   parseDuration("HATCHERY_TIMEOUT_IMAGE_VALIDATION", 30*time.Minute),
		DeployComplete:    parseDuration("HATCHERY_TIMEOUT_DEPLOY_COMPLETE", 2*time.Hour),
		RetryMaxAttempts:  parseInt("HATCHERY_RETRY_MAX_ATTEMPTS", 5),
		RetryInitialDelay: parseDuration("HATCHERY_RETRY_INITIAL_DELAY", time.Second),
	}
}

func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}
