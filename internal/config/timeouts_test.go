package config

import (
	"testing"
	"time"
)

func clearTimeoutEnvVars(t *testing.T) {
	t.Helper()
	for _, v := range []string{
		"HATCHERY_TIMEOUT_REQUEST",
		"HATCHERY_TIMEOUT_IMAGE_SYNC",
		"HATCHERY_TIMEOUT_IMAGE_VALIDATION",
		"HATCHERY_TIMEOUT_DEPLOY_COMPLETE",
		"HATCHERY_RETRY_MAX_ATTEMPTS",
		"HATCHERY_RETRY_INITIAL_DELAY",
	} {
		t.Setenv(v, "")
	}
}

func TestLoadTimeouts_Defaults(t *testing.T) {
	clearTimeoutEnvVars(t)

	timeouts := LoadTimeouts()

	if timeouts.Request != 30*time.Second {
		t.Errorf("Expected Request default 30s, got %v", timeouts.Request)
	}
	if timeouts.ImageSync != time.Hour {
		t.Errorf("Expected ImageSync default 1h, got %v", timeouts.ImageSync)
	}
	if timeouts.ImageValidation != 30*time.Minute {
		t.Errorf("Expected ImageValidation default 30m, got %v", timeouts.ImageValidation)
	}
	if timeouts.DeployComplete != 2*time.Hour {
		t.Errorf("Expected DeployComplete default 2h, got %v", timeouts.DeployComplete)
	}
	if timeouts.RetryMaxAttempts != 5 {
		t.Errorf("Expected RetryMaxAttempts default 5, got %d", timeouts.RetryMaxAttempts)
	}
	if timeouts.RetryInitialDelay != time.Second {
		t.Errorf("Expected RetryInitialDelay default 1s, got %v", timeouts.RetryInitialDelay)
	}
}

func TestLoadTimeouts_FromEnvironment(t *testing.T) {
	clearTimeoutEnvVars(t)
	t.Setenv("HATCHERY_TIMEOUT_IMAGE_SYNC", "10m")
	t.Setenv("HATCHERY_RETRY_MAX_ATTEMPTS", "2")

	timeouts := LoadTimeouts()

	if timeouts.ImageSync != 10*time.Minute {
		t.Errorf("Expected ImageSync 10m, got %v", timeouts.ImageSync)
	}
	if timeouts.RetryMaxAttempts != 2 {
		t.Errorf("Expected RetryMaxAttempts 2, got %d", timeouts.RetryMaxAttempts)
	}
}

func TestLoadTimeouts_InvalidValuesFallBack(t *testing.T) {
	clearTimeoutEnvVars(t)
	t.Setenv("HATCHERY_TIMEOUT_REQUEST", "not-a-duration")
	t.Setenv("HATCHERY_RETRY_MAX_ATTEMPTS", "many")

	timeouts := LoadTimeouts()

	if timeouts.Request != 30*time.Second {
		t.Errorf("Expected fallback to 30s, got %v", timeouts.Request)
	}
	if timeouts.RetryMaxAttempts != 5 {
		t.Errorf("Expected fallback to 5, got %d", timeouts.RetryMaxAttempts)
	}
}
