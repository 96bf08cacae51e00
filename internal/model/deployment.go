package model

import "time"

// DeploymentStatus is the job status of one deployment attempt.
type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "pending"
	DeploymentInProgress DeploymentStatus = "in_progress"
	DeploymentCompleted  DeploymentStatus = "completed"
	DeploymentFailed     DeploymentStatus = "failed"
	DeploymentCancelled  DeploymentStatus = "cancelled"
)

// Terminal reports whether the status is an end state. Terminal deployments
// are immutable; retry creates a new record.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case DeploymentCompleted, DeploymentFailed, DeploymentCancelled:
		return true
	}
	return false
}

// Active reports whether the status counts against the one-active-job-per-
// machine invariant.
func (s DeploymentStatus) Active() bool {
	return s == DeploymentPending || s == DeploymentInProgress
}

// Deployment is one attempt to provision a specific machine with an image,
// a boot config, and an ordered set of eggs.
type Deployment struct {
	ID              string           `json:"id"`
	MachineID       string           `json:"machine_id"`
	ImageID         string           `json:"image_id"`
	BootConfigID    string           `json:"boot_config_id"`
	EggIDs          []string         `json:"egg_ids"`
	Status          DeploymentStatus `json:"status"`
	ProgressPercent int              `json:"progress_percent"`
	Principal       string           `json:"principal"`
	RetryOf         string           `json:"retry_of,omitempty"`
	NeedsReview     bool             `json:"needs_review"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// DeploymentEvent is one line of a deployment's audit/event log. Events are
// appended by the job engine and served verbatim by the logs endpoint.
type DeploymentEvent struct {
	ID           int64     `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	Type         string    `json:"type"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}
