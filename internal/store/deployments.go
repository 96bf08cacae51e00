package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hatchery-sh/hatchery/internal/model"
)

const deploymentColumns = `id, machine_id, image_id, boot_config_id, egg_ids,
	status, progress_percent, principal, retry_of, needs_review, error_message,
	created_at, started_at, completed_at`

// DeploymentFilter narrows ListDeployments. Zero values mean no constraint.
type DeploymentFilter struct {
	MachineID string
	Status    model.DeploymentStatus
	Limit     int
}

// CreateDeployment inserts a new deployment. The partial unique index on
// active statuses makes the one-active-deployment-per-machine check atomic
// with the insert; a violation surfaces as ErrActiveDeploymentExists.
func (s *Store) CreateDeployment(ctx context.Context, d *model.Deployment) error {
	d.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments (`+deploymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.MachineID, d.ImageID, d.BootConfigID, marshalStrings(d.EggIDs),
		string(d.Status), d.ProgressPercent, d.Principal, d.RetryOf, d.NeedsReview, d.ErrorMessage,
		d.CreatedAt, nullTime(d.StartedAt), nullTime(d.CompletedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("machine %s: %w", d.MachineID, ErrActiveDeploymentExists)
	}
	if err != nil {
		return fmt.Errorf("creating deployment %s: %w", d.ID, err)
	}
	return nil
}

// UpdateDeployment replaces the mutable fields of a deployment record.
// The write is conditional on the stored status still being non-terminal,
// so a racing writer holding a stale copy cannot overwrite a record that
// has since completed, failed, or been cancelled.
func (s *Store) UpdateDeployment(ctx context.Context, d *model.Deployment) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET status = ?, progress_percent = ?, needs_review = ?,
			error_message = ?, started_at = ?, completed_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed', 'cancelled')`,
		string(d.Status), d.ProgressPercent, d.NeedsReview,
		d.ErrorMessage, nullTime(d.StartedAt), nullTime(d.CompletedAt), d.ID)
	if err != nil {
		return fmt.Errorf("updating deployment %s: %w", d.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		stored, getErr := s.GetDeployment(ctx, d.ID)
		if getErr != nil {
			return getErr
		}
		if stored.Status.Terminal() {
			return fmt.Errorf("deployment %s is %s: %w", d.ID, stored.Status, ErrDeploymentTerminal)
		}
		return fmt.Errorf("deployment %s: %w", d.ID, ErrNotFound)
	}
	return nil
}

func scanDeployment(row interface{ Scan(...any) error }) (*model.Deployment, error) {
	var (
		d         model.Deployment
		status    string
		eggIDs    string
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.MachineID, &d.ImageID, &d.BootConfigID, &eggIDs,
		&status, &d.ProgressPercent, &d.Principal, &d.RetryOf, &d.NeedsReview, &d.ErrorMessage,
		&d.CreatedAt, &started, &completed)
	if err != nil {
		return nil, err
	}
	d.Status = model.DeploymentStatus(status)
	d.EggIDs = unmarshalStrings(eggIDs)
	if started.Valid {
		t := started.Time
		d.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		d.CompletedAt = &t
	}
	return &d, nil
}

// GetDeployment returns one deployment by id.
func (s *Store) GetDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, id)
	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading deployment %s: %w", id, err)
	}
	return d, nil
}

// ListDeployments returns deployments matching the filter, newest first.
func (s *Store) ListDeployments(ctx context.Context, f DeploymentFilter) ([]*model.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments`
	var (
		conds []string
		args  []any
	)
	if f.MachineID != "" {
		conds = append(conds, "machine_id = ?")
		args = append(args, f.MachineID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	defer rows.Close()

	var deployments []*model.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning deployment: %w", err)
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// ActiveDeploymentForMachine returns the machine's pending or in-progress
// deployment, or ErrNotFound when the machine is idle.
func (s *Store) ActiveDeploymentForMachine(ctx context.Context, machineID string) (*model.Deployment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments
		 WHERE machine_id = ? AND status IN (?, ?)`,
		machineID, string(model.DeploymentPending), string(model.DeploymentInProgress))
	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active deployment for machine %s: %w", machineID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading active deployment for machine %s: %w", machineID, err)
	}
	return d, nil
}

// CountActiveDeploymentsForImage reports how many pending or in-progress
// deployments reference the image. Retention defers deleting images that
// are still in flight.
func (s *Store) CountActiveDeploymentsForImage(ctx context.Context, imageID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deployments WHERE image_id = ? AND status IN (?, ?)`,
		imageID, string(model.DeploymentPending), string(model.DeploymentInProgress)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active deployments for image %s: %w", imageID, err)
	}
	return n, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
