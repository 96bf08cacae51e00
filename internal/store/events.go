package store

import (
	"context"
	"fmt"
	"time"

	"github.com/hatchery-sh/hatchery/internal/model"
)

// AppendDeploymentEvent appends one event to a deployment's log and fills
// in the assigned id and timestamp.
func (s *Store) AppendDeploymentEvent(ctx context.Context, ev *model.DeploymentEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO deployment_events (deployment_id, type, message, timestamp)
		VALUES (?, ?, ?, ?)`,
		ev.DeploymentID, ev.Type, ev.Message, ev.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("appending event to deployment %s: %w", ev.DeploymentID, err)
	}
	ev.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading event id for deployment %s: %w", ev.DeploymentID, err)
	}
	return nil
}

// ListDeploymentEvents returns a deployment's event log in append order.
func (s *Store) ListDeploymentEvents(ctx context.Context, deploymentID string) ([]*model.DeploymentEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deployment_id, type, message, timestamp
		 FROM deployment_events WHERE deployment_id = ? ORDER BY id`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("listing events for deployment %s: %w", deploymentID, err)
	}
	defer rows.Close()

	var events []*model.DeploymentEvent
	for rows.Next() {
		var ev model.DeploymentEvent
		if err := rows.Scan(&ev.ID, &ev.DeploymentID, &ev.Type, &ev.Message, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
