package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LastRun returns when the named scheduled job last ran. A job that has
// never run returns the zero time and no error.
func (s *Store) LastRun(ctx context.Context, name string) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT last_run FROM scheduler_state WHERE name = ?`, name).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("loading last run of %s: %w", name, err)
	}
	return t, nil
}

// SetLastRun records when the named scheduled job last ran. The value
// survives restarts so schedules do not reset on every boot.
func (s *Store) SetLastRun(ctx context.Context, name string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_state (name, last_run) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET last_run = excluded.last_run`,
		name, at.UTC())
	if err != nil {
		return fmt.Errorf("recording last run of %s: %w", name, err)
	}
	return nil
}
