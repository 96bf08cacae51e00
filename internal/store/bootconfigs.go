package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hatchery-sh/hatchery/internal/model"
)

// CreateBootConfig inserts a new boot-script template.
func (s *Store) CreateBootConfig(ctx context.Context, bc *model.BootConfig) error {
	now := time.Now().UTC()
	bc.CreatedAt = now
	bc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boot_configs (id, name, boot_type, kernel_params, template, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		bc.ID, bc.Name, string(bc.BootType), bc.KernelParams, bc.Template, bc.CreatedAt, bc.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("boot config name %q: %w", bc.Name, ErrNameTaken)
	}
	if err != nil {
		return fmt.Errorf("creating boot config %s: %w", bc.Name, err)
	}
	return nil
}

// UpdateBootConfig replaces a stored boot config.
func (s *Store) UpdateBootConfig(ctx context.Context, bc *model.BootConfig) error {
	bc.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE boot_configs SET name = ?, boot_type = ?, kernel_params = ?, template = ?, updated_at = ?
		WHERE id = ?`,
		bc.Name, string(bc.BootType), bc.KernelParams, bc.Template, bc.UpdatedAt, bc.ID)
	if err != nil {
		return fmt.Errorf("updating boot config %s: %w", bc.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("boot config %s: %w", bc.ID, ErrNotFound)
	}
	return nil
}

// GetBootConfig returns one boot config by id.
func (s *Store) GetBootConfig(ctx context.Context, id string) (*model.BootConfig, error) {
	var (
		bc       model.BootConfig
		bootType string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, boot_type, kernel_params, template, created_at, updated_at
		 FROM boot_configs WHERE id = ?`, id).
		Scan(&bc.ID, &bc.Name, &bootType, &bc.KernelParams, &bc.Template, &bc.CreatedAt, &bc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("boot config %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading boot config %s: %w", id, err)
	}
	bc.BootType = model.BootType(bootType)
	return &bc, nil
}

// ListBootConfigs returns all boot configs.
func (s *Store) ListBootConfigs(ctx context.Context) ([]*model.BootConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, boot_type, kernel_params, template, created_at, updated_at
		 FROM boot_configs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing boot configs: %w", err)
	}
	defer rows.Close()

	var configs []*model.BootConfig
	for rows.Next() {
		var (
			bc       model.BootConfig
			bootType string
		)
		if err := rows.Scan(&bc.ID, &bc.Name, &bootType, &bc.KernelParams, &bc.Template, &bc.CreatedAt, &bc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning boot config: %w", err)
		}
		bc.BootType = model.BootType(bootType)
		configs = append(configs, &bc)
	}
	return configs, rows.Err()
}

// DeleteBootConfig removes a boot config.
func (s *Store) DeleteBootConfig(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM boot_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting boot config %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("boot config %s: %w", id, ErrNotFound)
	}
	return nil
}
