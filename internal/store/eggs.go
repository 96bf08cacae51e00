package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hatchery-sh/hatchery/internal/model"
)

const eggColumns = `id, name, type, version, category,
	snap_channel, snap_classic, cloud_init, lxd_image_alias, lxd_profiles,
	dependencies, min_ram_mb, min_disk_gb, architecture,
	is_active, is_default, is_hypervisor_config, checksum, created_at, updated_at`

// CreateEgg inserts a new egg definition.
func (s *Store) CreateEgg(ctx context.Context, e *model.Egg) error {
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO eggs (`+eggColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, string(e.Type), e.Version, e.Category,
		e.SnapChannel, e.SnapClassic, e.CloudInit, e.LXDImageAlias, marshalStrings(e.LXDProfiles),
		marshalStrings(e.Dependencies), e.MinRAMMB, e.MinDiskGB, e.Architecture,
		e.IsActive, e.IsDefault, e.IsHypervisorConfig, e.Checksum, e.CreatedAt, e.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("egg name %q: %w", e.Name, ErrNameTaken)
	}
	if err != nil {
		return fmt.Errorf("creating egg %s: %w", e.Name, err)
	}
	return nil
}

// UpdateEgg replaces a stored egg definition.
func (s *Store) UpdateEgg(ctx context.Context, e *model.Egg) error {
	e.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE eggs SET name = ?, type = ?, version = ?, category = ?,
			snap_channel = ?, snap_classic = ?, cloud_init = ?, lxd_image_alias = ?, lxd_profiles = ?,
			dependencies = ?, min_ram_mb = ?, min_disk_gb = ?, architecture = ?,
			is_active = ?, is_default = ?, is_hypervisor_config = ?, checksum = ?, updated_at = ?
		WHERE id = ?`,
		e.Name, string(e.Type), e.Version, e.Category,
		e.SnapChannel, e.SnapClassic, e.CloudInit, e.LXDImageAlias, marshalStrings(e.LXDProfiles),
		marshalStrings(e.Dependencies), e.MinRAMMB, e.MinDiskGB, e.Architecture,
		e.IsActive, e.IsDefault, e.IsHypervisorConfig, e.Checksum, e.UpdatedAt, e.ID)
	if err != nil {
		return fmt.Errorf("updating egg %s: %w", e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("egg %s: %w", e.ID, ErrNotFound)
	}
	return nil
}

func scanEgg(row interface{ Scan(...any) error }) (*model.Egg, error) {
	var (
		e        model.Egg
		eggType  string
		profiles string
		deps     string
	)
	err := row.Scan(
		&e.ID, &e.Name, &eggType, &e.Version, &e.Category,
		&e.SnapChannel, &e.SnapClassic, &e.CloudInit, &e.LXDImageAlias, &profiles,
		&deps, &e.MinRAMMB, &e.MinDiskGB, &e.Architecture,
		&e.IsActive, &e.IsDefault, &e.IsHypervisorConfig, &e.Checksum, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Type = model.EggType(eggType)
	e.LXDProfiles = unmarshalStrings(profiles)
	e.Dependencies = unmarshalStrings(deps)
	return &e, nil
}

// GetEgg returns one egg by id.
func (s *Store) GetEgg(ctx context.Context, id string) (*model.Egg, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eggColumns+` FROM eggs WHERE id = ?`, id)
	e, err := scanEgg(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("egg %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading egg %s: %w", id, err)
	}
	return e, nil
}

// ListEggs returns all eggs, optionally only active ones.
func (s *Store) ListEggs(ctx context.Context, activeOnly bool) ([]*model.Egg, error) {
	query := `SELECT ` + eggColumns + ` FROM eggs`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing eggs: %w", err)
	}
	defer rows.Close()

	var eggs []*model.Egg
	for rows.Next() {
		e, err := scanEgg(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning egg: %w", err)
		}
		eggs = append(eggs, e)
	}
	return eggs, rows.Err()
}

// DeleteEgg removes an egg definition.
func (s *Store) DeleteEgg(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM eggs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting egg %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("egg %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Egg groups ---

// CreateEggGroup inserts a new egg group.
func (s *Store) CreateEggGroup(ctx context.Context, g *model.EggGroup) error {
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO egg_groups (id, name, description, egg_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.Description, marshalStrings(g.EggIDs), g.CreatedAt, g.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("egg group name %q: %w", g.Name, ErrNameTaken)
	}
	if err != nil {
		return fmt.Errorf("creating egg group %s: %w", g.Name, err)
	}
	return nil
}

// GetEggGroup returns one egg group by id.
func (s *Store) GetEggGroup(ctx context.Context, id string) (*model.EggGroup, error) {
	var (
		g      model.EggGroup
		eggIDs string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, egg_ids, created_at, updated_at FROM egg_groups WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &g.Description, &eggIDs, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("egg group %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading egg group %s: %w", id, err)
	}
	g.EggIDs = unmarshalStrings(eggIDs)
	return &g, nil
}

// ListEggGroups returns all egg groups.
func (s *Store) ListEggGroups(ctx context.Context) ([]*model.EggGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, egg_ids, created_at, updated_at FROM egg_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing egg groups: %w", err)
	}
	defer rows.Close()

	var groups []*model.EggGroup
	for rows.Next() {
		var (
			g      model.EggGroup
			eggIDs string
		)
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &eggIDs, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning egg group: %w", err)
		}
		g.EggIDs = unmarshalStrings(eggIDs)
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// DeleteEggGroup removes an egg group.
func (s *Store) DeleteEggGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM egg_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting egg group %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("egg group %s: %w", id, ErrNotFound)
	}
	return nil
}
