package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hatchery-sh/hatchery/internal/model"
)

const imageColumns = `id, name, version, architecture, kernel, initrd, rootfs,
	size_bytes, checksum, status, is_default, backend_id, release_date, created_at, updated_at`

// CreateImage inserts a new catalog image.
func (s *Store) CreateImage(ctx context.Context, img *model.Image) error {
	now := time.Now().UTC()
	img.CreatedAt = now
	img.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO images (`+imageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.Name, img.Version, img.Architecture, img.Kernel, img.Initrd, img.RootFS,
		img.SizeBytes, img.Checksum, string(img.Status), img.IsDefault, img.BackendID,
		img.ReleaseDate.UTC(), img.CreatedAt, img.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating image %s/%s: %w", img.Name, img.Version, err)
	}
	return nil
}

// UpdateImage replaces a stored image record.
func (s *Store) UpdateImage(ctx context.Context, img *model.Image) error {
	img.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE images SET name = ?, version = ?, architecture = ?, kernel = ?, initrd = ?, rootfs = ?,
			size_bytes = ?, checksum = ?, status = ?, is_default = ?, backend_id = ?,
			release_date = ?, updated_at = ?
		WHERE id = ?`,
		img.Name, img.Version, img.Architecture, img.Kernel, img.Initrd, img.RootFS,
		img.SizeBytes, img.Checksum, string(img.Status), img.IsDefault, img.BackendID,
		img.ReleaseDate.UTC(), img.UpdatedAt, img.ID)
	if err != nil {
		return fmt.Errorf("updating image %s: %w", img.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("image %s: %w", img.ID, ErrNotFound)
	}
	return nil
}

func scanImage(row interface{ Scan(...any) error }) (*model.Image, error) {
	var (
		img    model.Image
		status string
	)
	err := row.Scan(
		&img.ID, &img.Name, &img.Version, &img.Architecture, &img.Kernel, &img.Initrd, &img.RootFS,
		&img.SizeBytes, &img.Checksum, &status, &img.IsDefault, &img.BackendID,
		&img.ReleaseDate, &img.CreatedAt, &img.UpdatedAt)
	if err != nil {
		return nil, err
	}
	img.Status = model.ImageStatus(status)
	return &img, nil
}

// GetImage returns one image by id.
func (s *Store) GetImage(ctx context.Context, id string) (*model.Image, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images WHERE id = ?`, id)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading image %s: %w", id, err)
	}
	return img, nil
}

// ListImages returns all images, newest release first.
func (s *Store) ListImages(ctx context.Context) ([]*model.Image, error) {
	return s.queryImages(ctx, `SELECT `+imageColumns+` FROM images ORDER BY release_date DESC, id`)
}

// ListImagesByTrack returns all images in one release track for an
// architecture, newest release first. Retention and validation both walk
// tracks through this.
func (s *Store) ListImagesByTrack(ctx context.Context, name, architecture string) ([]*model.Image, error) {
	return s.queryImages(ctx,
		`SELECT `+imageColumns+` FROM images WHERE name = ? AND architecture = ?
		 ORDER BY release_date DESC, id`, name, architecture)
}

// ActiveImageForTrack returns the current active image of a track, or
// ErrNotFound when the track has never promoted one.
func (s *Store) ActiveImageForTrack(ctx context.Context, name, architecture string) (*model.Image, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images
		 WHERE name = ? AND architecture = ? AND status = ?
		 ORDER BY release_date DESC LIMIT 1`,
		name, architecture, string(model.ImageActive))
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active image for %s/%s: %w", name, architecture, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading active image for %s/%s: %w", name, architecture, err)
	}
	return img, nil
}

func (s *Store) queryImages(ctx context.Context, query string, args ...any) ([]*model.Image, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	defer rows.Close()

	var images []*model.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// DeleteImage removes an image record. Callers are responsible for removing
// the backend copy first.
func (s *Store) DeleteImage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting image %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("image %s: %w", id, ErrNotFound)
	}
	return nil
}
