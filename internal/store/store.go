// Package store provides SQLite persistence for machines, eggs, images,
// boot configs, deployments, and scheduler state.
//
// The schema is created automatically on open. The one-active-deployment-
// per-machine invariant is enforced by a partial unique index, so the
// check-and-insert in CreateDeployment is atomic even under concurrent
// submissions.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrActiveDeploymentExists is returned by CreateDeployment when the
	// machine already has a pending or in-progress deployment.
	ErrActiveDeploymentExists = errors.New("an active deployment already exists for this machine")

	// ErrNameTaken is returned when an insert collides with a unique
	// name constraint.
	ErrNameTaken = errors.New("name already in use")

	// ErrDeploymentTerminal is returned by UpdateDeployment when the
	// stored record is already completed, failed, or cancelled.
	// Terminal records are immutable; retry creates a new one.
	ErrDeploymentTerminal = errors.New("deployment is already terminal")
)

// Store is the shared persistence layer. It is safe for concurrent use;
// SQLite serializes writers and WAL mode keeps readers unblocked.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path. Parent directories
// are created if needed.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	log.Printf("store: opened %s", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS machines (
			id TEXT PRIMARY KEY,
			hostname TEXT NOT NULL,
			mac_addresses TEXT NOT NULL DEFAULT '[]',
			ip_addresses TEXT NOT NULL DEFAULT '[]',
			architecture TEXT NOT NULL DEFAULT '',
			cpu_count INTEGER NOT NULL DEFAULT 0,
			memory_mb INTEGER NOT NULL DEFAULT 0,
			disk_gb INTEGER NOT NULL DEFAULT 0,
			power_type TEXT NOT NULL DEFAULT '',
			power_address TEXT NOT NULL DEFAULT '',
			zone TEXT NOT NULL DEFAULT '',
			pool TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			provisioning_status TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			revision INTEGER NOT NULL DEFAULT 0,
			last_heartbeat DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			removed_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS eggs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			version TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			snap_channel TEXT NOT NULL DEFAULT '',
			snap_classic INTEGER NOT NULL DEFAULT 0,
			cloud_init TEXT NOT NULL DEFAULT '',
			lxd_image_alias TEXT NOT NULL DEFAULT '',
			lxd_profiles TEXT NOT NULL DEFAULT '[]',
			dependencies TEXT NOT NULL DEFAULT '[]',
			min_ram_mb INTEGER NOT NULL DEFAULT 0,
			min_disk_gb INTEGER NOT NULL DEFAULT 0,
			architecture TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			is_default INTEGER NOT NULL DEFAULT 0,
			is_hypervisor_config INTEGER NOT NULL DEFAULT 0,
			checksum TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS egg_groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			egg_ids TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS images (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			architecture TEXT NOT NULL,
			kernel TEXT NOT NULL DEFAULT '',
			initrd TEXT NOT NULL DEFAULT '',
			rootfs TEXT NOT NULL DEFAULT '',
			size_bytes INTEGER NOT NULL DEFAULT 0,
			checksum TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			is_default INTEGER NOT NULL DEFAULT 0,
			backend_id TEXT NOT NULL DEFAULT '',
			release_date DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_images_track
			ON images(name, architecture);

		CREATE TABLE IF NOT EXISTS boot_configs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			boot_type TEXT NOT NULL,
			kernel_params TEXT NOT NULL DEFAULT '',
			template TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS deployments (
			id TEXT PRIMARY KEY,
			machine_id TEXT NOT NULL,
			image_id TEXT NOT NULL,
			boot_config_id TEXT NOT NULL,
			egg_ids TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			progress_percent INTEGER NOT NULL DEFAULT 0,
			principal TEXT NOT NULL DEFAULT 'anonymous',
			retry_of TEXT NOT NULL DEFAULT '',
			needs_review INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_deployments_one_active_per_machine
			ON deployments(machine_id) WHERE status IN ('pending', 'in_progress');

		CREATE INDEX IF NOT EXISTS idx_deployments_machine
			ON deployments(machine_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_deployments_image
			ON deployments(image_id);

		CREATE TABLE IF NOT EXISTS deployment_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			deployment_id TEXT NOT NULL,
			type TEXT NOT NULL,
			message TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			FOREIGN KEY (deployment_id) REFERENCES deployments(id)
		);

		CREATE INDEX IF NOT EXISTS idx_deployment_events_deployment
			ON deployment_events(deployment_id, id);

		CREATE TABLE IF NOT EXISTS scheduler_state (
			name TEXT PRIMARY KEY,
			last_run DATETIME NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation reports whether err is a SQLite unique-constraint
// failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func marshalStrings(values []string) string {
	if values == nil {
		values = []string{}
	}
	data, _ := json.Marshal(values)
	return string(data)
}

func unmarshalStrings(data string) []string {
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil
	}
	return values
}
