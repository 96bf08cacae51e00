package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hatchery-sh/hatchery/internal/model"
)

// UpsertMachine inserts or replaces the machine record. The tracker is the
// only writer; timestamps are maintained here.
func (s *Store) UpsertMachine(ctx context.Context, m *model.Machine) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	var removedAt sql.NullTime
	if m.RemovedAt != nil {
		removedAt = sql.NullTime{Time: *m.RemovedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO machines (
			id, hostname, mac_addresses, ip_addresses, architecture,
			cpu_count, memory_mb, disk_gb, power_type, power_address,
			zone, pool, status, provisioning_status, error_message,
			tags, revision, last_heartbeat, created_at, updated_at, removed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hostname = excluded.hostname,
			mac_addresses = excluded.mac_addresses,
			ip_addresses = excluded.ip_addresses,
			architecture = excluded.architecture,
			cpu_count = excluded.cpu_count,
			memory_mb = excluded.memory_mb,
			disk_gb = excluded.disk_gb,
			power_type = excluded.power_type,
			power_address = excluded.power_address,
			zone = excluded.zone,
			pool = excluded.pool,
			status = excluded.status,
			provisioning_status = excluded.provisioning_status,
			error_message = excluded.error_message,
			tags = excluded.tags,
			revision = excluded.revision,
			last_heartbeat = excluded.last_heartbeat,
			updated_at = excluded.updated_at,
			removed_at = excluded.removed_at`,
		m.ID, m.Hostname, marshalStrings(m.MACAddresses), marshalStrings(m.IPAddresses), m.Architecture,
		m.CPUCount, m.MemoryMB, m.DiskGB, m.PowerType, m.PowerAddress,
		m.Zone, m.Pool, string(m.Status), m.ProvisioningStatus, m.ErrorMessage,
		marshalStrings(m.Tags), m.Revision, m.LastHeartbeat, m.CreatedAt, m.UpdatedAt, removedAt)
	if err != nil {
		return fmt.Errorf("upserting machine %s: %w", m.ID, err)
	}
	return nil
}

const machineColumns = `id, hostname, mac_addresses, ip_addresses, architecture,
	cpu_count, memory_mb, disk_gb, power_type, power_address,
	zone, pool, status, provisioning_status, error_message,
	tags, revision, last_heartbeat, created_at, updated_at, removed_at`

func scanMachine(row interface{ Scan(...any) error }) (*model.Machine, error) {
	var (
		m         model.Machine
		macs      string
		ips       string
		tags      string
		status    string
		removedAt sql.NullTime
	)
	err := row.Scan(
		&m.ID, &m.Hostname, &macs, &ips, &m.Architecture,
		&m.CPUCount, &m.MemoryMB, &m.DiskGB, &m.PowerType, &m.PowerAddress,
		&m.Zone, &m.Pool, &status, &m.ProvisioningStatus, &m.ErrorMessage,
		&tags, &m.Revision, &m.LastHeartbeat, &m.CreatedAt, &m.UpdatedAt, &removedAt)
	if err != nil {
		return nil, err
	}
	m.MACAddresses = unmarshalStrings(macs)
	m.IPAddresses = unmarshalStrings(ips)
	m.Tags = unmarshalStrings(tags)
	m.Status = model.MachineStatus(status)
	if removedAt.Valid {
		t := removedAt.Time
		m.RemovedAt = &t
	}
	return &m, nil
}

// GetMachine returns one machine by backend id.
func (s *Store) GetMachine(ctx context.Context, id string) (*model.Machine, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE id = ?`, id)
	m, err := scanMachine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("machine %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading machine %s: %w", id, err)
	}
	return m, nil
}

// ListMachines returns all machines, excluding soft-removed ones unless
// includeRemoved is set.
func (s *Store) ListMachines(ctx context.Context, includeRemoved bool) ([]*model.Machine, error) {
	query := `SELECT ` + machineColumns + ` FROM machines`
	if !includeRemoved {
		query += ` WHERE removed_at IS NULL`
	}
	query += ` ORDER BY hostname`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing machines: %w", err)
	}
	defer rows.Close()

	var machines []*model.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning machine: %w", err)
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

// MarkMachineRemoved soft-removes a machine that disappeared from the
// backend. History rows referencing it stay intact.
func (s *Store) MarkMachineRemoved(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE machines SET removed_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("removing machine %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("machine %s: %w", id, ErrNotFound)
	}
	return nil
}
