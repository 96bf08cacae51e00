// Package model defines the domain records shared across the orchestration core.
package model

import "time"

// MachineStatus is the lifecycle status of a managed machine.
type MachineStatus string

const (
	MachineUnknown       MachineStatus = "unknown"
	MachineDiscovered    MachineStatus = "discovered"
	MachineCommissioning MachineStatus = "commissioning"
	MachineReady         MachineStatus = "ready"
	MachineDeploying     MachineStatus = "deploying"
	MachineDeployed      MachineStatus = "deployed"
	MachineFailed        MachineStatus = "failed"
)

// Machine is the canonical local record of one physical server.
// Status transitions are owned exclusively by the tracker; other components
// read the record and ask the backend to act.
type Machine struct {
	ID                 string        `json:"id"`
	Hostname           string        `json:"hostname"`
	MACAddresses       []string      `json:"mac_addresses"`
	IPAddresses        []string      `json:"ip_addresses"`
	Architecture       string        `json:"architecture"`
	CPUCount           int           `json:"cpu_count"`
	MemoryMB           int64         `json:"memory_mb"`
	DiskGB             int64         `json:"disk_gb"`
	PowerType          string        `json:"power_type"`
	PowerAddress       string        `json:"power_address"`
	Zone               string        `json:"zone"`
	Pool               string        `json:"pool"`
	Status             MachineStatus `json:"status"`
	ProvisioningStatus string        `json:"provisioning_status"`
	ErrorMessage       string        `json:"error_message,omitempty"`
	Tags               []string      `json:"tags,omitempty"`
	Revision           int64         `json:"revision"`
	LastHeartbeat      time.Time     `json:"last_heartbeat"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	RemovedAt          *time.Time    `json:"removed_at,omitempty"`
}

// HasTag reports whether the machine carries the given backend tag.
func (m *Machine) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
