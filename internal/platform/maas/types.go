package maas

import (
	"time"

	"github.com/hatchery-sh/hatchery/internal/model"
)

// MachineSnapshot is the backend's view of one machine. The same shape
// arrives via poll responses and webhook pushes, so the tracker consumes
// both through a single code path.
type MachineSnapshot struct {
	SystemID      string   `json:"system_id"`
	Hostname      string   `json:"hostname"`
	Architecture  string   `json:"architecture"`
	Status        string   `json:"status_name"`
	StatusMessage string   `json:"status_message"`
	ErrorMessage  string   `json:"error_description,omitempty"`
	ActionID      string   `json:"status_action_id,omitempty"`
	PowerType     string   `json:"power_type"`
	PowerAddress  string   `json:"power_address,omitempty"`
	CPUCount      int      `json:"cpu_count"`
	MemoryMB      int64    `json:"memory"`
	DiskGB        int64    `json:"storage"`
	MACAddresses  []string `json:"mac_addresses"`
	IPAddresses   []string `json:"ip_addresses"`
	Zone          string   `json:"zone"`
	Pool          string   `json:"pool"`
	Tags          []string `json:"tag_names,omitempty"`

	// Revision is the backend's monotonic change counter for this machine.
	// Snapshots with a lower revision than the last applied one are stale
	// and must be discarded regardless of local receipt order.
	Revision  int64     `json:"revision"`
	UpdatedAt time.Time `json:"updated"`
}

// backendStatusNames maps backend status strings to local lifecycle
// statuses. Unrecognized names map to MachineUnknown; the tracker logs and
// skips those rather than guessing.
var backendStatusNames = map[string]model.MachineStatus{
	"New":                  model.MachineDiscovered,
	"Commissioning":        model.MachineCommissioning,
	"Testing":              model.MachineCommissioning,
	"Ready":                model.MachineReady,
	"Allocated":            model.MachineReady,
	"Deploying":            model.MachineDeploying,
	"Deployed":             model.MachineDeployed,
	"Releasing":            model.MachineDeployed,
	"Failed commissioning": model.MachineFailed,
	"Failed testing":       model.MachineFailed,
	"Failed deployment":    model.MachineFailed,
	"Failed releasing":     model.MachineFailed,
	"Broken":               model.MachineFailed,
}

// LifecycleStatus translates the backend status name into the local state
// machine's vocabulary. This is the only place backend status strings are
// interpreted.
func (s *MachineSnapshot) LifecycleStatus() model.MachineStatus {
	if st, ok := backendStatusNames[s.Status]; ok {
		return st
	}
	return model.MachineUnknown
}

// MachineFilter narrows ListMachines results. Zero values match everything.
type MachineFilter struct {
	Hostnames []string
	Zone      string
	Pool      string
	Tags      []string
}

// MachineList is a page-capped listing result. Truncated is set when the
// backend had more machines than the client's hard cap.
type MachineList struct {
	Machines  []MachineSnapshot
	Truncated bool
}

// CommissionOptions tunes a commission call.
type CommissionOptions struct {
	SkipNetworking bool
	SkipStorage    bool
	TestScripts    []string
}

// ImageRef names the image a deploy call boots into.
type ImageRef struct {
	BackendID    string
	Name         string
	Version      string
	Architecture string
}

// ImportSpec describes an image import request.
type ImportSpec struct {
	Name         string
	Version      string
	Architecture string
	UpstreamURL  string
	Checksum     string
}

// ImportStatus is the backend's sync progress for an imported image.
type ImportStatus struct {
	BackendID string
	Complete  bool
	SizeBytes int64
	Checksum  string
}

// PowerAction is a power-control verb. Execution is fire-and-forget;
// completion is observed via subsequent machine snapshots.
type PowerAction string

const (
	PowerOn    PowerAction = "power_on"
	PowerOff   PowerAction = "power_off"
	PowerCycle PowerAction = "power_cycle"
	PowerQuery PowerAction = "power_query"
)
