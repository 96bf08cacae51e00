package model

import "time"

// EggType identifies what kind of provisioning capability an egg carries.
type EggType string

const (
	EggSnap         EggType = "snap"
	EggCloudInit    EggType = "cloud-init"
	EggLXDContainer EggType = "lxd-container"
	EggLXDVM        EggType = "lxd-vm"
)

// Egg is a declarative, composable provisioning capability. The composer
// resolves egg dependency graphs into a single cloud-init document.
type Egg struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Type     EggType `json:"type"`
	Version  string  `json:"version"`
	Category string  `json:"category"`

	// Snap payload.
	SnapChannel string `json:"snap_channel,omitempty"`
	SnapClassic bool   `json:"snap_classic,omitempty"`

	// Raw cloud-init payload.
	CloudInit string `json:"cloud_init,omitempty"`

	// LXD payload.
	LXDImageAlias string   `json:"lxd_image_alias,omitempty"`
	LXDProfiles   []string `json:"lxd_profiles,omitempty"`

	// Dependencies are egg ids that must be rendered before this egg.
	Dependencies []string `json:"dependencies,omitempty"`

	// Minimum resource requirements on the target machine.
	MinRAMMB     int64  `json:"min_ram_mb,omitempty"`
	MinDiskGB    int64  `json:"min_disk_gb,omitempty"`
	Architecture string `json:"architecture,omitempty"` // empty means any

	IsActive           bool   `json:"is_active"`
	IsDefault          bool   `json:"is_default"`
	IsHypervisorConfig bool   `json:"is_hypervisor_config"`
	Checksum           string `json:"checksum,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EggGroup is a named, ordered preset of egg ids reused across deployments.
// Member ids are validated at composition time, not at storage time.
type EggGroup struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	EggIDs      []string  `json:"egg_ids"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
