package model

import "time"

// ImageStatus is the catalog lifecycle state of an OS image.
type ImageStatus string

const (
	ImagePendingImport ImageStatus = "pending_import"
	ImageTesting       ImageStatus = "testing"
	ImageActive        ImageStatus = "active"
	ImageFailed        ImageStatus = "failed"
	ImageSuperseded    ImageStatus = "superseded"
)

// Image is an importable OS image. An image becomes Active only after a
// passing validation deployment; see the images package.
type Image struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"` // release track, e.g. "ubuntu-24.04"
	Version      string      `json:"version"`
	Architecture string      `json:"architecture"`
	Kernel       string      `json:"kernel"`
	Initrd       string      `json:"initrd"`
	RootFS       string      `json:"rootfs"`
	SizeBytes    int64       `json:"size_bytes"`
	Checksum     string      `json:"checksum"`
	Status       ImageStatus `json:"status"`
	IsDefault    bool        `json:"is_default"`
	BackendID    string      `json:"backend_id,omitempty"`
	ReleaseDate  time.Time   `json:"release_date"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// BootType selects which firmware the boot script targets.
type BootType string

const (
	BootUEFI BootType = "uefi"
	BootBIOS BootType = "bios"
	BootBoth BootType = "both"
)

// BootConfig is a named boot-script template bound to a boot type and a
// kernel parameter string. The template body is iPXE/GRUB text with
// placeholders for image artifact URLs.
type BootConfig struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	BootType     BootType  `json:"boot_type"`
	KernelParams string    `json:"kernel_params"`
	Template     string    `json:"template"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
