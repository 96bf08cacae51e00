package maas

import (
	"context"
)

// MachineManager defines machine inventory and lifecycle operations.
type MachineManager interface {
	// ListMachines returns machine snapshots matching the filter. An empty
	// result is not an error. The result carries Truncated when the
	// client's hard cap was reached.
	ListMachines(ctx context.Context, filter MachineFilter) (*MachineList, error)

	// GetMachine returns the snapshot for one machine.
	GetMachine(ctx context.Context, machineID string) (*MachineSnapshot, error)

	// Commission starts hardware discovery/testing and returns the backend
	// job token. Idempotent: commissioning an already-commissioning machine
	// returns the existing token.
	Commission(ctx context.Context, machineID string, opts CommissionOptions) (string, error)

	// Deploy installs the image plus rendered user data onto the machine
	// and returns the backend job token. Deployable-state preconditions are
	// checked backend-side; a 409-class response surfaces as a conflict.
	Deploy(ctx context.Context, machineID string, image ImageRef, userData string) (string, error)

	// Release returns a deployed machine to the ready pool.
	Release(ctx context.Context, machineID string) error
}

// PowerManager defines power control. Calls are fire-and-forget; the
// outcome is observed through later machine snapshots, not the return.
type PowerManager interface {
	Power(ctx context.Context, machineID string, action PowerAction) error
}

// ImageManager defines image import and deletion on the backend.
type ImageManager interface {
	ImportImage(ctx context.Context, spec ImportSpec) (string, error)
	GetImportStatus(ctx context.Context, backendImageID string) (*ImportStatus, error)
	DeleteImage(ctx context.Context, backendImageID string) error
}

// BackendManager combines every backend concern. No component outside this
// package talks to the backend directly.
type BackendManager interface {
	MachineManager
	PowerManager
	ImageManager
}
