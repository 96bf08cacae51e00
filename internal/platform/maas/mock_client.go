package maas

import "context"

// MockClient is a func-field mock implementation of BackendManager. Fields
// left nil fall back to benign defaults so tests only stub what they assert.
type MockClient struct {
	ListMachinesFunc    func(ctx context.Context, filter MachineFilter) (*MachineList, error)
	GetMachineFunc      func(ctx context.Context, machineID string) (*MachineSnapshot, error)
	CommissionFunc      func(ctx context.Context, machineID string, opts CommissionOptions) (string, error)
	DeployFunc          func(ctx context.Context, machineID string, image ImageRef, userData string) (string, error)
	ReleaseFunc         func(ctx context.Context, machineID string) error
	PowerFunc           func(ctx context.Context, machineID string, action PowerAction) error
	ImportImageFunc     func(ctx context.Context, spec ImportSpec) (string, error)
	GetImportStatusFunc func(ctx context.Context, backendImageID string) (*ImportStatus, error)
	DeleteImageFunc     func(ctx context.Context, backendImageID string) error
}

var _ BackendManager = (*MockClient)(nil)

func (m *MockClient) ListMachines(ctx context.Context, filter MachineFilter) (*MachineList, error) {
	if m.ListMachinesFunc != nil {
		return m.ListMachinesFunc(ctx, filter)
	}
	return &MachineList{}, nil
}

func (m *MockClient) GetMachine(ctx context.Context, machineID string) (*MachineSnapshot, error) {
	if m.GetMachineFunc != nil {
		return m.GetMachineFunc(ctx, machineID)
	}
	return &MachineSnapshot{SystemID: machineID, Status: "Ready"}, nil
}

func (m *MockClient) Commission(ctx context.Context, machineID string, opts CommissionOptions) (string, error) {
	if m.CommissionFunc != nil {
		return m.CommissionFunc(ctx, machineID, opts)
	}
	return "mock-commission-job", nil
}

func (m *MockClient) Deploy(ctx context.Context, machineID string, image ImageRef, userData string) (string, error) {
	if m.DeployFunc != nil {
		return m.DeployFunc(ctx, machineID, image, userData)
	}
	return "mock-deploy-job", nil
}

func (m *MockClient) Release(ctx context.Context, machineID string) error {
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, machineID)
	}
	return nil
}

func (m *MockClient) Power(ctx context.Context, machineID string, action PowerAction) error {
	if m.PowerFunc != nil {
		return m.PowerFunc(ctx, machineID, action)
	}
	return nil
}

func (m *MockClient) ImportImage(ctx context.Context, spec ImportSpec) (string, error) {
	if m.ImportImageFunc != nil {
		return m.ImportImageFunc(ctx, spec)
	}
	return "mock-image-id", nil
}

func (m *MockClient) GetImportStatus(ctx context.Context, backendImageID string) (*ImportStatus, error) {
	if m.GetImportStatusFunc != nil {
		return m.GetImportStatusFunc(ctx, backendImageID)
	}
	return &ImportStatus{BackendID: backendImageID, Complete: true}, nil
}

func (m *MockClient) DeleteImage(ctx context.Context, backendImageID string) error {
	if m.DeleteImageFunc != nil {
		return m.DeleteImageFunc(ctx, backendImageID)
	}
	return nil
}
