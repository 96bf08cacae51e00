package tracker

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatchery-sh/hatchery/internal/model"
	"github.com/hatchery-sh/hatchery/internal/platform/maas"
	"github.com/hatchery-sh/hatchery/internal/store"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.MachineStatus
		want     bool
	}{
		{model.MachineUnknown, model.MachineDiscovered, true},
		{model.MachineDiscovered, model.MachineCommissioning, true},
		{model.MachineCommissioning, model.MachineReady, true},
		{model.MachineCommissioning, model.MachineFailed, true},
		{model.MachineReady, model.MachineDeploying, true},
		{model.MachineDeploying, model.MachineDeployed, true},
		{model.MachineDeploying, model.MachineFailed, true},
		{model.MachineDeployed, model.MachineReady, true},
		{model.MachineFailed, model.MachineCommissioning, true},
		{model.MachineReady, model.MachineReady, true},

		{model.MachineDeploying, model.MachineReady, false},
		{model.MachineDiscovered, model.MachineDeployed, false},
		{model.MachineUnknown, model.MachineReady, false},
		{model.MachineDeployed, model.MachineCommissioning, false},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tc.from, tc.to), func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func newTestTracker(t *testing.T, backend maas.MachineManager) (*Tracker, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "hatchery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, backend, 5*time.Second, 60*time.Second), s
}

func snapshot(id, status string, revision int64) *maas.MachineSnapshot {
	return &maas.MachineSnapshot{
		SystemID:     id,
		Hostname:     "node-" + id,
		Architecture: "amd64",
		Status:       status,
		CPUCount:     8,
		MemoryMB:     32768,
		DiskGB:       480,
		Revision:     revision,
	}
}

func TestObserveCreatesNewMachine(t *testing.T) {
	tr, s := newTestTracker(t, &maas.MockClient{})
	ctx := context.Background()

	require.NoError(t, tr.Observe(ctx, snapshot("m1", "Ready", 1)))

	m, err := s.GetMachine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.MachineReady, m.Status)
	assert.Equal(t, "node-m1", m.Hostname)
	assert.Equal(t, int64(1), m.Revision)
}

func TestObserveStaleRevisionDropped(t *testing.T) {
	tr, s := newTestTracker(t, &maas.MockClient{})
	ctx := context.Background()

	require.NoError(t, tr.Observe(ctx, snapshot("m1", "Deploying", 5)))

	// A delayed earlier snapshot must not roll the status back.
	require.NoError(t, tr.Observe(ctx, snapshot("m1", "Ready", 3)))
	m, err := s.GetMachine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.MachineDeploying, m.Status)

	// Exact replay (webhook redelivery) is a no-op too.
	require.NoError(t, tr.Observe(ctx, snapshot("m1", "Deploying", 5)))
	m, err = s.GetMachine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), m.Revision)
}

func TestObserveConcurrentKeepsHighestRevision(t *testing.T) {
	tr, s := newTestTracker(t, &maas.MockClient{})
	ctx := context.Background()

	require.NoError(t, tr.Observe(ctx, snapshot("m1", "Ready", 1)))

	// Webhook pushes and poll results race on the same machine; whatever
	// the interleaving, the stored record must end at the highest revision.
	var wg sync.WaitGroup
	for rev := int64(2); rev <= 20; rev++ {
		wg.Add(1)
		go func(rev int64) {
			defer wg.Done()
			status := "Ready"
			if rev == 20 {
				status = "Deploying"
			}
			assert.NoError(t, tr.Observe(ctx, snapshot("m1", status, rev)))
		}(rev)
	}
	wg.Wait()

	m, err := s.GetMachine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), m.Revision)
	assert.Equal(t, model.MachineDeploying, m.Status)
}

func TestObserveEmitsTransition(t *testing.T) {
	tr, _ := newTestTracker(t, &maas.MockClient{})
	ctx := context.Background()

	require.NoError(t, tr.Observe(ctx, snapshot("m1", "Ready", 1)))

	ch := tr.Subscribe("m1")
	defer tr.Unsubscribe("m1", ch)

	require.NoError(t, tr.Observe(ctx, snapshot("m1", "Deploying", 2)))

	select {
	case got := <-ch:
		assert.Equal(t, model.MachineReady, got.From)
		assert.Equal(t, model.MachineDeploying, got.To)
	case <-time.After(time.Second):
		t.Fatal("no transition received")
	}
}

func TestObserveFailureCarriesErrorMessage(t *testing.T) {
	tr, _ := newTestTracker(t, &maas.MockClient{})
	ctx := context.Background()

	require.NoError(t, tr.Observe(ctx, snapshot("m1", "Deploying", 1)))

	ch := tr.Subscribe("m1")
	defer tr.Unsubscribe("m1", ch)

	failed := snapshot("m1", "Failed deployment", 2)
	failed.ErrorMessage = "curtin install failed"
	require.NoError(t, tr.Observe(ctx, failed))

	select {
	case got := <-ch:
		assert.Equal(t, model.MachineFailed, got.To)
		assert.Equal(t, "curtin install failed", got.ErrorMessage)
	case <-time.After(time.Second):
		t.Fatal("no transition received")
	}
}

func TestObserveRecoveryClearsErrorMessage(t *testing.T) {
	tr, s := newTestTracker(t, &maas.MockClient{})
	ctx := context.Background()

	failed := snapshot("m1", "Failed commissioning", 1)
	failed.ErrorMessage = "IPMI unreachable"
	require.NoError(t, tr.Observe(ctx, failed))

	m, err := s.GetMachine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "IPMI unreachable", m.ErrorMessage)

	// Once the machine recommissions, the stale failure must not linger.
	require.NoError(t, tr.Observe(ctx, snapshot("m1", "Commissioning", 2)))

	m, err = s.GetMachine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.MachineCommissioning, m.Status)
	assert.Empty(t, m.ErrorMessage)
}

func TestObserveConflictFlagsActiveDeployment(t *testing.T) {
	tr, s := newTestTracker(t, &maas.MockClient{})
	ctx := context.Background()

	require.NoError(t, tr.Observe(ctx, snapshot("m1", "Deploying", 1)))
	require.NoError(t, s.CreateDeployment(ctx, &model.Deployment{
		ID: "d1", MachineID: "m1", ImageID: "img-1",
		Status: model.DeploymentInProgress, Principal: "alice",
	}))

	// deploying -> ready is not a valid edge; the backend value is applied
	// but the in-flight job gets flagged instead of silently rewritten.
	require.NoError(t, tr.Observe(ctx, snapshot("m1", "Ready", 2)))

	m, err := s.GetMachine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.MachineReady, m.Status)

	d, err := s.GetDeployment(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, d.NeedsReview)
}

func TestObserveUnrecognizedStatusSkipped(t *testing.T) {
	tr, s := newTestTracker(t, &maas.MockClient{})
	ctx := context.Background()

	require.NoError(t, tr.Observe(ctx, snapshot("m1", "Rescue mode", 1)))

	_, err := s.GetMachine(ctx, "m1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubscriberDropOldestNeverBlocks(t *testing.T) {
	tr, _ := newTestTracker(t, &maas.MockClient{})

	ch := tr.Subscribe("m1")
	defer tr.Unsubscribe("m1", ch)

	// Flood well past the buffer without a reader; notify must not block.
	for i := 0; i < subscriberBuffer*3; i++ {
		tr.notify(Transition{MachineID: "m1", From: model.MachineReady, To: model.MachineDeploying})
	}
	assert.Equal(t, subscriberBuffer, len(ch))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	tr, _ := newTestTracker(t, &maas.MockClient{})

	ch := tr.Subscribe("m1")
	tr.Unsubscribe("m1", ch)

	_, open := <-ch
	assert.False(t, open)

	// Notifications after unsubscribe go nowhere, and must not panic.
	tr.notify(Transition{MachineID: "m1"})
}

func TestReconcileAllSoftRemovesMissingMachines(t *testing.T) {
	backend := &maas.MockClient{
		ListMachinesFunc: func(ctx context.Context, filter maas.MachineFilter) (*maas.MachineList, error) {
			return &maas.MachineList{Machines: []maas.MachineSnapshot{*snapshot("m1", "Ready", 2)}}, nil
		},
	}
	tr, s := newTestTracker(t, backend)
	ctx := context.Background()

	require.NoError(t, s.UpsertMachine(ctx, &model.Machine{ID: "gone", Hostname: "old", Status: model.MachineReady}))
	require.NoError(t, tr.reconcileAll(ctx))

	visible, err := s.ListMachines(ctx, false)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "m1", visible[0].ID)

	gone, err := s.GetMachine(ctx, "gone")
	require.NoError(t, err)
	assert.NotNil(t, gone.RemovedAt)
}

func TestReconcileAllSkipsRemovalWhenTruncated(t *testing.T) {
	backend := &maas.MockClient{
		ListMachinesFunc: func(ctx context.Context, filter maas.MachineFilter) (*maas.MachineList, error) {
			return &maas.MachineList{Truncated: true}, nil
		},
	}
	tr, s := newTestTracker(t, backend)
	ctx := context.Background()

	require.NoError(t, s.UpsertMachine(ctx, &model.Machine{ID: "m1", Hostname: "node", Status: model.MachineReady}))
	require.NoError(t, tr.reconcileAll(ctx))

	// A truncated listing cannot prove absence, so nothing is removed.
	m, err := s.GetMachine(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, m.RemovedAt)
}
