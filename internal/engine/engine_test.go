package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatchery-sh/hatchery/internal/compose"
	"github.com/hatchery-sh/hatchery/internal/config"
	"github.com/hatchery-sh/hatchery/internal/metrics"
	"github.com/hatchery-sh/hatchery/internal/model"
	"github.com/hatchery-sh/hatchery/internal/platform/maas"
	"github.com/hatchery-sh/hatchery/internal/store"
	"github.com/hatchery-sh/hatchery/internal/tracker"
)

type fixture struct {
	store   *store.Store
	backend *maas.MockClient
	tracker *tracker.Tracker
	engine  *Engine
}

func newFixture(t *testing.T, backend *maas.MockClient) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "hatchery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tr := tracker.New(s, backend, 5*time.Second, 60*time.Second)
	timeouts := config.Timeouts{
		Request:        time.Second,
		DeployComplete: 2 * time.Second,
	}
	e := New(s, backend, compose.NewComposer(s), tr, timeouts, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.Shutdown(ctx)
	})
	return &fixture{store: s, backend: backend, tracker: tr, engine: e}
}

// seed creates a ready machine, an active image, a boot config, and one
// egg, returning their ids.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.UpsertMachine(ctx, &model.Machine{
		ID: "m1", Hostname: "node-01", Architecture: "amd64",
		MemoryMB: 65536, DiskGB: 1000,
		Status: model.MachineReady, Revision: 1,
	}))
	require.NoError(t, f.store.CreateImage(ctx, &model.Image{
		ID: "img-1", Name: "ubuntu-24.04", Version: "20260801", Architecture: "amd64",
		Kernel: "http://images/vmlinuz", Initrd: "http://images/initrd", RootFS: "http://images/rootfs",
		Status: model.ImageActive, BackendID: "br-1", ReleaseDate: time.Now(),
	}))
	require.NoError(t, f.store.CreateBootConfig(ctx, &model.BootConfig{
		ID: "bc-1", Name: "uefi-default", BootType: model.BootUEFI,
		KernelParams: "console=ttyS0",
		Template:     "#!ipxe\nkernel {{.KernelURL}} {{.KernelParams}}\nboot\n",
	}))
	require.NoError(t, f.store.CreateEgg(ctx, &model.Egg{
		ID: "docker", Name: "docker", Type: model.EggSnap, SnapChannel: "stable", IsActive: true,
	}))
}

func submitReq() SubmitRequest {
	return SubmitRequest{
		MachineID:    "m1",
		ImageID:      "img-1",
		BootConfigID: "bc-1",
		EggIDs:       []string{"docker"},
		Principal:    "alice",
	}
}

// waitStatus polls until the deployment reaches the wanted status.
func waitStatus(t *testing.T, s *store.Store, id string, want model.DeploymentStatus) *model.Deployment {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		d, err := s.GetDeployment(context.Background(), id)
		require.NoError(t, err)
		if d.Status == want {
			return d
		}
		time.Sleep(10 * time.Millisecond)
	}
	d, _ := s.GetDeployment(context.Background(), id)
	t.Fatalf("deployment %s never reached %s (last: %s)", id, want, d.Status)
	return nil
}

func snapshot(id, status string, revision int64) *maas.MachineSnapshot {
	return &maas.MachineSnapshot{
		SystemID: id, Hostname: "node-01", Architecture: "amd64",
		Status: status, MemoryMB: 65536, DiskGB: 1000, Revision: revision,
	}
}

func TestSubmitHappyPath(t *testing.T) {
	var gotUserData atomic.Value
	deployed := make(chan struct{})
	backend := &maas.MockClient{
		DeployFunc: func(ctx context.Context, machineID string, image maas.ImageRef, userData string) (string, error) {
			gotUserData.Store(userData)
			close(deployed)
			return "job-1", nil
		},
	}
	f := newFixture(t, backend)
	f.seed(t)
	ctx := context.Background()

	d, err := f.engine.Submit(ctx, submitReq())
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentPending, d.Status)
	assert.Equal(t, "alice", d.Principal)

	select {
	case <-deployed:
	case <-time.After(2 * time.Second):
		t.Fatal("backend deploy never called")
	}
	assert.Contains(t, gotUserData.Load().(string), "#cloud-config")

	// The tracker observes the machine installing, then deployed.
	require.NoError(t, f.tracker.Observe(ctx, snapshot("m1", "Deploying", 2)))
	require.NoError(t, f.tracker.Observe(ctx, snapshot("m1", "Deployed", 3)))

	final := waitStatus(t, f.store, d.ID, model.DeploymentCompleted)
	assert.Equal(t, 100, final.ProgressPercent)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.CompletedAt)

	events, err := f.store.ListDeploymentEvents(ctx, d.ID)
	require.NoError(t, err)
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, string(EventSubmitted))
	assert.Contains(t, types, string(EventComposed))
	assert.Contains(t, types, string(EventDeployAccepted))
	assert.Contains(t, types, string(EventCompleted))
}

func TestSubmitConflictOnActiveJob(t *testing.T) {
	f := newFixture(t, &maas.MockClient{})
	f.seed(t)
	ctx := context.Background()

	_, err := f.engine.Submit(ctx, submitReq())
	require.NoError(t, err)

	_, err = f.engine.Submit(ctx, submitReq())
	assert.ErrorIs(t, err, store.ErrActiveDeploymentExists)
}

func TestConcurrentSubmitSingleWinner(t *testing.T) {
	f := newFixture(t, &maas.MockClient{})
	f.seed(t)

	const attempts = 10
	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Submit(context.Background(), submitReq())
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, store.ErrActiveDeploymentExists):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(attempts-1), conflicts.Load())
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, &maas.MockClient{})
	f.seed(t)
	ctx := context.Background()

	var validationErr *ValidationError

	req := submitReq()
	req.MachineID = "nope"
	_, err := f.engine.Submit(ctx, req)
	assert.ErrorAs(t, err, &validationErr)

	req = submitReq()
	req.ImageID = "nope"
	_, err = f.engine.Submit(ctx, req)
	assert.ErrorAs(t, err, &validationErr)

	// A machine that is still deploying cannot take a new job.
	require.NoError(t, f.store.UpsertMachine(ctx, &model.Machine{
		ID: "busy", Status: model.MachineDeploying, MemoryMB: 65536, DiskGB: 1000,
	}))
	req = submitReq()
	req.MachineID = "busy"
	_, err = f.engine.Submit(ctx, req)
	assert.ErrorAs(t, err, &validationErr)

	// A failed image is not deployable.
	require.NoError(t, f.store.CreateImage(ctx, &model.Image{
		ID: "bad", Name: "ubuntu-24.04", Version: "x", Architecture: "amd64",
		Status: model.ImageFailed, ReleaseDate: time.Now(),
	}))
	req = submitReq()
	req.ImageID = "bad"
	_, err = f.engine.Submit(ctx, req)
	assert.ErrorAs(t, err, &validationErr)
}

func TestSubmitAllowsTestingImage(t *testing.T) {
	deployed := make(chan struct{})
	backend := &maas.MockClient{
		DeployFunc: func(ctx context.Context, machineID string, image maas.ImageRef, userData string) (string, error) {
			close(deployed)
			return "job-1", nil
		},
	}
	f := newFixture(t, backend)
	f.seed(t)
	ctx := context.Background()

	require.NoError(t, f.store.CreateImage(ctx, &model.Image{
		ID: "candidate", Name: "ubuntu-24.04", Version: "20260815", Architecture: "amd64",
		Status: model.ImageTesting, ReleaseDate: time.Now(),
	}))

	req := submitReq()
	req.ImageID = "candidate"
	_, err := f.engine.Submit(ctx, req)
	require.NoError(t, err)

	select {
	case <-deployed:
	case <-time.After(2 * time.Second):
		t.Fatal("backend deploy never called")
	}
}

func TestDeployFailureMarksJobFailed(t *testing.T) {
	backend := &maas.MockClient{
		DeployFunc: func(ctx context.Context, machineID string, image maas.ImageRef, userData string) (string, error) {
			return "", &maas.Error{Kind: maas.KindPermanent, Op: "deploy", StatusCode: 400, Message: "bad distro"}
		},
	}
	f := newFixture(t, backend)
	f.seed(t)

	d, err := f.engine.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	final := waitStatus(t, f.store, d.ID, model.DeploymentFailed)
	assert.Contains(t, final.ErrorMessage, "bad distro")
}

func TestMachineFailureMarksJobFailed(t *testing.T) {
	f := newFixture(t, &maas.MockClient{})
	f.seed(t)
	ctx := context.Background()

	d, err := f.engine.Submit(ctx, submitReq())
	require.NoError(t, err)

	// Give the executor a moment to pass the deploy step.
	time.Sleep(100 * time.Millisecond)
	failed := snapshot("m1", "Failed deployment", 2)
	failed.ErrorMessage = "curtin install failed"
	require.NoError(t, f.tracker.Observe(ctx, failed))

	final := waitStatus(t, f.store, d.ID, model.DeploymentFailed)
	assert.Equal(t, "curtin install failed", final.ErrorMessage)
}

func TestCancelledJobStaysCancelled(t *testing.T) {
	f := newFixture(t, &maas.MockClient{})
	f.seed(t)
	ctx := context.Background()

	d, err := f.engine.Submit(ctx, submitReq())
	require.NoError(t, err)
	require.NoError(t, f.engine.Cancel(ctx, d.ID))

	// No executor step after the cancellation may apply another
	// transition to the record.
	time.Sleep(200 * time.Millisecond)
	final, err := f.store.GetDeployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentCancelled, final.Status)
	assert.NotNil(t, final.CompletedAt)
}

// Holds the backend deploy call open while the machine reaches deployed
// and the operator cancels, then releases it. The executor's stale copy
// must not overwrite the cancelled record or append further events.
func TestCancelDuringDeployInFlight(t *testing.T) {
	deployEntered := make(chan struct{})
	deployRelease := make(chan struct{})
	backend := &maas.MockClient{
		DeployFunc: func(ctx context.Context, machineID string, image maas.ImageRef, userData string) (string, error) {
			close(deployEntered)
			<-deployRelease
			return "job-1", nil
		},
	}
	f := newFixture(t, backend)
	f.seed(t)
	ctx := context.Background()

	gaugeBefore := testutil.ToFloat64(metrics.ActiveDeployments)

	d, err := f.engine.Submit(ctx, submitReq())
	require.NoError(t, err)

	select {
	case <-deployEntered:
	case <-time.After(2 * time.Second):
		t.Fatal("backend deploy never called")
	}

	// While the deploy call is held open, the machine reaches deployed
	// (the transition sits buffered on the executor's subscription) and
	// the operator cancels the job.
	require.NoError(t, f.tracker.Observe(ctx, snapshot("m1", "Deploying", 2)))
	require.NoError(t, f.tracker.Observe(ctx, snapshot("m1", "Deployed", 3)))
	require.NoError(t, f.engine.Cancel(ctx, d.ID))

	close(deployRelease)

	// Give the executor time to run its remaining steps against the
	// now-terminal record; none of them may take effect.
	time.Sleep(200 * time.Millisecond)
	final, err := f.store.GetDeployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentCancelled, final.Status)
	assert.Equal(t, 100, final.ProgressPercent)
	assert.NotNil(t, final.CompletedAt)

	events, err := f.store.ListDeploymentEvents(ctx, d.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, string(EventCancelled), events[len(events)-1].Type)

	// Exactly one side of the race decrements the gauge.
	assert.Equal(t, gaugeBefore, testutil.ToFloat64(metrics.ActiveDeployments))
}

func TestCancelTerminalJobRejected(t *testing.T) {
	f := newFixture(t, &maas.MockClient{})
	f.seed(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, f.store.CreateDeployment(ctx, &model.Deployment{
		ID: "done", MachineID: "m1", ImageID: "img-1", BootConfigID: "bc-1",
		Status: model.DeploymentCompleted, Principal: "alice", CompletedAt: &now,
	}))

	err := f.engine.Cancel(ctx, "done")
	assert.ErrorIs(t, err, ErrJobTerminal)
}

func TestCancelRequestsRelease(t *testing.T) {
	released := make(chan string, 1)
	backend := &maas.MockClient{
		ReleaseFunc: func(ctx context.Context, machineID string) error {
			released <- machineID
			return nil
		},
	}
	f := newFixture(t, backend)
	f.seed(t)
	ctx := context.Background()

	d, err := f.engine.Submit(ctx, submitReq())
	require.NoError(t, err)
	require.NoError(t, f.engine.Cancel(ctx, d.ID))

	select {
	case machineID := <-released:
		assert.Equal(t, "m1", machineID)
	case <-time.After(time.Second):
		t.Fatal("release never requested")
	}
}

func TestRetryCreatesLinkedJob(t *testing.T) {
	f := newFixture(t, &maas.MockClient{})
	f.seed(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, f.store.CreateDeployment(ctx, &model.Deployment{
		ID: "d1", MachineID: "m1", ImageID: "img-1", BootConfigID: "bc-1",
		EggIDs: []string{"docker"}, Status: model.DeploymentFailed,
		Principal: "alice", ErrorMessage: "boom", CompletedAt: &now,
	}))

	retried, err := f.engine.Retry(ctx, "d1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "d1", retried.RetryOf)
	assert.Equal(t, "bob", retried.Principal)
	assert.Equal(t, []string{"docker"}, retried.EggIDs)
}

func TestRetryOnlyFailedJobs(t *testing.T) {
	f := newFixture(t, &maas.MockClient{})
	f.seed(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, f.store.CreateDeployment(ctx, &model.Deployment{
		ID: "done", MachineID: "m1", ImageID: "img-1", BootConfigID: "bc-1",
		Status: model.DeploymentCompleted, Principal: "alice", CompletedAt: &now,
	}))

	_, err := f.engine.Retry(ctx, "done", "")
	assert.ErrorIs(t, err, ErrNotRetryable)
}
