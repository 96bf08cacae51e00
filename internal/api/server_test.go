package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatchery-sh/hatchery/internal/compose"
	"github.com/hatchery-sh/hatchery/internal/config"
	"github.com/hatchery-sh/hatchery/internal/engine"
	"github.com/hatchery-sh/hatchery/internal/model"
	"github.com/hatchery-sh/hatchery/internal/platform/maas"
	"github.com/hatchery-sh/hatchery/internal/store"
	"github.com/hatchery-sh/hatchery/internal/tracker"
)

const testSecret = "s3cret"

type fixture struct {
	server  *Server
	store   *store.Store
	backend *maas.MockClient
	tracker *tracker.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "hatchery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	backend := &maas.MockClient{}
	tr := tracker.New(s, backend, 5*time.Second, 60*time.Second)
	timeouts := config.Timeouts{
		Request:        time.Second,
		DeployComplete: 2 * time.Second,
	}
	eng := engine.New(s, backend, compose.NewComposer(s), tr, timeouts, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		eng.Shutdown(ctx)
	})

	return &fixture{
		server:  NewServer(s, tr, eng, testSecret),
		store:   s,
		backend: backend,
		tracker: tr,
	}
}

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

// do runs a request through the full middleware stack and decodes the
// response body into out when it is non-nil.
func (f *fixture) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestSubmitDeployment(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	var d model.Deployment
	rec := f.do(t, http.MethodPost, "/api/v1/deployments", submitRequest{
		MachineID: "m1", ImageID: "img-1", BootConfigID: "bc-1",
		EggIDs: []string{"docker"},
	}, &d)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "m1", d.MachineID)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "anonymous", d.Principal)
}

func TestSubmitHonorsPrincipalHeader(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	raw, err := json.Marshal(submitRequest{MachineID: "m1", ImageID: "img-1", BootConfigID: "bc-1"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deployments", bytes.NewReader(raw))
	req.Header.Set("X-Hatchery-Principal", "alice")
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var d model.Deployment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "alice", d.Principal)
}

func TestSubmitMissingFields(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	rec := f.do(t, http.MethodPost, "/api/v1/deployments", submitRequest{MachineID: "m1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitConflictOnBusyMachine(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	req := submitRequest{MachineID: "m1", ImageID: "img-1", BootConfigID: "bc-1"}
	rec := f.do(t, http.MethodPost, "/api/v1/deployments", req, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body errorBody
	rec = f.do(t, http.MethodPost, "/api/v1/deployments", req, &body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", body.Code)
}

func TestSubmitUnknownEgg(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	var body errorBody
	rec := f.do(t, http.MethodPost, "/api/v1/deployments", submitRequest{
		MachineID: "m1", ImageID: "img-1", BootConfigID: "bc-1",
		EggIDs: []string{"nope"},
	}, &body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "unknown_egg", body.Code)
}

func TestGetDeploymentNotFound(t *testing.T) {
	f := newFixture(t)

	var body errorBody
	rec := f.do(t, http.MethodGet, "/api/v1/deployments/nope", nil, &body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body.Code)
}

func TestDeploymentLogsMissingDeployment(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/deployments/nope/logs", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	f := newFixture(t)

	body := strings.NewReader(`{"system_id":"m9","status_name":"Ready","revision":1}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/machines", body)
	req.Header.Set("X-Hatchery-Secret", "wrong")
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookIngestsSnapshot(t *testing.T) {
	f := newFixture(t)

	payload := `{"system_id":"m9","hostname":"node-09","architecture":"amd64",` +
		`"status_name":"Ready","memory":32768,"storage":500,"revision":3,` +
		`"owner":"maas-admin"}`
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/machines", strings.NewReader(payload))
		req.Header.Set("X-Hatchery-Secret", testSecret)
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		return rec
	}

	rec := send()
	require.Equal(t, http.StatusNoContent, rec.Code)

	m, err := f.store.GetMachine(context.Background(), "m9")
	require.NoError(t, err)
	assert.Equal(t, "node-09", m.Hostname)
	assert.Equal(t, int64(3), m.Revision)

	// Replays carry the same revision and are dropped by the tracker.
	rec = send()
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWebhookRequiresSystemID(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/machines",
		strings.NewReader(`{"status_name":"Ready","revision":1}`))
	req.Header.Set("X-Hatchery-Secret", testSecret)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEggLifecycle(t *testing.T) {
	f := newFixture(t)

	var created model.Egg
	rec := f.do(t, http.MethodPost, "/api/v1/eggs", model.Egg{
		Name: "docker", Type: model.EggSnap, SnapChannel: "stable", IsActive: true,
	}, &created)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, created.ID)

	var got model.Egg
	rec = f.do(t, http.MethodGet, "/api/v1/eggs/"+created.ID, nil, &got)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "docker", got.Name)

	got.SnapChannel = "latest/edge"
	rec = f.do(t, http.MethodPut, "/api/v1/eggs/"+created.ID, got, &got)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "latest/edge", got.SnapChannel)

	rec = f.do(t, http.MethodDelete, "/api/v1/eggs/"+created.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/eggs/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEggNameConflict(t *testing.T) {
	f := newFixture(t)

	egg := model.Egg{Name: "docker", Type: model.EggSnap}
	rec := f.do(t, http.MethodPost, "/api/v1/eggs", egg, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body errorBody
	rec = f.do(t, http.MethodPost, "/api/v1/eggs", egg, &body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", body.Code)
}

func TestEggRejectsUnknownType(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/eggs", model.Egg{Name: "x", Type: "rpm"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEggsActiveFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateEgg(ctx, &model.Egg{ID: "a", Name: "a", Type: model.EggSnap, IsActive: true}))
	require.NoError(t, f.store.CreateEgg(ctx, &model.Egg{ID: "b", Name: "b", Type: model.EggSnap}))

	var eggs []*model.Egg
	rec := f.do(t, http.MethodGet, "/api/v1/eggs", nil, &eggs)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, eggs, 2)

	rec = f.do(t, http.MethodGet, "/api/v1/eggs?active=true", nil, &eggs)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, eggs, 1)
	assert.Equal(t, "a", eggs[0].ID)
}

func TestEggGroupLifecycle(t *testing.T) {
	f := newFixture(t)

	var group model.EggGroup
	rec := f.do(t, http.MethodPost, "/api/v1/egg-groups", model.EggGroup{
		Name: "k8s-worker", EggIDs: []string{"docker", "kubelet"},
	}, &group)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, group.ID)

	var got model.EggGroup
	rec = f.do(t, http.MethodGet, "/api/v1/egg-groups/"+group.ID, nil, &got)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"docker", "kubelet"}, got.EggIDs)

	rec = f.do(t, http.MethodDelete, "/api/v1/egg-groups/"+group.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestEggGroupRequiresMembers(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/egg-groups", model.EggGroup{Name: "empty"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateImageDefaultsToTesting(t *testing.T) {
	f := newFixture(t)

	var img model.Image
	rec := f.do(t, http.MethodPost, "/api/v1/images", model.Image{
		Name: "ubuntu-24.04", Version: "20260815", Architecture: "amd64",
	}, &img)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, model.ImageTesting, img.Status)
}

func TestDeleteActiveImageRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	var body errorBody
	rec := f.do(t, http.MethodDelete, "/api/v1/images/img-1", nil, &body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", body.Code)
}

func TestDeleteImageWithActiveDeploymentRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	require.NoError(t, f.store.CreateImage(ctx, &model.Image{
		ID: "img-2", Name: "ubuntu-24.04", Version: "20260815", Architecture: "amd64",
		Status: model.ImageSuperseded, ReleaseDate: time.Now(),
	}))
	require.NoError(t, f.store.CreateDeployment(ctx, &model.Deployment{
		ID: "d1", MachineID: "m1", ImageID: "img-2", BootConfigID: "bc-1",
		Status: model.DeploymentInProgress, Principal: "alice",
	}))

	rec := f.do(t, http.MethodDelete, "/api/v1/images/img-2", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBootConfigValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/boot-configs", model.BootConfig{
		Name: "bad", BootType: "pxe9000", Template: "#!ipxe\n",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBootConfigLifecycle(t *testing.T) {
	f := newFixture(t)

	var bc model.BootConfig
	rec := f.do(t, http.MethodPost, "/api/v1/boot-configs", model.BootConfig{
		Name: "bios-legacy", BootType: model.BootBIOS,
		Template: "#!ipxe\nkernel {{.KernelURL}}\nboot\n",
	}, &bc)
	require.Equal(t, http.StatusCreated, rec.Code)

	bc.KernelParams = "quiet"
	rec = f.do(t, http.MethodPut, "/api/v1/boot-configs/"+bc.ID, bc, &bc)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "quiet", bc.KernelParams)

	rec = f.do(t, http.MethodDelete, "/api/v1/boot-configs/"+bc.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMachinesReadOnly(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertMachine(ctx, &model.Machine{
		ID: "m2", Hostname: "node-02", Architecture: "amd64", Status: model.MachineReady, Revision: 1,
	}))
	require.NoError(t, f.store.MarkMachineRemoved(ctx, "m2", time.Now()))

	var machines []*model.Machine
	rec := f.do(t, http.MethodGet, "/api/v1/machines", nil, &machines)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, machines, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/machines?include_removed=true", nil, &machines)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, machines, 2)

	var m model.Machine
	rec = f.do(t, http.MethodGet, "/api/v1/machines/m1", nil, &m)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "node-01", m.Hostname)
}

func TestRejectsUnknownBodyFields(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/deployments",
		strings.NewReader(`{"machine_id":"m1","image_id":"img-1","boot_config_id":"bc-1","bogus":true}`))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
