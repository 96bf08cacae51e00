// Package images keeps the OS image catalog current and bounded. New
// upstream builds are imported into the backend, validated with a real
// test deployment, and only then promoted to active; retention trims old
// versions per track. A validation failure never touches the previous
// active image.
package images

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hatchery-sh/hatchery/internal/config"
	"github.com/hatchery-sh/hatchery/internal/engine"
	"github.com/hatchery-sh/hatchery/internal/metrics"
	"github.com/hatchery-sh/hatchery/internal/model"
	"github.com/hatchery-sh/hatchery/internal/platform/maas"
	"github.com/hatchery-sh/hatchery/internal/store"
	"github.com/hatchery-sh/hatchery/internal/util/async"
)

// pollInterval paces the import-sync and validation wait loops.
const pollInterval = 5 * time.Second

// Manager drives the image lifecycle for every configured track.
type Manager struct {
	store    *store.Store
	backend  maas.BackendManager
	engine   *engine.Engine
	source   UpstreamSource
	cfg      config.ImagesConfig
	timeouts config.Timeouts

	// now is swapped in tests.
	now func() time.Time

	// poll overrides pollInterval in tests.
	poll time.Duration
}

// NewManager builds an image lifecycle manager.
func NewManager(s *store.Store, backend maas.BackendManager, eng *engine.Engine, source UpstreamSource, cfg config.ImagesConfig, timeouts config.Timeouts) *Manager {
	return &Manager{
		store:    s,
		backend:  backend,
		engine:   eng,
		source:   source,
		cfg:      cfg,
		timeouts: timeouts,
		now:      time.Now,
		poll:     pollInterval,
	}
}

// CheckAll runs one import/validate/retention pass over every track.
// Tracks run concurrently; per-track failures are collected, not fatal to
// the others.
func (m *Manager) CheckAll(ctx context.Context) error {
	tasks := make([]async.Task, 0, len(m.cfg.Tracks))
	for _, track := range m.cfg.Tracks {
		track := track
		tasks = append(tasks, async.Task{
			Name: track.Name + "/" + track.Architecture,
			Func: func(ctx context.Context) error {
				return m.CheckTrack(ctx, track)
			},
		})
	}
	return async.RunParallel(ctx, tasks)
}

// CheckTrack imports a newer upstream build if one exists, validates it,
// and applies retention to the track.
func (m *Manager) CheckTrack(ctx context.Context, track config.TrackConfig) error {
	build, err := m.source.Latest(ctx, track)
	if err != nil {
		return fmt.Errorf("track %s: %w", track.Name, err)
	}

	known, err := m.store.ListImagesByTrack(ctx, track.Name, track.Architecture)
	if err != nil {
		return fmt.Errorf("track %s: %w", track.Name, err)
	}
	if !isNewBuild(known, build.Version) {
		return m.applyRetention(ctx, track)
	}

	log.Printf("images: track %s/%s: new build %s", track.Name, track.Architecture, build.Version)
	img, err := m.importBuild(ctx, track, build)
	if err != nil {
		return fmt.Errorf("track %s: %w", track.Name, err)
	}

	if err := m.validate(ctx, track, img); err != nil {
		return fmt.Errorf("track %s: %w", track.Name, err)
	}
	return m.applyRetention(ctx, track)
}

// isNewBuild reports whether version is absent from the known images.
// Any earlier attempt at the same version, including failed ones, blocks
// a re-import; operators clear failed rows explicitly.
func isNewBuild(known []*model.Image, version string) bool {
	for _, img := range known {
		if img.Version == version {
			return false
		}
	}
	return true
}

// importBuild creates the catalog row, starts the backend import, and
// waits for the sync to finish.
func (m *Manager) importBuild(ctx context.Context, track config.TrackConfig, build *Build) (*model.Image, error) {
	img := &model.Image{
		ID:           uuid.NewString(),
		Name:         track.Name,
		Version:      build.Version,
		Architecture: track.Architecture,
		Kernel:       build.Kernel,
		Initrd:       build.Initrd,
		RootFS:       build.RootFS,
		SizeBytes:    build.SizeBytes,
		Checksum:     build.Checksum,
		Status:       model.ImagePendingImport,
		ReleaseDate:  build.ReleaseDate,
	}
	if err := m.store.CreateImage(ctx, img); err != nil {
		return nil, err
	}

	backendID, err := m.backend.ImportImage(ctx, maas.ImportSpec{
		Name:         track.Name,
		Version:      build.Version,
		Architecture: track.Architecture,
		UpstreamURL:  track.UpstreamURL,
		Checksum:     build.Checksum,
	})
	if err != nil {
		m.markFailed(ctx, img, fmt.Sprintf("backend import failed: %v", err))
		return nil, err
	}
	img.BackendID = backendID
	if err := m.store.UpdateImage(ctx, img); err != nil {
		return nil, err
	}

	if err := m.waitForSync(ctx, img); err != nil {
		return nil, err
	}

	img.Status = model.ImageTesting
	if err := m.store.UpdateImage(ctx, img); err != nil {
		return nil, err
	}
	return img, nil
}

// waitForSync polls the backend until the image bytes finish syncing or
// the overall sync deadline expires.
func (m *Manager) waitForSync(ctx context.Context, img *model.Image) error {
	deadline := m.now().Add(m.timeouts.ImageSync)
	for {
		status, err := m.backend.GetImportStatus(ctx, img.BackendID)
		if err == nil && status.Complete {
			if status.SizeBytes > 0 {
				img.SizeBytes = status.SizeBytes
			}
			return nil
		}
		if err != nil {
			log.Printf("images: import status for %s/%s: %v", img.Name, img.Version, err)
		}

		if m.now().After(deadline) {
			msg := fmt.Sprintf("backend sync did not finish within %s", m.timeouts.ImageSync)
			log.Printf("images: ALERT: %s/%s: %s", img.Name, img.Version, msg)
			m.markFailed(ctx, img, msg)
			return errors.New(msg)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.poll):
		}
	}
}

// validate deploys the candidate image to the validation machine and
// promotes it on success. The previous active image is superseded only
// after the candidate passes.
func (m *Manager) validate(ctx context.Context, track config.TrackConfig, img *model.Image) error {
	machine, err := m.validationMachine(ctx)
	if err != nil {
		m.markFailed(ctx, img, err.Error())
		return err
	}

	d, err := m.engine.Submit(ctx, engine.SubmitRequest{
		MachineID:    machine.ID,
		ImageID:      img.ID,
		BootConfigID: m.cfg.ValidationBootConfig,
		EggIDs:       m.cfg.ValidationEggs,
		Principal:    "image-validation",
	})
	if err != nil {
		m.markFailed(ctx, img, fmt.Sprintf("validation submit failed: %v", err))
		return err
	}

	outcome, err := m.waitForDeployment(ctx, d.ID)
	if err != nil {
		// Overall deadline expired: stop the job, fail the candidate.
		if cerr := m.engine.Cancel(ctx, d.ID); cerr != nil {
			log.Printf("images: cancelling validation %s: %v", d.ID, cerr)
		}
		m.markFailed(ctx, img, err.Error())
		m.releaseValidationMachine(machine.ID)
		return err
	}

	defer m.releaseValidationMachine(machine.ID)

	if outcome.Status != model.DeploymentCompleted {
		m.markFailed(ctx, img, fmt.Sprintf("validation deployment %s: %s", outcome.Status, outcome.ErrorMessage))
		return fmt.Errorf("validation of %s/%s failed: %s", img.Name, img.Version, outcome.ErrorMessage)
	}

	// Promote: supersede the previous active, then activate the candidate.
	previous, err := m.store.ActiveImageForTrack(ctx, track.Name, track.Architecture)
	if err == nil && previous.ID != img.ID {
		previous.Status = model.ImageSuperseded
		if err := m.store.UpdateImage(ctx, previous); err != nil {
			return err
		}
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	img.Status = model.ImageActive
	if err := m.store.UpdateImage(ctx, img); err != nil {
		return err
	}
	metrics.ImagePromotions.Inc()
	log.Printf("images: track %s/%s: promoted %s to active", track.Name, track.Architecture, img.Version)
	return nil
}

// validationMachine finds the ready machine tagged for validation runs.
func (m *Manager) validationMachine(ctx context.Context) (*model.Machine, error) {
	machines, err := m.store.ListMachines(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, machine := range machines {
		if machine.HasTag(m.cfg.ValidationTag) && machine.Status == model.MachineReady {
			return machine, nil
		}
	}
	return nil, fmt.Errorf("no ready machine tagged %q for validation", m.cfg.ValidationTag)
}

// releaseValidationMachine hands the test machine back to the pool.
func (m *Manager) releaseValidationMachine(machineID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeouts.Request)
	defer cancel()
	if err := m.backend.Release(ctx, machineID); err != nil {
		log.Printf("images: releasing validation machine %s: %v", machineID, err)
	}
}

// waitForDeployment polls the job record until it is terminal or the
// validation deadline expires.
func (m *Manager) waitForDeployment(ctx context.Context, deploymentID string) (*model.Deployment, error) {
	deadline := m.now().Add(m.timeouts.ImageValidation)
	for {
		d, err := m.store.GetDeployment(ctx, deploymentID)
		if err != nil {
			return nil, err
		}
		if d.Status.Terminal() {
			return d, nil
		}
		if m.now().After(deadline) {
			return nil, fmt.Errorf("validation did not finish within %s", m.timeouts.ImageValidation)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.poll):
		}
	}
}

func (m *Manager) markFailed(ctx context.Context, img *model.Image, message string) {
	img.Status = model.ImageFailed
	if err := m.store.UpdateImage(ctx, img); err != nil {
		log.Printf("images: marking %s/%s failed: %v", img.Name, img.Version, err)
	}
	log.Printf("images: %s/%s failed: %s", img.Name, img.Version, message)
}

// applyRetention deletes versions beyond the keep count or older than the
// age cap. The union of both sets is deleted; the current active image
// and anything referenced by an in-flight deployment survive until a
// later pass.
func (m *Manager) applyRetention(ctx context.Context, track config.TrackConfig) error {
	images, err := m.store.ListImagesByTrack(ctx, track.Name, track.Architecture)
	if err != nil {
		return err
	}

	ageCutoff := m.now().AddDate(0, 0, -m.cfg.MaxAgeDays)
	for i, img := range images {
		tooMany := i >= m.cfg.KeepVersions
		tooOld := img.ReleaseDate.Before(ageCutoff)
		if !tooMany && !tooOld {
			continue
		}
		if img.Status == model.ImageActive {
			continue
		}
		inFlight, err := m.store.CountActiveDeploymentsForImage(ctx, img.ID)
		if err != nil {
			return err
		}
		if inFlight > 0 {
			log.Printf("images: retention deferring %s/%s: %d deployments in flight", img.Name, img.Version, inFlight)
			continue
		}

		if img.BackendID != "" {
			if err := m.backend.DeleteImage(ctx, img.BackendID); err != nil {
				log.Printf("images: deleting %s/%s from backend: %v", img.Name, img.Version, err)
				continue
			}
		}
		if err := m.store.DeleteImage(ctx, img.ID); err != nil {
			return err
		}
		log.Printf("images: retention removed %s/%s", img.Name, img.Version)
	}
	return nil
}
