// Package engine is the deployment job orchestrator. A job moves a
// machine through compose → backend deploy → observed completion, with
// cooperative cancellation at every step boundary and an audit event per
// step.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hatchery-sh/hatchery/internal/compose"
	"github.com/hatchery-sh/hatchery/internal/config"
	"github.com/hatchery-sh/hatchery/internal/metrics"
	"github.com/hatchery-sh/hatchery/internal/model"
	"github.com/hatchery-sh/hatchery/internal/platform/maas"
	"github.com/hatchery-sh/hatchery/internal/store"
	"github.com/hatchery-sh/hatchery/internal/tracker"
)

var (
	// ErrJobTerminal is returned by Cancel and Retry when the job is
	// already in an end state that the operation does not accept.
	ErrJobTerminal = errors.New("deployment is already in a terminal state")

	// ErrNotRetryable is returned by Retry on anything but a failed job.
	ErrNotRetryable = errors.New("only failed deployments can be retried")
)

// ValidationError reports a submit request that can never succeed as
// given: missing records, wrong machine state, ineligible image.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid deployment request: " + e.Reason
}

// SubmitRequest describes one deployment job.
type SubmitRequest struct {
	MachineID    string
	ImageID      string
	BootConfigID string
	EggIDs       []string
	EggGroupIDs  []string
	Principal    string

	// retryOf links a retry back to the failed job it replaces.
	retryOf string
}

// Engine runs deployment jobs. Per-machine submit/cancel serialize
// through a keyed mutex; the atomic check-and-insert in the store closes
// the remaining race against writers outside this process.
type Engine struct {
	store    *store.Store
	backend  maas.BackendManager
	composer *compose.Composer
	tracker  *tracker.Tracker
	timeouts config.Timeouts
	observer Observer

	mu           sync.Mutex
	machineLocks map[string]*sync.Mutex
	cancels      map[string]context.CancelFunc
	wg           sync.WaitGroup
}

// New builds an engine. A nil observer defaults to console logging.
func New(s *store.Store, backend maas.BackendManager, composer *compose.Composer, tr *tracker.Tracker, timeouts config.Timeouts, observer Observer) *Engine {
	if observer == nil {
		observer = LogObserver{}
	}
	return &Engine{
		store:        s,
		backend:      backend,
		composer:     composer,
		tracker:      tr,
		timeouts:     timeouts,
		observer:     observer,
		machineLocks: map[string]*sync.Mutex{},
		cancels:      map[string]context.CancelFunc{},
	}
}

func (e *Engine) machineLock(machineID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.machineLocks[machineID]
	if !ok {
		l = &sync.Mutex{}
		e.machineLocks[machineID] = l
	}
	return l
}

// Submit validates the request, atomically claims the machine, and starts
// the executor. The returned record is in pending state.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*model.Deployment, error) {
	lock := e.machineLock(req.MachineID)
	lock.Lock()
	defer lock.Unlock()

	machine, err := e.store.GetMachine(ctx, req.MachineID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ValidationError{Reason: fmt.Sprintf("machine %s not found", req.MachineID)}
	}
	if err != nil {
		return nil, err
	}
	if machine.RemovedAt != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("machine %s is removed", req.MachineID)}
	}
	if machine.Status != model.MachineReady {
		return nil, &ValidationError{Reason: fmt.Sprintf("machine %s is %s, not ready", req.MachineID, machine.Status)}
	}

	image, err := e.store.GetImage(ctx, req.ImageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ValidationError{Reason: fmt.Sprintf("image %s not found", req.ImageID)}
	}
	if err != nil {
		return nil, err
	}
	// Testing images are deployable so the validation gate can exercise
	// them; anything else must have passed validation already.
	if image.Status != model.ImageActive && image.Status != model.ImageTesting {
		return nil, &ValidationError{Reason: fmt.Sprintf("image %s is %s, not deployable", req.ImageID, image.Status)}
	}

	bootConfig, err := e.store.GetBootConfig(ctx, req.BootConfigID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ValidationError{Reason: fmt.Sprintf("boot config %s not found", req.BootConfigID)}
	}
	if err != nil {
		return nil, err
	}

	eggIDs, err := e.composer.ExpandGroups(ctx, req.EggIDs, req.EggGroupIDs)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &ValidationError{Reason: err.Error()}
		}
		return nil, err
	}

	principal := req.Principal
	if principal == "" {
		principal = "anonymous"
	}
	d := &model.Deployment{
		ID:           uuid.NewString(),
		MachineID:    req.MachineID,
		ImageID:      req.ImageID,
		BootConfigID: req.BootConfigID,
		EggIDs:       eggIDs,
		Status:       model.DeploymentPending,
		Principal:    principal,
		RetryOf:      req.retryOf,
	}
	if err := e.store.CreateDeployment(ctx, d); err != nil {
		return nil, err
	}

	metrics.ActiveDeployments.Inc()
	e.emit(d, EventSubmitted, fmt.Sprintf("submitted by %s", principal))

	jobCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[d.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.execute(jobCtx, d.ID, machine, image, bootConfig, eggIDs)

	return d, nil
}

// Cancel stops a pending or in-progress job. The record is authoritative
// immediately; the backend release is best-effort.
func (e *Engine) Cancel(ctx context.Context, deploymentID string) error {
	d, err := e.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}

	lock := e.machineLock(d.MachineID)
	lock.Lock()
	defer lock.Unlock()

	d, err = e.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	if d.Status.Terminal() {
		return fmt.Errorf("deployment %s is %s: %w", deploymentID, d.Status, ErrJobTerminal)
	}

	now := time.Now().UTC()
	d.Status = model.DeploymentCancelled
	d.ProgressPercent = 100
	d.CompletedAt = &now
	if err := e.store.UpdateDeployment(ctx, d); err != nil {
		return err
	}

	e.mu.Lock()
	if cancel, ok := e.cancels[deploymentID]; ok {
		cancel()
	}
	e.mu.Unlock()

	metrics.ActiveDeployments.Dec()
	e.emit(d, EventCancelled, "cancelled by operator")

	releaseCtx, cancel := context.WithTimeout(context.Background(), e.timeouts.Request)
	defer cancel()
	if err := e.backend.Release(releaseCtx, d.MachineID); err != nil {
		log.Printf("engine: best-effort release of %s after cancel: %v", d.MachineID, err)
	}
	return nil
}

// Retry creates a new job with the same inputs as a failed one, linked
// back for audit lineage.
func (e *Engine) Retry(ctx context.Context, deploymentID, principal string) (*model.Deployment, error) {
	d, err := e.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if d.Status != model.DeploymentFailed {
		return nil, fmt.Errorf("deployment %s is %s: %w", deploymentID, d.Status, ErrNotRetryable)
	}
	if principal == "" {
		principal = d.Principal
	}
	return e.Submit(ctx, SubmitRequest{
		MachineID:    d.MachineID,
		ImageID:      d.ImageID,
		BootConfigID: d.BootConfigID,
		EggIDs:       d.EggIDs,
		Principal:    principal,
		retryOf:      d.ID,
	})
}

// Shutdown cancels every running job context and waits for executors to
// drain or ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute drives one job to a terminal state.
func (e *Engine) execute(ctx context.Context, deploymentID string, machine *model.Machine, image *model.Image, bootConfig *model.BootConfig, eggIDs []string) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		if cancel, ok := e.cancels[deploymentID]; ok {
			cancel()
			delete(e.cancels, deploymentID)
		}
		e.mu.Unlock()
	}()

	// Subscribe before the deploy call so the completion transition
	// cannot slip past between deploy and subscribe.
	transitions := e.tracker.Subscribe(machine.ID)
	defer e.tracker.Unsubscribe(machine.ID, transitions)

	d, err := e.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		log.Printf("engine: loading deployment %s: %v", deploymentID, err)
		return
	}
	// Cancel may have won the race against this goroutine starting.
	if d.Status.Terminal() {
		return
	}

	now := time.Now().UTC()
	d.Status = model.DeploymentInProgress
	d.StartedAt = &now
	if err := e.store.UpdateDeployment(ctx, d); err != nil {
		if errors.Is(err, store.ErrDeploymentTerminal) {
			return
		}
		e.fail(d, fmt.Sprintf("starting deployment: %v", err))
		return
	}

	// Compose.
	result, err := e.composer.Compose(ctx, machine, eggIDs)
	if err != nil {
		e.fail(d, fmt.Sprintf("composition failed: %v", err))
		return
	}
	script, err := compose.RenderBootScript(image, bootConfig, machine)
	if err != nil {
		e.fail(d, fmt.Sprintf("boot script rendering failed: %v", err))
		return
	}
	d.ProgressPercent = 10
	if !e.persist(d) {
		return
	}
	e.emit(d, EventComposed,
		fmt.Sprintf("rendered cloud-init (%d bytes) and boot script (%d bytes)", len(result.CloudInit), len(script)))

	if e.stopped(ctx, d.ID) {
		return
	}

	// Deploy. Transient backend errors are retried inside the client;
	// whatever comes back here is final.
	imageRef := maas.ImageRef{
		BackendID:    image.BackendID,
		Name:         image.Name,
		Version:      image.Version,
		Architecture: image.Architecture,
	}
	token, err := e.backend.Deploy(ctx, machine.ID, imageRef, string(result.CloudInit))
	if err != nil {
		if e.stopped(ctx, d.ID) {
			return
		}
		e.fail(d, fmt.Sprintf("backend deploy failed: %v", err))
		return
	}
	// Cancel may have settled the record while Deploy was in flight; the
	// guarded write below refuses to resurrect it.
	d.ProgressPercent = 25
	if !e.persist(d) {
		return
	}
	e.emit(d, EventDeployAccepted, fmt.Sprintf("backend accepted deploy, job token %s", token))

	// Wait for the tracker to observe the outcome.
	deadline := time.NewTimer(e.timeouts.DeployComplete)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			// Cancel already wrote the terminal record.
			return
		case <-deadline.C:
			e.fail(d, fmt.Sprintf("no completion observed within %s", e.timeouts.DeployComplete))
			return
		case tr, ok := <-transitions:
			if !ok {
				return
			}
			switch tr.To {
			case model.MachineDeploying:
				d.ProgressPercent = 50
				if !e.persist(d) {
					return
				}
				e.emit(d, EventDeploying, "machine is installing")
			case model.MachineDeployed:
				e.complete(d)
				return
			case model.MachineFailed:
				msg := tr.ErrorMessage
				if msg == "" {
					msg = "machine reported deployment failure"
				}
				e.fail(d, msg)
				return
			}
		}
	}
}

// stopped reports whether the job was cancelled. Checked at step
// boundaries only; in-flight calls are not forcibly aborted.
func (e *Engine) stopped(ctx context.Context, deploymentID string) bool {
	if ctx.Err() != nil {
		return true
	}
	d, err := e.store.GetDeployment(context.Background(), deploymentID)
	if err != nil {
		return false
	}
	return d.Status == model.DeploymentCancelled
}

// persist writes the job record through the store's terminal guard. A
// false return means the stored record went terminal underneath this
// executor: cancellation won the race, the record and gauge are already
// settled, and the executor must stop without further writes or events.
func (e *Engine) persist(d *model.Deployment) bool {
	err := e.store.UpdateDeployment(context.Background(), d)
	if errors.Is(err, store.ErrDeploymentTerminal) {
		return false
	}
	if err != nil {
		log.Printf("engine: updating deployment %s: %v", d.ID, err)
	}
	return true
}

func (e *Engine) complete(d *model.Deployment) {
	now := time.Now().UTC()
	d.Status = model.DeploymentCompleted
	d.ProgressPercent = 100
	d.CompletedAt = &now
	if !e.persist(d) {
		return
	}
	metrics.ActiveDeployments.Dec()
	e.emit(d, EventCompleted, "machine reached deployed")
}

func (e *Engine) fail(d *model.Deployment, message string) {
	now := time.Now().UTC()
	d.Status = model.DeploymentFailed
	d.ProgressPercent = 100
	d.ErrorMessage = message
	d.CompletedAt = &now
	if !e.persist(d) {
		return
	}
	metrics.ActiveDeployments.Dec()
	e.emit(d, EventFailed, message)
}

// emit appends the event to the persistent job log and notifies the
// observer. Persistence failures are logged, never fatal to the job.
func (e *Engine) emit(d *model.Deployment, eventType EventType, message string) {
	event := Event{
		Type:         eventType,
		DeploymentID: d.ID,
		MachineID:    d.MachineID,
		Message:      message,
		Timestamp:    time.Now().UTC(),
	}
	if err := e.store.AppendDeploymentEvent(context.Background(), &model.DeploymentEvent{
		DeploymentID: d.ID,
		Type:         string(eventType),
		Message:      message,
		Timestamp:    event.Timestamp,
	}); err != nil {
		log.Printf("engine: persisting event for %s: %v", d.ID, err)
	}
	e.observer.Event(event)
}
