// Package tracker maintains the canonical machine lifecycle state by
// reconciling backend snapshots against local records.
//
// Poll results and webhook pushes feed the same ingest path, Observe, so
// push/poll behave identically and a single test surface covers both.
// Status transitions are validated against the lifecycle table; on an
// invalid edge the backend value wins but any active deployment on the
// machine is flagged for manual review instead of silently rewritten.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hatchery-sh/hatchery/internal/metrics"
	"github.com/hatchery-sh/hatchery/internal/model"
	"github.com/hatchery-sh/hatchery/internal/platform/maas"
	"github.com/hatchery-sh/hatchery/internal/store"
)

// subscriberBuffer bounds each subscription channel. When a subscriber
// falls behind, the oldest transition is dropped so the reconciler never
// blocks on fan-out.
const subscriberBuffer = 16

// Transition is one observed machine status change.
type Transition struct {
	MachineID    string
	From         model.MachineStatus
	To           model.MachineStatus
	ErrorMessage string
}

// Tracker reconciles machine state between the backend and the store.
type Tracker struct {
	store          *store.Store
	backend        maas.MachineManager
	activeInterval time.Duration
	idleInterval   time.Duration

	mu           sync.Mutex
	subscribers  map[string][]chan Transition
	lastSeen     map[string]time.Time
	machineLocks map[string]*sync.Mutex
}

// New builds a tracker polling at activeInterval for machines that are
// commissioning or deploying and at idleInterval for everything else.
func New(s *store.Store, backend maas.MachineManager, activeInterval, idleInterval time.Duration) *Tracker {
	return &Tracker{
		store:          s,
		backend:        backend,
		activeInterval: activeInterval,
		idleInterval:   idleInterval,
		subscribers:    map[string][]chan Transition{},
		lastSeen:       map[string]time.Time{},
		machineLocks:   map[string]*sync.Mutex{},
	}
}

// machineLock returns the mutex serializing observations of one machine.
// Poll and webhook can deliver snapshots for the same machine at once;
// without serialization the revision check and the upsert interleave and
// a lower revision can end up stored.
func (t *Tracker) machineLock(machineID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.machineLocks[machineID]
	if !ok {
		l = &sync.Mutex{}
		t.machineLocks[machineID] = l
	}
	return l
}

// Run drives the reconciliation loops until ctx is cancelled. A full
// backend sweep runs every idle interval; machines in an active lifecycle
// state are additionally polled one-by-one every active interval unless a
// snapshot for them arrived in the meantime.
func (t *Tracker) Run(ctx context.Context) error {
	// Prime local state before the first tick.
	if err := t.reconcileAll(ctx); err != nil {
		log.Printf("tracker: initial reconcile: %v", err)
	}

	activeTicker := time.NewTicker(t.activeInterval)
	defer activeTicker.Stop()
	idleTicker := time.NewTicker(t.idleInterval)
	defer idleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idleTicker.C:
			if err := t.reconcileAll(ctx); err != nil {
				log.Printf("tracker: reconcile: %v", err)
			}
		case <-activeTicker.C:
			t.pollActive(ctx)
		}
	}
}

// reconcileAll pulls the full machine list and observes every snapshot.
// Machines that vanished from the backend are soft-removed, never
// deleted, so deployment history keeps resolving.
func (t *Tracker) reconcileAll(ctx context.Context) error {
	list, err := t.backend.ListMachines(ctx, maas.MachineFilter{})
	if err != nil {
		return fmt.Errorf("listing backend machines: %w", err)
	}

	seen := make(map[string]bool, len(list.Machines))
	for i := range list.Machines {
		snap := &list.Machines[i]
		seen[snap.SystemID] = true
		if err := t.Observe(ctx, snap); err != nil {
			log.Printf("tracker: observe %s: %v", snap.SystemID, err)
		}
	}

	// A truncated listing cannot prove absence.
	if list.Truncated {
		return nil
	}

	local, err := t.store.ListMachines(ctx, false)
	if err != nil {
		return fmt.Errorf("listing local machines: %w", err)
	}
	for _, m := range local {
		if !seen[m.ID] {
			log.Printf("tracker: machine %s disappeared from backend, soft-removing", m.ID)
			if err := t.store.MarkMachineRemoved(ctx, m.ID, time.Now()); err != nil {
				log.Printf("tracker: soft-remove %s: %v", m.ID, err)
			}
		}
	}
	return nil
}

// pollActive refreshes machines in commissioning or deploying state,
// skipping any that a webhook (or the full sweep) already refreshed
// within the active interval.
func (t *Tracker) pollActive(ctx context.Context) {
	local, err := t.store.ListMachines(ctx, false)
	if err != nil {
		log.Printf("tracker: listing local machines: %v", err)
		return
	}

	cutoff := time.Now().Add(-t.activeInterval)
	for _, m := range local {
		if m.Status != model.MachineCommissioning && m.Status != model.MachineDeploying {
			continue
		}
		t.mu.Lock()
		fresh := t.lastSeen[m.ID].After(cutoff)
		t.mu.Unlock()
		if fresh {
			continue
		}

		snap, err := t.backend.GetMachine(ctx, m.ID)
		if err != nil {
			log.Printf("tracker: polling %s: %v", m.ID, err)
			continue
		}
		if err := t.Observe(ctx, snap); err != nil {
			log.Printf("tracker: observe %s: %v", m.ID, err)
		}
	}
}

// Observe ingests one machine snapshot. It is the single entry point for
// poll results and webhook pushes. Snapshots at or below the last applied
// revision are dropped, which makes webhook replays no-ops. Observations
// of the same machine are serialized so the revision check and the upsert
// cannot interleave across concurrent callers.
func (t *Tracker) Observe(ctx context.Context, snap *maas.MachineSnapshot) error {
	to := snap.LifecycleStatus()
	if to == model.MachineUnknown {
		log.Printf("tracker: machine %s: unrecognized backend status %q, skipping", snap.SystemID, snap.Status)
		return nil
	}

	t.mu.Lock()
	t.lastSeen[snap.SystemID] = time.Now()
	t.mu.Unlock()

	lock := t.machineLock(snap.SystemID)
	lock.Lock()
	defer lock.Unlock()

	isNew := false
	local, err := t.store.GetMachine(ctx, snap.SystemID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Newly seen backend identifier: the record enters as discovered
		// and adopts the backend status in the same observation.
		isNew = true
		local = &model.Machine{ID: snap.SystemID, Status: model.MachineDiscovered}
	case err != nil:
		return fmt.Errorf("loading machine %s: %w", snap.SystemID, err)
	default:
		if snap.Revision <= local.Revision {
			return nil
		}
	}

	from := local.Status
	applySnapshot(local, snap, to)

	if !isNew && from != to && !CanTransition(from, to) {
		// Conflict: the backend wins, but an in-flight job must not be
		// silently rewritten underneath its operator.
		metrics.ReconcileConflicts.Inc()
		log.Printf("tracker: machine %s: invalid edge %s -> %s, trusting backend", snap.SystemID, from, to)
		if d, derr := t.store.ActiveDeploymentForMachine(ctx, snap.SystemID); derr == nil {
			d.NeedsReview = true
			if uerr := t.store.UpdateDeployment(ctx, d); uerr != nil {
				log.Printf("tracker: flagging deployment %s for review: %v", d.ID, uerr)
			}
		} else if !errors.Is(derr, store.ErrNotFound) {
			log.Printf("tracker: checking active deployment for %s: %v", snap.SystemID, derr)
		}
	}

	local.Status = to
	if err := t.store.UpsertMachine(ctx, local); err != nil {
		return fmt.Errorf("persisting machine %s: %w", snap.SystemID, err)
	}

	if from != to {
		t.notify(Transition{
			MachineID:    snap.SystemID,
			From:         from,
			To:           to,
			ErrorMessage: snap.ErrorMessage,
		})
	}
	return nil
}

// applySnapshot copies snapshot attributes onto the local record. Status
// is handled by the caller.
func applySnapshot(m *model.Machine, snap *maas.MachineSnapshot, to model.MachineStatus) {
	m.Hostname = snap.Hostname
	m.Architecture = snap.Architecture
	m.CPUCount = snap.CPUCount
	m.MemoryMB = snap.MemoryMB
	m.DiskGB = snap.DiskGB
	m.PowerType = snap.PowerType
	m.PowerAddress = snap.PowerAddress
	m.MACAddresses = snap.MACAddresses
	m.IPAddresses = snap.IPAddresses
	m.Zone = snap.Zone
	m.Pool = snap.Pool
	m.Tags = snap.Tags
	m.ProvisioningStatus = snap.StatusMessage
	// Error text only survives on a failed machine; a recovered machine
	// must not keep resurfacing the old failure.
	if to == model.MachineFailed {
		m.ErrorMessage = snap.ErrorMessage
	} else {
		m.ErrorMessage = ""
	}
	m.Revision = snap.Revision
	m.LastHeartbeat = time.Now().UTC()
	m.RemovedAt = nil
}

// Subscribe returns a channel of transitions for one machine. The channel
// is bounded; a slow consumer loses the oldest transitions first.
func (t *Tracker) Subscribe(machineID string) <-chan Transition {
	ch := make(chan Transition, subscriberBuffer)
	t.mu.Lock()
	t.subscribers[machineID] = append(t.subscribers[machineID], ch)
	t.mu.Unlock()
	return ch
}

// Unsubscribe releases a channel obtained from Subscribe.
func (t *Tracker) Unsubscribe(machineID string, ch <-chan Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.subscribers[machineID]
	for i, sub := range subs {
		if sub == ch {
			t.subscribers[machineID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(t.subscribers[machineID]) == 0 {
		delete(t.subscribers, machineID)
	}
}

func (t *Tracker) notify(tr Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subscribers[tr.MachineID] {
		select {
		case ch <- tr:
			continue
		default:
		}
		// Full: drop the oldest, then retry the send once.
		select {
		case dropped := <-ch:
			log.Printf("tracker: subscriber for %s lagging, dropped %s -> %s", tr.MachineID, dropped.From, dropped.To)
		default:
		}
		select {
		case ch <- tr:
		default:
		}
	}
}
