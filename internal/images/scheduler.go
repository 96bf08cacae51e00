package images

import (
	"context"
	"log"
	"time"

	"github.com/hatchery-sh/hatchery/internal/store"
)

// schedulerJobName keys the persisted last-run timestamp.
const schedulerJobName = "image-sync"

// Scheduler runs the image lifecycle pass on a fixed interval. The last
// run time is persisted, so a restart does not reset the schedule.
type Scheduler struct {
	store    *store.Store
	manager  *Manager
	interval time.Duration

	// now and tick are swapped in tests.
	now  func() time.Time
	tick time.Duration
}

// NewScheduler builds a scheduler checking every interval.
func NewScheduler(s *store.Store, manager *Manager, interval time.Duration) *Scheduler {
	return &Scheduler{
		store:    s,
		manager:  manager,
		interval: interval,
		now:      time.Now,
		tick:     time.Minute,
	}
}

// Run blocks until ctx is cancelled, firing a lifecycle pass whenever the
// persisted last run is older than the interval.
func (s *Scheduler) Run(ctx context.Context) error {
	// An overdue schedule fires immediately on startup.
	s.maybeRun(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.maybeRun(ctx)
		}
	}
}

func (s *Scheduler) maybeRun(ctx context.Context) {
	last, err := s.store.LastRun(ctx, schedulerJobName)
	if err != nil {
		log.Printf("images: reading schedule: %v", err)
		return
	}
	now := s.now()
	if now.Sub(last) < s.interval {
		return
	}

	if err := s.store.SetLastRun(ctx, schedulerJobName, now); err != nil {
		log.Printf("images: recording schedule: %v", err)
		return
	}
	if err := s.manager.CheckAll(ctx); err != nil {
		log.Printf("images: lifecycle pass: %v", err)
	}
}
