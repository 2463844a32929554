// Package scheduler runs the two recurring background jobs (component
// H): expire stale environments and refresh external library repos.
// Deliberately built on stdlib time.Ticker rather than a cron library —
// both jobs are fixed-period, single-instance, and a third-party
// scheduler would add a dependency for something two Tickers already do.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sandboxd/internal/envstore"
	"sandboxd/internal/libraries"
	"sandboxd/internal/metrics"
)

// Scheduler owns the expiration and library-refresh loops. Each job is
// coalesced: a tick that arrives while the previous run of the same job
// is still in flight is silently skipped rather than queued, so a slow
// run never stacks up retries.
type Scheduler struct {
	store   *envstore.Store
	stager  *libraries.Stager
	log     *zap.Logger
	ttl     time.Duration
	expireEvery time.Duration
	refreshEvery time.Duration

	expireBusy  sync.Mutex
	refreshBusy sync.Mutex
}

// New builds a Scheduler. Call Run to start both loops; Run blocks
// until ctx is canceled.
func New(store *envstore.Store, stager *libraries.Stager, log *zap.Logger, ttl, expireEvery, refreshEvery time.Duration) *Scheduler {
	return &Scheduler{
		store:        store,
		stager:       stager,
		log:          log,
		ttl:          ttl,
		expireEvery:  expireEvery,
		refreshEvery: refreshEvery,
	}
}

// Run starts both recurring jobs, refreshing libraries once immediately
// (per spec: "on startup and on a cron trigger"), and blocks until ctx
// is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	s.runRefresh(ctx)

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, s.expireEvery, s.runExpire)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, s.refreshEvery, s.runRefresh)
	}()
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, job func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

func (s *Scheduler) runExpire(ctx context.Context) {
	if !s.expireBusy.TryLock() {
		s.log.Debug("scheduler: expire already running, skipping tick")
		return
	}
	defer s.expireBusy.Unlock()

	removed, err := s.store.Expire(time.Now(), s.ttl)
	if err != nil {
		s.log.Error("scheduler: expire job failed", zap.Error(err))
		return
	}
	if removed > 0 {
		metrics.Get().EnvironmentsExpired.Add(float64(removed))
		s.log.Info("scheduler: expired environments", zap.Int("removed", removed))
	}
}

func (s *Scheduler) runRefresh(ctx context.Context) {
	if !s.refreshBusy.TryLock() {
		s.log.Debug("scheduler: refresh already running, skipping tick")
		return
	}
	defer s.refreshBusy.Unlock()

	if err := s.stager.RefreshAll(ctx); err != nil {
		s.log.Warn("scheduler: library refresh had failures", zap.Error(err))
	}
}
