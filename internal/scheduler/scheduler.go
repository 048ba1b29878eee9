// Package scheduler implements the cron scheduler (§4.K): it maintains one
// hardloop cron entry per active, scheduled sync configuration and, on each
// fire, enqueues a job into internal/queue. It never executes syncs itself.
//
// hardloop's cron runner does not support adding or removing individual
// entries once started, so schedule/unschedule rebuild the whole runner from
// the current set of active configs, the same way the teacher's workflow
// scheduler reloads on every trigger mutation.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/worldline-go/hardloop"

	"github.com/syncmesh/syncmesh/internal/applog"
	"github.com/syncmesh/syncmesh/internal/queue"
	"github.com/syncmesh/syncmesh/internal/storage"
	"github.com/syncmesh/syncmesh/internal/types"
)

// cronRunner is satisfied by hardloop's unexported cron job type, returned
// from hardloop.NewCron.
type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// Status is what status() reports (§4.K).
type Status struct {
	IsRunning bool `json:"isRunning"`
	JobCount  int  `json:"jobCount"`
}

// Scheduler maintains the active cron schedule set and enqueues jobs on
// fire. It holds no sync-execution logic of its own.
type Scheduler struct {
	store storage.Store
	queue *queue.Queue
	log   *applog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	cron    cronRunner
	running bool
	count   int
}

// New constructs a Scheduler. It does not start anything until Start is
// called.
func New(store storage.Store, q *queue.Queue) *Scheduler {
	return &Scheduler{
		store: store,
		queue: q,
		log:   applog.New("scheduler"),
	}
}

// Start loads every active, scheduled sync config from the store and
// registers a cron entry for each. Call once during process boot.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.reload()
}

// Stop halts the cron runner. Safe to call multiple times, and safe to call
// on a Scheduler that was never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	s.running = false
}

// Schedule implements §4.K's schedule(configId, cronExpr): it persists the
// config as scheduled with the given expression and rebuilds the cron
// runner from the current active set.
func (s *Scheduler) Schedule(ctx context.Context, configID, cronExpr string) error {
	cfg, err := s.store.GetSyncConfig(ctx, configID)
	if err != nil {
		return fmt.Errorf("scheduler: load config %s: %w", configID, err)
	}
	cfg.TriggerKind = types.TriggerScheduled
	cfg.CronExpr = cronExpr
	if err := s.store.UpdateSyncConfig(ctx, cfg); err != nil {
		return fmt.Errorf("scheduler: persist schedule for %s: %w", configID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload()
}

// Unschedule implements §4.K's unschedule(configId): it reverts the config
// to manual triggering and rebuilds the cron runner.
func (s *Scheduler) Unschedule(ctx context.Context, configID string) error {
	cfg, err := s.store.GetSyncConfig(ctx, configID)
	if err != nil {
		return fmt.Errorf("scheduler: load config %s: %w", configID, err)
	}
	cfg.TriggerKind = types.TriggerManual
	cfg.CronExpr = ""
	if err := s.store.UpdateSyncConfig(ctx, cfg); err != nil {
		return fmt.Errorf("scheduler: persist unschedule for %s: %w", configID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload()
}

// Status implements §4.K's status(): {isRunning, jobCount}.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{IsRunning: s.running, JobCount: s.count}
}

// reload stops any running cron and rebuilds it from the store's current
// active-scheduled set. Must be called with s.mu held.
func (s *Scheduler) reload() error {
	s.stopLocked()

	if s.ctx == nil {
		return nil
	}

	configs, err := s.store.ListActiveScheduledConfigs(s.ctx)
	if err != nil {
		return fmt.Errorf("scheduler: load active scheduled configs: %w", err)
	}

	crons := make([]hardloop.Cron, 0, len(configs))
	for _, cfg := range configs {
		if cfg.CronExpr == "" {
			s.log.Warn(fmt.Sprintf("config %s marked scheduled with no cron expression, skipping", cfg.ID))
			continue
		}
		c := cfg
		crons = append(crons, hardloop.Cron{
			Name:  fmt.Sprintf("sync-%s", c.ID),
			Specs: []string{c.CronExpr},
			Func:  s.makeCronFunc(c),
		})
	}

	s.count = len(crons)
	if len(crons) == 0 {
		s.log.Info("no active scheduled configs found")
		return nil
	}

	cronJob, err := hardloop.NewCron(crons...)
	if err != nil {
		return fmt.Errorf("scheduler: create cron runner: %w", err)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.cancel = cancel
	s.cron = cronJob
	if err := cronJob.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("scheduler: start cron runner: %w", err)
	}
	s.running = true
	s.log.Info(fmt.Sprintf("started %d scheduled cron entries", len(crons)))
	return nil
}

// makeCronFunc returns the function hardloop calls on each tick for cfg. It
// only enqueues a job; it never runs the sync engine directly (§4.K,
// §5 "scheduler ... only enqueue; they never execute syncs inline").
func (s *Scheduler) makeCronFunc(cfg *types.SyncConfig) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		s.log.Info(fmt.Sprintf("cron fired for config %s", cfg.ID))
		job, err := s.queue.Add(cfg.ID, types.JobOptions{}, types.ExecTriggerScheduled, 0)
		if err != nil {
			s.log.Error(fmt.Sprintf("enqueue job for config %s: %v", cfg.ID, err))
			return nil // don't stop the cron loop on a transient queue error
		}
		s.log.Info(fmt.Sprintf("enqueued job %s for config %s at %s", job.ID, cfg.ID, time.Now().UTC().Format(time.RFC3339)))
		return nil
	}
}
