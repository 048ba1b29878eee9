// Package queue implements the job queue (§4.J): a bounded in-process FIFO
// feeding a fixed worker pool, each worker running one sync execution at a
// time via internal/sync, with exponential-backoff retry on transient
// failures and job:* events for listeners.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/syncmesh/syncmesh/internal/applog"
	"github.com/syncmesh/syncmesh/internal/storage"
	syncengine "github.com/syncmesh/syncmesh/internal/sync"
	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

const (
	defaultWorkers    = 5
	defaultQueueLen   = 100
	defaultMaxAttempt = 3
)

// EventType names one of the job lifecycle events a Queue emits (§4.J).
type EventType string

const (
	EventQueued    EventType = "job:queued"
	EventStarted   EventType = "job:started"
	EventCompleted EventType = "job:completed"
	EventFailed    EventType = "job:failed"
)

// Event is delivered to every listener registered via OnEvent.
type Event struct {
	Type EventType
	Job  *types.Job
}

// Counts is the snapshot queue() reports (§4.J "status").
type Counts struct {
	Queued    int `json:"queued"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Queue is a bounded FIFO of jobs drained by a fixed worker pool. Job state
// lives in process memory only; the queue does not persist across restarts.
type Queue struct {
	store  storage.Store
	engine *syncengine.Engine
	log    *applog.Logger

	workerCount int
	pending     chan *types.Job

	mu        sync.Mutex
	jobs      map[string]*types.Job
	backoffs  map[string]backoff.BackOff
	running   map[string]context.CancelFunc
	listeners []func(Event)

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Queue. workerCount <= 0 defaults to 5; maxQueueLen <= 0
// defaults to 100.
func New(store storage.Store, engine *syncengine.Engine, workerCount, maxQueueLen int) *Queue {
	if workerCount <= 0 {
		workerCount = defaultWorkers
	}
	if maxQueueLen <= 0 {
		maxQueueLen = defaultQueueLen
	}
	return &Queue{
		store:       store,
		engine:      engine,
		log:         applog.New("queue"),
		workerCount: workerCount,
		pending:     make(chan *types.Job, maxQueueLen),
		jobs:        make(map[string]*types.Job),
		backoffs:    make(map[string]backoff.BackOff),
		running:     make(map[string]context.CancelFunc),
	}
}

// OnEvent registers a listener for job:* events. Listeners run synchronously
// on whichever goroutine emits the event; they must not block.
func (q *Queue) OnEvent(fn func(Event)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

func (q *Queue) emit(evt Event) {
	q.mu.Lock()
	listeners := append([]func(Event){}, q.listeners...)
	q.mu.Unlock()
	for _, fn := range listeners {
		fn(evt)
	}
}

// Add implements §4.J's add(job): it appends a new job to the FIFO and
// returns its id, or synerr.ErrQueueFull if the queue is saturated.
// maxAttempts <= 0 defaults to 3.
func (q *Queue) Add(cfgID string, opts types.JobOptions, trigger types.ExecutionTrigger, maxAttempts int) (*types.Job, error) {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempt
	}
	job := &types.Job{
		ID:          uuid.NewString(),
		ConfigID:    cfgID,
		Options:     opts,
		State:       types.JobQueued,
		Trigger:     trigger,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	select {
	case q.pending <- job:
	default:
		q.mu.Lock()
		delete(q.jobs, job.ID)
		q.mu.Unlock()
		return nil, synerr.ErrQueueFull
	}

	q.emit(Event{Type: EventQueued, Job: job})
	return job, nil
}

// Cancel implements §5's "Cancellation & timeouts": it sets job's
// cancellation flag and, if the job is already running, cancels its
// execution context so the worker observes it between item iterations and
// aborts cleanly on its next loop check. Cancelling a queued job prevents
// it from ever starting; cancelling a finished job is an error.
func (q *Queue) Cancel(jobID string) error {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return synerr.ErrNotFound
	}
	switch job.State {
	case types.JobCompleted, types.JobFailed, types.JobCancelled:
		q.mu.Unlock()
		return fmt.Errorf("queue: job %s already finished", jobID)
	}
	job.Cancel = true
	cancel, isRunning := q.running[jobID]
	q.mu.Unlock()

	if isRunning {
		cancel()
	}
	return nil
}

// Status implements §4.J's status(id).
func (q *Queue) Status(id string) (*types.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, synerr.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// Counts implements §4.J's queue(): {queued, active, completed, failed}.
func (q *Queue) Counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()
	var c Counts
	for _, j := range q.jobs {
		switch j.State {
		case types.JobQueued:
			c.Queued++
		case types.JobRunning:
			c.Active++
		case types.JobCompleted:
			c.Completed++
		case types.JobFailed, types.JobCancelled:
			c.Failed++
		}
	}
	return c
}

// Start launches the worker pool. Each worker runs one job to completion
// before taking another (§4.J "Workers").
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Stop signals workers to take no further jobs and waits up to grace for
// in-flight jobs to finish, matching §5's "queue drains in-flight jobs with
// a bounded grace period" shutdown order.
func (q *Queue) Stop(grace time.Duration) {
	if q.cancel != nil {
		q.cancel()
	}
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		q.log.Warn("stop: grace period elapsed with jobs still in flight")
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.pending:
			if !ok {
				return
			}
			q.runJob(ctx, job)
		}
	}
}

// update applies fn to job under the queue's lock, so concurrent Status/
// Counts calls never observe a partially-written job.
func (q *Queue) update(job *types.Job, fn func(*types.Job)) {
	q.mu.Lock()
	fn(job)
	q.mu.Unlock()
}

// runJob implements §4.J's "Execution": load the config, construct the
// engine's execute call, and route the result to completed/failed/retry.
// A job's final state is completed even when the sync returned per-item
// errors — job failure denotes engine-level failure, not per-item errors.
func (q *Queue) runJob(ctx context.Context, job *types.Job) {
	q.mu.Lock()
	alreadyCancelled := job.Cancel
	q.mu.Unlock()
	if alreadyCancelled {
		q.cancelJob(job)
		return
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.mu.Lock()
	q.running[job.ID] = cancel
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.running, job.ID)
		q.mu.Unlock()
		cancel()
	}()

	q.update(job, func(j *types.Job) {
		j.Attempts++
		now := time.Now().UTC()
		j.StartedAt = &now
		j.State = types.JobRunning
	})
	q.emit(Event{Type: EventStarted, Job: job})

	cfg, err := q.store.GetSyncConfig(jobCtx, job.ConfigID)
	if err != nil {
		q.failJob(job, fmt.Errorf("queue: load sync config %s: %w", job.ConfigID, err))
		return
	}

	summary, err := q.engine.Execute(jobCtx, cfg, job.Options, job.Trigger)
	if err != nil {
		if errors.Is(err, synerr.ErrCancelled) || errors.Is(err, context.Canceled) {
			q.cancelJob(job)
			return
		}
		if synerr.Retryable(err) && job.Attempts < job.MaxAttempts {
			q.retryJob(ctx, job, err)
			return
		}
		q.failJob(job, err)
		return
	}

	q.update(job, func(j *types.Job) {
		now := time.Now().UTC()
		j.CompletedAt = &now
		j.State = types.JobCompleted
		j.Result = summary
	})
	q.mu.Lock()
	delete(q.backoffs, job.ID)
	q.mu.Unlock()
	q.emit(Event{Type: EventCompleted, Job: job})
}

// cancelJob transitions job to JobCancelled with reason "cancelled" (§5
// "Cancellation & timeouts"). Distinct from failJob: a cancellation is an
// operator-requested abort, not an execution failure, and is never retried.
func (q *Queue) cancelJob(job *types.Job) {
	q.update(job, func(j *types.Job) {
		now := time.Now().UTC()
		j.CompletedAt = &now
		j.State = types.JobCancelled
		j.Error = "cancelled"
	})
	q.mu.Lock()
	delete(q.backoffs, job.ID)
	delete(q.running, job.ID)
	q.mu.Unlock()
	q.emit(Event{Type: EventFailed, Job: job})
}

func (q *Queue) failJob(job *types.Job, cause error) {
	q.update(job, func(j *types.Job) {
		now := time.Now().UTC()
		j.CompletedAt = &now
		j.State = types.JobFailed
		j.Error = cause.Error()
	})
	q.mu.Lock()
	delete(q.backoffs, job.ID)
	q.mu.Unlock()
	q.emit(Event{Type: EventFailed, Job: job})
}

// retryJob schedules job to re-enter the FIFO after an exponential backoff
// interval, per job so repeated failures widen the delay (§4.J "Retries").
func (q *Queue) retryJob(ctx context.Context, job *types.Job, cause error) {
	q.mu.Lock()
	bo, ok := q.backoffs[job.ID]
	if !ok {
		fresh := backoff.NewExponentialBackOff()
		fresh.MaxElapsedTime = 0 // bounded by maxAttempts, not elapsed wall time
		bo = fresh
		q.backoffs[job.ID] = bo
	}
	q.mu.Unlock()
	wait := bo.NextBackOff()

	q.update(job, func(j *types.Job) {
		j.State = types.JobQueued
		j.Error = cause.Error()
	})
	q.log.Warn(fmt.Sprintf("job %s attempt %d failed, retrying in %s: %v", job.ID, job.Attempts, wait, cause))

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		select {
		case q.pending <- job:
			q.emit(Event{Type: EventQueued, Job: job})
		default:
			q.failJob(job, synerr.ErrQueueFull)
		}
	}()
}
