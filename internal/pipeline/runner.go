package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/bindery/internal/jobs"
)

const (
	DefaultWorkers   = 2
	DefaultQueueSize = 100

	interruptedMessage = "interrupted by restart"
)

// ErrQueueFull is returned by Enqueue when the queue has no room.
var ErrQueueFull = errors.New("job queue is full")

// JobRunner executes one job. *Orchestrator implements it.
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Orchestrator JobRunner
	Store        jobs.Store
	Workers      int
	QueueSize    int
	Logger       *slog.Logger
}

// Runner feeds queued jobs to a fixed set of workers.
type Runner struct {
	orch    JobRunner
	store   jobs.Store
	queue   chan string
	workers int
	logger  *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// NewRunner creates a runner. Call Start to begin processing.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		orch:    cfg.Orchestrator,
		store:   cfg.Store,
		queue:   make(chan string, cfg.QueueSize),
		workers: cfg.Workers,
		logger:  cfg.Logger,
		running: make(map[string]context.CancelFunc),
	}
}

// Start launches the workers and then recovers jobs left over from a
// previous process. Workers stop when ctx is cancelled; use Wait to block
// until they have.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("runner already started")
	}
	r.started = true
	r.mu.Unlock()

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
	r.logger.Info("job runner started", "workers", r.workers, "queue_size", cap(r.queue))

	failed, requeued, err := r.Recover(ctx)
	if err != nil {
		return fmt.Errorf("job recovery failed: %w", err)
	}
	if failed > 0 || requeued > 0 {
		r.logger.Info("recovered jobs", "failed", failed, "requeued", requeued)
	}
	return nil
}

// Wait blocks until all workers have exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Enqueue adds a job without blocking.
func (r *Runner) Enqueue(ctx context.Context, jobID string) error {
	select {
	case r.queue <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Interrupt cancels the context of a running job. Jobs not running are
// unaffected.
func (r *Runner) Interrupt(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.running[jobID]; ok {
		cancel()
	}
}

// Stats returns queued and running job counts.
func (r *Runner) Stats() (queued, running int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue), len(r.running)
}

// Recover fails jobs that were mid-stage when the previous process stopped
// and re-enqueues jobs that never started, oldest first.
func (r *Runner) Recover(ctx context.Context) (failed, requeued int, err error) {
	stale, err := r.store.List(ctx, jobs.ListFilter{
		Statuses: []jobs.Status{jobs.StatusAnalyzing, jobs.StatusExtracting, jobs.StatusStructuring, jobs.StatusGenerating},
		Limit:    10000,
	})
	if err != nil {
		return 0, 0, err
	}
	for _, j := range stale {
		r.mu.Lock()
		_, active := r.running[j.ID]
		r.mu.Unlock()
		if active {
			continue
		}
		_, err := r.store.Update(ctx, j.ID, func(j *jobs.ConversionJob) error {
			if err := j.Transition(jobs.StatusFailed, "Failed during "+j.CurrentStage, time.Now().UTC()); err != nil {
				return err
			}
			j.ErrorMessage = interruptedMessage
			return nil
		})
		if err != nil && !errors.Is(err, jobs.ErrTerminal) {
			r.logger.Warn("failed to mark interrupted job", "job_id", j.ID, "error", err)
			continue
		}
		failed++
	}

	waiting, err := r.store.List(ctx, jobs.ListFilter{
		Statuses: []jobs.Status{jobs.StatusUploaded, jobs.StatusQueued},
		Limit:    10000,
	})
	if err != nil {
		return failed, 0, err
	}
	for i := len(waiting) - 1; i >= 0; i-- {
		select {
		case r.queue <- waiting[i].ID:
			requeued++
		case <-ctx.Done():
			return failed, requeued, ctx.Err()
		}
	}
	return failed, requeued, nil
}

func (r *Runner) worker(ctx context.Context, n int) {
	defer r.wg.Done()
	logger := r.logger.With("worker", n)
	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopping")
			return
		case id := <-r.queue:
			r.runOne(ctx, logger, id)
		}
	}
}

func (r *Runner) runOne(ctx context.Context, logger *slog.Logger, id string) {
	jobCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.running[id] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.running, id)
		r.mu.Unlock()
		cancel()
	}()

	err := r.orch.Run(jobCtx, id)
	if err == nil || ctx.Err() != nil {
		return
	}
	logger.Error("job run failed", "job_id", id, "error", err)
	if errors.Is(err, jobs.ErrNotFound) {
		return
	}
	_, uerr := r.store.Update(context.WithoutCancel(ctx), id, func(j *jobs.ConversionJob) error {
		if err := j.Transition(jobs.StatusFailed, "Failed to run", time.Now().UTC()); err != nil {
			return err
		}
		j.ErrorMessage = err.Error()
		return nil
	})
	if uerr != nil && !errors.Is(uerr, jobs.ErrTerminal) {
		logger.Warn("failed to mark job failed", "job_id", id, "error", uerr)
	}
}
