// Package engine runs admitted jobs on a bounded worker pool and feeds their
// lifecycle back into the registry and the progress hub.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tunepull/internal/core"
	"tunepull/internal/progress"
)

// ErrQueueFull is returned by Dispatch when the backlog is saturated.
var ErrQueueFull = errors.New("job queue is full")

// Registry is the slice of the job registry the engine writes to.
type Registry interface {
	MarkProcessing(jobID string) (bool, error)
	MarkCompleted(jobID string, result core.JobResult) error
	MarkFailed(jobID, reason string) error
	MarkCancelled(jobID, note string) (bool, error)
}

// Workspace provisions the directory a job downloads into.
type Workspace interface {
	EnsureJobDir(sessionID, jobID string) (string, error)
}

// Config controls pool sizing and shutdown behavior.
type Config struct {
	// Workers is the number of concurrent extractions (default 4).
	Workers int
	// QueueDepth bounds the dispatch backlog (default 64).
	QueueDepth int
	// GracePeriod is how long Stop waits for in-flight jobs before
	// cancelling them (default 10s).
	GracePeriod time.Duration
}

const (
	defaultWorkers     = 4
	defaultQueueDepth  = 64
	defaultGracePeriod = 10 * time.Second
)

// Engine owns the worker pool. Start it once; Dispatch never blocks.
type Engine struct {
	cfg       Config
	registry  Registry
	workspace Workspace
	extractor core.Extractor
	emitter   progress.Emitter
	clock     core.Clock
	logger    *zap.Logger

	queue chan core.Job

	mu      sync.Mutex
	running map[string]context.CancelFunc
	closed  bool

	// baseCtx stops the worker loops; jobsCtx is a separate root for the
	// extractions themselves, so stopping the loops leaves in-flight jobs
	// running until the grace period expires.
	baseCtx  context.Context
	stopBase context.CancelFunc
	jobsCtx  context.Context
	stopJobs context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs an Engine. Call Start before dispatching.
func New(
	cfg Config,
	registry Registry,
	workspace Workspace,
	extractor core.Extractor,
	emitter progress.Emitter,
	clock core.Clock,
	logger *zap.Logger,
) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		registry:  registry,
		workspace: workspace,
		extractor: extractor,
		emitter:   emitter,
		clock:     clock,
		logger:    logger,
		queue:     make(chan core.Job, cfg.QueueDepth),
		running:   make(map[string]context.CancelFunc),
	}
}

// Start launches the worker pool.
func (e *Engine) Start() {
	e.baseCtx, e.stopBase = context.WithCancel(context.Background())
	e.jobsCtx, e.stopJobs = context.WithCancel(context.Background())
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runWorker(e.baseCtx)
		}()
	}
}

// Dispatch enqueues a pending job for execution. It never blocks: a full
// backlog surfaces as ErrQueueFull so the caller can fail the job instead of
// stalling the request path.
func (e *Engine) Dispatch(job core.Job) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return errors.New("engine is shutting down")
	}
	select {
	case e.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Cancel interrupts the job's extraction if it is currently running. Jobs
// still sitting in the queue are skipped by the worker when it finds them
// already terminal in the registry.
func (e *Engine) Cancel(jobID string) {
	e.mu.Lock()
	cancel, ok := e.running[jobID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop drains the pool: no new dispatches are accepted, queued jobs settle
// as cancelled, in-flight jobs get the grace period to finish, and only
// then are their contexts cancelled.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.stopBase()
	defer e.stopJobs()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(e.cfg.GracePeriod)
	defer grace.Stop()
	select {
	case <-done:
		return nil
	case <-grace.C:
		e.stopJobs()
	case <-ctx.Done():
		e.stopJobs()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine stop wait: %w", ctx.Err())
	}
}

func (e *Engine) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued so shutdown does not strand
			// pending jobs silently.
			for {
				select {
				case job := <-e.queue:
					e.settleCancelled(job, "service shutting down")
				default:
					return
				}
			}
		case job := <-e.queue:
			e.process(job)
		}
	}
}

func (e *Engine) process(job core.Job) {
	started, err := e.registry.MarkProcessing(job.ID)
	if err != nil {
		e.logger.Error("job start transition failed",
			zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if !started {
		// Cancelled or reaped while queued.
		e.logger.Debug("skipping job no longer pending", zap.String("job_id", job.ID))
		return
	}

	jobCtx, cancel := context.WithCancel(e.jobsCtx)
	e.mu.Lock()
	e.running[job.ID] = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.running, job.ID)
		e.mu.Unlock()
	}()

	e.emitStatus(job, core.JobStatusProcessing, "")

	outDir, err := e.workspace.EnsureJobDir(job.SessionID, job.ID)
	if err != nil {
		e.fail(job, fmt.Sprintf("workspace setup failed: %v", err))
		return
	}

	req := core.ExtractRequest{
		URL:       job.Spec.URL,
		Quality:   job.Spec.Quality,
		Format:    job.Spec.Format,
		OutputDir: outDir,
	}
	result, err := e.extractor.Extract(jobCtx, req, func(snap core.Snapshot) {
		e.emitter.Emit(progress.Event{
			JobID:           job.ID,
			SessionID:       job.SessionID,
			TS:              snap.UpdatedAt,
			Kind:            progress.KindProgress,
			Percent:         snap.Percent,
			DownloadedBytes: snap.DownloadedBytes,
			TotalBytes:      snap.TotalBytes,
			Stage:           snap.Stage,
		})
	})
	switch {
	case err == nil:
		if markErr := e.registry.MarkCompleted(job.ID, core.JobResult{
			OutputPath: result.OutputPath,
			SizeBytes:  result.SizeBytes,
			Duration:   result.Duration,
			Title:      result.Title,
		}); markErr != nil {
			e.logger.Error("job completion transition failed",
				zap.String("job_id", job.ID), zap.Error(markErr))
			return
		}
		e.emitStatus(job, core.JobStatusCompleted, "")
	case errors.Is(err, context.Canceled):
		// A user cancel or session delete has already settled the registry
		// and this is a no-op; a shutdown interruption has not, and the job
		// must not stay processing forever.
		e.settleCancelled(job, "service shutting down")
		e.logger.Info("extraction cancelled", zap.String("job_id", job.ID))
	default:
		e.fail(job, reasonFor(err))
	}
}

func (e *Engine) fail(job core.Job, reason string) {
	if err := e.registry.MarkFailed(job.ID, reason); err != nil {
		e.logger.Error("job failure transition failed",
			zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	e.emitStatus(job, core.JobStatusFailed, reason)
}

func (e *Engine) settleCancelled(job core.Job, note string) {
	changed, err := e.registry.MarkCancelled(job.ID, note)
	if err != nil {
		e.logger.Error("job cancel transition failed",
			zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if changed {
		e.emitStatus(job, core.JobStatusCancelled, note)
	}
}

func (e *Engine) emitStatus(job core.Job, status core.JobStatus, note string) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(progress.Event{
		JobID:     job.ID,
		SessionID: job.SessionID,
		TS:        e.clock.Now(),
		Kind:      progress.KindStatus,
		Status:    status,
		Note:      note,
	})
}

// reasonFor keeps extraction failures readable in the job record while the
// wrapped detail still lands in logs via error chains.
func reasonFor(err error) string {
	var extractErr *core.ExtractionError
	if errors.As(err, &extractErr) {
		return extractErr.Error()
	}
	return err.Error()
}
