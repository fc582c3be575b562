// Package orchestrator coordinates the session store, the execution engine,
// and the progress stream behind one facade the API layer talks to.
package orchestrator

import (
	"fmt"

	"go.uber.org/zap"

	"tunepull/internal/core"
	"tunepull/internal/progress"
	"tunepull/internal/store"
)

// Engine is the slice of the execution engine the orchestrator drives.
type Engine interface {
	Dispatch(job core.Job) error
	Cancel(jobID string)
}

// Workspace is the slice of the artifact store the orchestrator cleans up.
type Workspace interface {
	RemoveSession(sessionID string) error
	Usage() (int64, error)
}

// Limiter throttles job submission per session.
type Limiter interface {
	Allow(sessionID string) bool
	Forget(sessionID string)
}

// JobView pairs a job record with its latest progress snapshot, when one
// exists.
type JobView struct {
	Job      core.Job       `json:"job"`
	Progress *core.Snapshot `json:"progress,omitempty"`
}

// Orchestrator owns the write path: every mutation flows through here so the
// cascade rules (cancel on delete, forget on delete) hold everywhere.
type Orchestrator struct {
	store     *store.Store
	engine    Engine
	cache     *progress.SnapshotCache
	limiter   Limiter
	workspace Workspace
	emitter   progress.Emitter
	clock     core.Clock
	logger    *zap.Logger
}

// New wires the orchestrator.
func New(
	st *store.Store,
	engine Engine,
	cache *progress.SnapshotCache,
	limiter Limiter,
	workspace Workspace,
	emitter progress.Emitter,
	clock core.Clock,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     st,
		engine:    engine,
		cache:     cache,
		limiter:   limiter,
		workspace: workspace,
		emitter:   emitter,
		clock:     clock,
		logger:    logger,
	}
}

// CreateSession admits a new session.
func (o *Orchestrator) CreateSession(owner string) (core.SessionSummary, error) {
	return o.store.CreateSession(owner)
}

// GetSession returns the session summary, touching its activity window.
func (o *Orchestrator) GetSession(id string) (core.SessionSummary, error) {
	return o.store.GetSession(id)
}

// ListSessions returns all live sessions.
func (o *Orchestrator) ListSessions() []core.SessionSummary {
	return o.store.ListSessions()
}

// DeleteSession tears a session down: owned jobs are cancelled, their
// extractions interrupted, progress state dropped, and artifacts removed.
// Deleting an absent session is a no-op.
func (o *Orchestrator) DeleteSession(id string) error {
	cancelled, owned, removed := o.store.DeleteSession(id)
	if !removed {
		return nil
	}
	for _, job := range cancelled {
		o.engine.Cancel(job.ID)
		o.emitStatus(job, core.JobStatusCancelled, "session deleted")
	}
	// Every owned job loses its snapshot, terminal ones included; the
	// records are gone, so stale cache entries would never be forgotten.
	for _, jobID := range owned {
		o.cache.Forget(jobID)
	}
	o.limiter.Forget(id)
	if err := o.workspace.RemoveSession(id); err != nil {
		// The records are gone either way; surviving files only cost disk
		// until an operator clears them.
		o.logger.Warn("session artifact cleanup failed",
			zap.String("session_id", id), zap.Error(err))
	}
	return nil
}

// CreateJob validates, admits, tracks, and dispatches a job. A dispatch
// failure settles the job as cancelled instead of leaving it stuck pending;
// a job that never reached a worker has no extraction to fail.
func (o *Orchestrator) CreateJob(sessionID string, spec core.JobSpec) (core.Job, error) {
	if !o.limiter.Allow(sessionID) {
		return core.Job{}, core.ErrRateLimited
	}
	job, err := o.store.CreateJob(sessionID, spec)
	if err != nil {
		return core.Job{}, err
	}
	o.cache.Track(job.ID)
	o.emitStatus(job, core.JobStatusPending, "")

	if err := o.engine.Dispatch(job); err != nil {
		note := fmt.Sprintf("dispatch failed: %v", err)
		if _, markErr := o.store.MarkCancelled(job.ID, note); markErr != nil {
			o.logger.Error("failed to settle undispatched job",
				zap.String("job_id", job.ID), zap.Error(markErr))
		}
		o.emitStatus(job, core.JobStatusCancelled, note)
		job.Status = core.JobStatusCancelled
		job.ErrorText = note
		return job, nil
	}
	return job, nil
}

// GetJob returns the job with its latest progress.
func (o *Orchestrator) GetJob(sessionID, jobID string) (JobView, error) {
	job, err := o.store.GetJob(sessionID, jobID)
	if err != nil {
		return JobView{}, err
	}
	return o.view(job), nil
}

// ListJobs returns the session's jobs with their progress.
func (o *Orchestrator) ListJobs(sessionID string) ([]JobView, error) {
	jobs, err := o.store.ListJobs(sessionID)
	if err != nil {
		return nil, err
	}
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, o.view(job))
	}
	return views, nil
}

// CancelJob cancels a job and interrupts its extraction if running.
func (o *Orchestrator) CancelJob(sessionID, jobID string) (core.Job, error) {
	job, err := o.store.CancelJob(sessionID, jobID)
	if err != nil {
		return core.Job{}, err
	}
	o.engine.Cancel(job.ID)
	o.emitStatus(job, core.JobStatusCancelled, "")
	return job, nil
}

// Stats reports live usage, including workspace disk consumption.
func (o *Orchestrator) Stats() core.Stats {
	stats := o.store.Stats()
	used, err := o.workspace.Usage()
	if err != nil {
		o.logger.Warn("workspace usage scan failed", zap.Error(err))
	} else {
		stats.StorageUsedBytes = used
	}
	return stats
}

func (o *Orchestrator) view(job core.Job) JobView {
	v := JobView{Job: job}
	if snap, ok := o.cache.Get(job.ID); ok && !snap.UpdatedAt.IsZero() {
		s := snap
		v.Progress = &s
	}
	return v
}

func (o *Orchestrator) emitStatus(job core.Job, status core.JobStatus, note string) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(progress.Event{
		JobID:     job.ID,
		SessionID: job.SessionID,
		TS:        o.clock.Now(),
		Kind:      progress.KindStatus,
		Status:    status,
		Note:      note,
	})
}
