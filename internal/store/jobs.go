package store

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"tunepull/internal/core"
)

// validateURL accepts absolute http/https URLs with a host.
func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return core.ErrInvalidURL
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return core.ErrInvalidURL
	}
	return nil
}

// CreateJob admits a job for the given session. The per-session cap counts
// only non-terminal jobs, so finished work never blocks new submissions.
func (s *Store) CreateJob(sessionID string, spec core.JobSpec) (core.Job, error) {
	if err := validateURL(spec.URL); err != nil {
		return core.Job{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return core.Job{}, core.ErrSessionNotFound
	}
	now := s.clock.Now()
	if s.expired(sess, now) {
		return core.Job{}, core.ErrSessionExpired
	}

	active := 0
	for _, jobID := range sess.JobIDs {
		if job, ok := s.jobs[jobID]; ok && !job.Status.Terminal() {
			active++
		}
	}
	if active >= s.cfg.MaxJobsPerSession {
		return core.Job{}, core.ErrJobLimitExceeded
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return core.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := &core.Job{
		ID:        id,
		SessionID: sessionID,
		Spec:      spec,
		Status:    core.JobStatusPending,
		CreatedAt: now,
	}
	s.jobs[id] = job
	sess.JobIDs = append(sess.JobIDs, id)
	sess.LastActivity = now

	s.logger.Info("job created",
		zap.String("job_id", id),
		zap.String("session_id", sessionID),
	)
	return cloneJob(job), nil
}

// GetJob returns the job only when it belongs to sessionID. An ownership
// mismatch is indistinguishable from a missing job, so jobs cannot be probed
// across sessions.
func (s *Store) GetJob(sessionID, jobID string) (core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.SessionID != sessionID {
		return core.Job{}, core.ErrJobNotFound
	}
	if sess, ok := s.sessions[sessionID]; ok {
		sess.LastActivity = s.clock.Now()
	}
	return cloneJob(job), nil
}

// ListJobs returns copies of every job owned by sessionID, in admission order.
func (s *Store) ListJobs(sessionID string) ([]core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	if s.expired(sess, s.clock.Now()) {
		return nil, core.ErrSessionExpired
	}
	out := make([]core.Job, 0, len(sess.JobIDs))
	for _, jobID := range sess.JobIDs {
		if job, ok := s.jobs[jobID]; ok {
			out = append(out, cloneJob(job))
		}
	}
	return out, nil
}

// MarkProcessing moves a pending job to processing. It reports started=false
// without error when the job has vanished or already reached a terminal
// status; workers dequeue jobs whose session may have been deleted or whose
// job was cancelled in the meantime, and that race is expected.
func (s *Store) MarkProcessing(jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return false, nil
	}
	switch {
	case job.Status.Terminal():
		return false, nil
	case job.Status != core.JobStatusPending:
		return false, fmt.Errorf("job %s: %s -> processing: %w",
			jobID, job.Status, core.ErrInvalidTransition)
	}
	job.Status = core.JobStatusProcessing
	return true, nil
}

// MarkCompleted records a successful extraction. Late completions for jobs
// that were cancelled or reaped in the meantime are silently dropped.
func (s *Store) MarkCompleted(jobID string, result core.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return nil
	}
	if job.Status != core.JobStatusProcessing {
		return fmt.Errorf("job %s: %s -> completed: %w",
			jobID, job.Status, core.ErrInvalidTransition)
	}
	now := s.clock.Now()
	job.Status = core.JobStatusCompleted
	job.CompletedAt = &now
	res := result
	job.Result = &res
	return nil
}

// MarkFailed records a failed extraction with a human-readable reason. Only
// processing jobs can fail; a job that never started has nothing to report
// an extraction error for. Late failures for terminal or vanished jobs are
// silently dropped.
func (s *Store) MarkFailed(jobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return nil
	}
	if job.Status != core.JobStatusProcessing {
		return fmt.Errorf("job %s: %s -> failed: %w",
			jobID, job.Status, core.ErrInvalidTransition)
	}
	now := s.clock.Now()
	job.Status = core.JobStatusFailed
	job.CompletedAt = &now
	job.ErrorText = reason
	return nil
}

// MarkCancelled settles a pending or processing job as cancelled with an
// explanatory note, without an ownership check. It serves internal paths
// that outlive the request: shutdown interrupting a running extraction, and
// a dispatch failure settling a job that never reached a worker. It reports
// changed=false without error for vanished or already-terminal jobs.
func (s *Store) MarkCancelled(jobID, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	now := s.clock.Now()
	job.Status = core.JobStatusCancelled
	job.CompletedAt = &now
	job.ErrorText = note
	s.logger.Info("job settled as cancelled",
		zap.String("job_id", jobID),
		zap.String("note", note),
	)
	return true, nil
}

// CancelJob cancels a pending or processing job owned by sessionID. The
// ownership rule matches GetJob: a mismatch reads as not found.
func (s *Store) CancelJob(sessionID, jobID string) (core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.SessionID != sessionID {
		return core.Job{}, core.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return core.Job{}, core.ErrJobAlreadyTerminal
	}
	now := s.clock.Now()
	job.Status = core.JobStatusCancelled
	job.CompletedAt = &now
	if sess, ok := s.sessions[sessionID]; ok {
		sess.LastActivity = now
	}
	s.logger.Info("job cancelled",
		zap.String("job_id", jobID),
		zap.String("session_id", sessionID),
	)
	return cloneJob(job), nil
}
