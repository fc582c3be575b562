package store

import (
	"fmt"

	"go.uber.org/zap"

	"tunepull/internal/core"
)

// CreateSession admits a new session if the global cap allows. Expired but
// not-yet-reaped sessions do not count against the cap.
func (s *Store) CreateSession(owner string) (core.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	live := 0
	for _, sess := range s.sessions {
		if !s.expired(sess, now) {
			live++
		}
	}
	if live >= s.cfg.MaxSessions {
		return core.SessionSummary{}, core.ErrCapacityExceeded
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return core.SessionSummary{}, fmt.Errorf("generate session id: %w", err)
	}
	sess := &core.Session{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
		Owner:        owner,
	}
	s.sessions[id] = sess
	s.logger.Info("session created", zap.String("session_id", id))
	return s.summary(sess), nil
}

// GetSession returns a session summary and touches last activity. Sessions
// past their TTL are treated as already gone, independent of the reaper.
func (s *Store) GetSession(id string) (core.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return core.SessionSummary{}, core.ErrSessionNotFound
	}
	if s.expired(sess, s.clock.Now()) {
		return core.SessionSummary{}, core.ErrSessionExpired
	}
	sess.LastActivity = s.clock.Now()
	return s.summary(sess), nil
}

// Touch updates last activity; it is a no-op for unknown ids.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		sess.LastActivity = s.clock.Now()
	}
}

// DeleteSession removes the session and cascades cancellation: every owned
// non-terminal job flips to cancelled, and all owned records are dropped.
// It returns the jobs that were still non-terminal so the caller can signal
// the engine, every owned job ID (terminal ones included) so the caller can
// drop derived state, and reports whether a session was actually removed.
// Deleting an absent session is not an error.
func (s *Store) DeleteSession(id string) (cancelled []core.Job, owned []string, removed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil, false
	}

	now := s.clock.Now()
	for _, jobID := range sess.JobIDs {
		job, ok := s.jobs[jobID]
		if !ok {
			continue
		}
		owned = append(owned, jobID)
		if !job.Status.Terminal() {
			job.Status = core.JobStatusCancelled
			ts := now
			job.CompletedAt = &ts
			cancelled = append(cancelled, cloneJob(job))
		}
		delete(s.jobs, jobID)
	}
	delete(s.sessions, id)
	s.logger.Info("session deleted",
		zap.String("session_id", id),
		zap.Int("jobs_owned", len(owned)),
		zap.Int("jobs_cancelled", len(cancelled)),
	)
	return cancelled, owned, true
}

// ListSessions returns a snapshot of all unexpired sessions. The copies are
// safe to use while mutations continue concurrently.
func (s *Store) ListSessions() []core.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	out := make([]core.SessionSummary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if s.expired(sess, now) {
			continue
		}
		out = append(out, s.summary(sess))
	}
	return out
}

// ExpiredSessionIDs returns ids of sessions past their TTL, for the reaper.
func (s *Store) ExpiredSessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var out []string
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			out = append(out, id)
		}
	}
	return out
}

// summary builds the read model for sess. Callers hold s.mu.
func (s *Store) summary(sess *core.Session) core.SessionSummary {
	counts := make(map[core.JobStatus]int, len(core.Statuses()))
	for _, st := range core.Statuses() {
		counts[st] = 0
	}
	for _, jobID := range sess.JobIDs {
		if job, ok := s.jobs[jobID]; ok {
			counts[job.Status]++
		}
	}
	return core.SessionSummary{
		ID:           sess.ID,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		Owner:        sess.Owner,
		JobCounts:    counts,
	}
}
