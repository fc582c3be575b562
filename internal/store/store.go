// Package store provides the in-memory session store and job registry.
// Capacity checks and their corresponding inserts happen under one lock, so
// admission is atomic with respect to concurrent requests and the reaper.
package store

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"tunepull/internal/core"
)

// Config controls store capacity and expiration.
type Config struct {
	MaxSessions       int
	MaxJobsPerSession int
	SessionTTL        time.Duration
}

const (
	defaultMaxSessions = 100
	defaultMaxJobs     = 10
	defaultSessionTTL  = 24 * time.Hour
)

// Store holds all session and job records. All exported methods are safe for
// concurrent use; reads return copies so callers never observe a torn record.
type Store struct {
	mu       sync.Mutex
	cfg      Config
	clock    core.Clock
	idGen    core.IDGenerator
	logger   *zap.Logger
	sessions map[string]*core.Session
	jobs     map[string]*core.Job
}

// New constructs a Store.
func New(cfg Config, clock core.Clock, idGen core.IDGenerator, logger *zap.Logger) *Store {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.MaxJobsPerSession <= 0 {
		cfg.MaxJobsPerSession = defaultMaxJobs
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		cfg:      cfg,
		clock:    clock,
		idGen:    idGen,
		logger:   logger,
		sessions: make(map[string]*core.Session),
		jobs:     make(map[string]*core.Job),
	}
}

// Stats returns the current usage counters. StorageUsedBytes is filled in by
// the caller; the store only knows about records.
func (s *Store) Stats() core.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	live := 0
	for _, sess := range s.sessions {
		if !s.expired(sess, now) {
			live++
		}
	}
	byStatus := make(map[core.JobStatus]int, len(core.Statuses()))
	for _, st := range core.Statuses() {
		byStatus[st] = 0
	}
	for _, job := range s.jobs {
		byStatus[job.Status]++
	}
	return core.Stats{
		LiveSessions: live,
		JobsByStatus: byStatus,
	}
}

// expired reports whether sess is past its TTL at now. Callers hold s.mu.
func (s *Store) expired(sess *core.Session, now time.Time) bool {
	return now.Sub(sess.LastActivity) > s.cfg.SessionTTL
}

// cloneJob returns a defensive copy of j including nested pointers.
func cloneJob(j *core.Job) core.Job {
	cp := *j
	if j.CompletedAt != nil {
		ts := *j.CompletedAt
		cp.CompletedAt = &ts
	}
	if j.Result != nil {
		res := *j.Result
		cp.Result = &res
	}
	return cp
}
