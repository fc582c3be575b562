// Package reaper periodically removes sessions that sat idle past their TTL,
// with the same cascade a client-initiated delete gets.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpiryIndex lists the sessions whose TTL has elapsed.
type ExpiryIndex interface {
	ExpiredSessionIDs() []string
}

// Deleter tears down one session, cancelling its jobs and removing artifacts.
type Deleter interface {
	DeleteSession(id string) error
}

// Reaper drives the cleanup loop.
type Reaper struct {
	index    ExpiryIndex
	deleter  Deleter
	interval time.Duration
	logger   *zap.Logger
}

const defaultInterval = time.Minute

// New constructs a Reaper.
func New(index ExpiryIndex, deleter Deleter, interval time.Duration, logger *zap.Logger) *Reaper {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{
		index:    index,
		deleter:  deleter,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks, sweeping on every tick until the context finishes.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce()
		}
	}
}

// RunOnce sweeps expired sessions a single time and returns how many were
// removed.
func (r *Reaper) RunOnce() int {
	ids := r.index.ExpiredSessionIDs()
	removed := 0
	for _, id := range ids {
		if err := r.deleter.DeleteSession(id); err != nil {
			r.logger.Error("expired session cleanup failed",
				zap.String("session_id", id), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		r.logger.Info("expired sessions reaped", zap.Int("count", removed))
	}
	return removed
}
