// Package ratelimit implements a token bucket limiter for per-session job
// submission control.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages per-session submission limits. Each session gets its own
// token bucket so one noisy client cannot starve the others.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rt       rate.Limit
	burst    int
}

// Config holds rate limiter configuration.
type Config struct {
	// JobsPerMinute is the sustained submission rate; <= 0 disables limiting.
	JobsPerMinute float64
	// Burst is how many submissions may land back to back (default 5).
	Burst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	rt := rate.Limit(cfg.JobsPerMinute / 60)
	if cfg.JobsPerMinute <= 0 {
		rt = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rt:       rt,
		burst:    burst,
	}
}

// Allow reports whether the session may submit a job right now. Submission is
// a user-facing request path, so this never blocks; callers turn a false into
// an immediate rejection.
func (l *Limiter) Allow(sessionID string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[sessionID]
	if !ok {
		limiter = rate.NewLimiter(l.rt, l.burst)
		l.limiters[sessionID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// Forget releases the bucket for a deleted session.
func (l *Limiter) Forget(sessionID string) {
	l.mu.Lock()
	delete(l.limiters, sessionID)
	l.mu.Unlock()
}
