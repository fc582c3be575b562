package core

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the session store and job registry. Callers
// match them with errors.Is; the API layer maps each to a stable kind.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrCapacityExceeded   = errors.New("maximum concurrent sessions exceeded")
	ErrJobLimitExceeded   = errors.New("maximum jobs per session exceeded")
	ErrInvalidURL         = errors.New("invalid or unsupported url")
	ErrJobNotFound        = errors.New("job not found")
	ErrJobAlreadyTerminal = errors.New("job already in a terminal state")
	ErrRateLimited        = errors.New("job submission rate exceeded")
)

// ErrInvalidTransition indicates a broken internal invariant. It must never
// reach a caller in normal operation; if it does, the concurrency contract
// was violated and the operation logs it with full context.
var ErrInvalidTransition = errors.New("invalid job state transition")

// ExtractionError wraps a failure reported by the extraction collaborator
// with a human-readable reason, hiding collaborator-specific error shapes.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// NewExtractionError builds an ExtractionError from a collaborator failure.
func NewExtractionError(reason string, err error) *ExtractionError {
	return &ExtractionError{Reason: reason, Err: err}
}
