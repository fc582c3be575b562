package core

import (
	"context"
	"time"
)

// Clock abstracts time.Now so stores and the reaper are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers for sessions and jobs.
type IDGenerator interface {
	NewID() (string, error)
}

// ProgressFunc receives progress updates from an extraction in flight.
type ProgressFunc func(Snapshot)

// ExtractRequest carries everything the extraction collaborator needs.
type ExtractRequest struct {
	URL     string
	Quality string
	Format  string
	// OutputDir is the job-scoped directory the collaborator writes into.
	OutputDir string
}

// ExtractResult is the collaborator's report of a finished extraction.
type ExtractResult struct {
	OutputPath string
	SizeBytes  int64
	Duration   time.Duration
	Title      string
}

// Extractor is the boundary contract to the external media-extraction
// collaborator. Implementations must honor ctx cancellation at safe points
// and may take a bounded grace period to actually halt.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest, progress ProgressFunc) (ExtractResult, error)
}
