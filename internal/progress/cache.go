package progress

import (
	"context"
	"sync"

	"tunepull/internal/core"
)

// SnapshotCache keeps the latest progress snapshot per tracked job. It is the
// read side of the progress stream: the API queries it, the hub feeds it.
// Events for jobs that were never tracked, or were forgotten, are silently
// discarded; once a job reaches a terminal status its snapshot is frozen.
type SnapshotCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	snap     core.Snapshot
	terminal bool
}

// NewSnapshotCache returns an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{entries: make(map[string]*cacheEntry)}
}

// Track registers a job so subsequent events are recorded. Call it at
// admission time, before the job is dispatched.
func (c *SnapshotCache) Track(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[jobID]; !ok {
		c.entries[jobID] = &cacheEntry{}
	}
}

// Forget drops all state for a job, typically when its session is deleted.
func (c *SnapshotCache) Forget(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, jobID)
}

// Get returns the latest snapshot for a tracked job.
func (c *SnapshotCache) Get(jobID string) (core.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[jobID]
	if !ok {
		return core.Snapshot{}, false
	}
	return entry.snap, true
}

// Consume applies a batch in order, last write wins per job.
func (c *SnapshotCache) Consume(_ context.Context, batch []Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, evt := range batch {
		entry, ok := c.entries[evt.JobID]
		if !ok {
			continue
		}
		switch evt.Kind {
		case KindProgress:
			if entry.terminal {
				continue
			}
			entry.snap = core.Snapshot{
				Percent:         evt.Percent,
				DownloadedBytes: evt.DownloadedBytes,
				TotalBytes:      evt.TotalBytes,
				Stage:           evt.Stage,
				UpdatedAt:       evt.TS,
			}
		case KindStatus:
			if evt.Status.Terminal() {
				entry.terminal = true
				if evt.Status == core.JobStatusCompleted {
					entry.snap.Percent = 100
					entry.snap.UpdatedAt = evt.TS
				}
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (c *SnapshotCache) Close(context.Context) error {
	return nil
}
