package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tunepull/internal/core"
)

func progressEvent(jobID string, percent float64, ts time.Time) Event {
	return Event{
		JobID:   jobID,
		TS:      ts,
		Kind:    KindProgress,
		Percent: percent,
		Stage:   "downloading",
	}
}

func statusEvent(jobID string, status core.JobStatus, ts time.Time) Event {
	return Event{JobID: jobID, TS: ts, Kind: KindStatus, Status: status}
}

// TestSnapshotCacheLastWriteWins checks that later samples replace earlier ones.
func TestSnapshotCacheLastWriteWins(t *testing.T) {
	t.Parallel()

	cache := NewSnapshotCache()
	cache.Track("job-1")

	ts := time.Now().UTC()
	batch := []Event{
		progressEvent("job-1", 10, ts),
		progressEvent("job-1", 42.5, ts.Add(time.Second)),
	}
	require.NoError(t, cache.Consume(context.Background(), batch))

	snap, ok := cache.Get("job-1")
	require.True(t, ok)
	require.Equal(t, 42.5, snap.Percent)
	require.Equal(t, "downloading", snap.Stage)
	require.Equal(t, ts.Add(time.Second), snap.UpdatedAt)
}

// TestSnapshotCacheIgnoresUntracked verifies events for unknown jobs are dropped.
func TestSnapshotCacheIgnoresUntracked(t *testing.T) {
	t.Parallel()

	cache := NewSnapshotCache()
	require.NoError(t, cache.Consume(context.Background(), []Event{
		progressEvent("ghost", 50, time.Now()),
	}))
	_, ok := cache.Get("ghost")
	require.False(t, ok)
}

// TestSnapshotCacheFreezesTerminalJobs verifies late samples cannot move a
// finished job's snapshot, and completion pins percent to 100.
func TestSnapshotCacheFreezesTerminalJobs(t *testing.T) {
	t.Parallel()

	cache := NewSnapshotCache()
	cache.Track("job-1")

	ts := time.Now().UTC()
	require.NoError(t, cache.Consume(context.Background(), []Event{
		progressEvent("job-1", 80, ts),
		statusEvent("job-1", core.JobStatusCompleted, ts.Add(time.Second)),
		progressEvent("job-1", 5, ts.Add(2*time.Second)),
	}))

	snap, ok := cache.Get("job-1")
	require.True(t, ok)
	require.Equal(t, 100.0, snap.Percent)
	require.Equal(t, ts.Add(time.Second), snap.UpdatedAt)
}

// TestSnapshotCacheForget verifies Forget removes all job state.
func TestSnapshotCacheForget(t *testing.T) {
	t.Parallel()

	cache := NewSnapshotCache()
	cache.Track("job-1")
	require.NoError(t, cache.Consume(context.Background(), []Event{
		progressEvent("job-1", 30, time.Now()),
	}))

	cache.Forget("job-1")
	_, ok := cache.Get("job-1")
	require.False(t, ok)
}
