package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tunepull/internal/core"
	"tunepull/internal/progress"
)

type stubRegistry struct {
	mu        sync.Mutex
	pending   map[string]bool
	completed map[string]core.JobResult
	failed    map[string]string
	cancelled map[string]string
}

func newStubRegistry(pendingIDs ...string) *stubRegistry {
	r := &stubRegistry{
		pending:   make(map[string]bool),
		completed: make(map[string]core.JobResult),
		failed:    make(map[string]string),
		cancelled: make(map[string]string),
	}
	for _, id := range pendingIDs {
		r.pending[id] = true
	}
	return r
}

func (r *stubRegistry) MarkProcessing(jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending[jobID] {
		return false, nil
	}
	delete(r.pending, jobID)
	return true, nil
}

func (r *stubRegistry) MarkCompleted(jobID string, result core.JobResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed[jobID] = result
	return nil
}

func (r *stubRegistry) MarkFailed(jobID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[jobID] = reason
	return nil
}

func (r *stubRegistry) MarkCancelled(jobID, note string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.completed[jobID]; ok {
		return false, nil
	}
	if _, ok := r.failed[jobID]; ok {
		return false, nil
	}
	if _, ok := r.cancelled[jobID]; ok {
		return false, nil
	}
	r.cancelled[jobID] = note
	return true, nil
}

func (r *stubRegistry) CancelledNote(jobID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	note, ok := r.cancelled[jobID]
	return note, ok
}

func (r *stubRegistry) CompletedResult(jobID string) (core.JobResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.completed[jobID]
	return res, ok
}

func (r *stubRegistry) FailedReason(jobID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reason, ok := r.failed[jobID]
	return reason, ok
}

type stubWorkspace struct{ dir string }

func (w stubWorkspace) EnsureJobDir(_, _ string) (string, error) { return w.dir, nil }

// stubExtractor runs a scripted extraction.
type stubExtractor struct {
	result  core.ExtractResult
	err     error
	block   chan struct{} // when set, Extract waits for close or ctx
	samples []core.Snapshot
}

func (x *stubExtractor) Extract(ctx context.Context, _ core.ExtractRequest, onProgress core.ProgressFunc) (core.ExtractResult, error) {
	for _, s := range x.samples {
		onProgress(s)
	}
	if x.block != nil {
		select {
		case <-x.block:
		case <-ctx.Done():
			return core.ExtractResult{}, ctx.Err()
		}
	}
	return x.result, x.err
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) Events() []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]progress.Event(nil), e.events...)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func testJob(id string) core.Job {
	return core.Job{
		ID:        id,
		SessionID: "sess-1",
		Spec:      core.JobSpec{URL: "https://example.com/v", Quality: "best", Format: "mp3"},
		Status:    core.JobStatusPending,
	}
}

func TestEngineCompletesJob(t *testing.T) {
	t.Parallel()

	registry := newStubRegistry("job-1")
	emitter := &recordingEmitter{}
	extractor := &stubExtractor{
		result: core.ExtractResult{OutputPath: "out/audio.mp3", SizeBytes: 512, Title: "clip"},
		samples: []core.Snapshot{
			{Percent: 50, Stage: "downloading", UpdatedAt: time.Now().UTC()},
		},
	}
	eng := New(Config{Workers: 1, QueueDepth: 4}, registry, stubWorkspace{dir: t.TempDir()}, extractor, emitter, realClock{}, nil)
	eng.Start()
	defer func() {
		require.NoError(t, eng.Stop(context.Background()))
	}()

	require.NoError(t, eng.Dispatch(testJob("job-1")))
	require.Eventually(t, func() bool {
		_, ok := registry.CompletedResult("job-1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	res, _ := registry.CompletedResult("job-1")
	require.Equal(t, "out/audio.mp3", res.OutputPath)
	require.Equal(t, int64(512), res.SizeBytes)

	var kinds []progress.Kind
	var statuses []core.JobStatus
	for _, evt := range emitter.Events() {
		kinds = append(kinds, evt.Kind)
		if evt.Kind == progress.KindStatus {
			statuses = append(statuses, evt.Status)
		}
	}
	require.Contains(t, kinds, progress.KindProgress)
	require.Equal(t, []core.JobStatus{core.JobStatusProcessing, core.JobStatusCompleted}, statuses)
}

func TestEngineFailsJob(t *testing.T) {
	t.Parallel()

	registry := newStubRegistry("job-1")
	extractor := &stubExtractor{
		err: core.NewExtractionError("download failed", errors.New("403")),
	}
	eng := New(Config{Workers: 1, QueueDepth: 4}, registry, stubWorkspace{dir: t.TempDir()}, extractor, &recordingEmitter{}, realClock{}, nil)
	eng.Start()
	defer func() {
		require.NoError(t, eng.Stop(context.Background()))
	}()

	require.NoError(t, eng.Dispatch(testJob("job-1")))
	require.Eventually(t, func() bool {
		_, ok := registry.FailedReason("job-1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	reason, _ := registry.FailedReason("job-1")
	require.Contains(t, reason, "download failed")
}

func TestEngineSkipsTerminalJobs(t *testing.T) {
	t.Parallel()

	registry := newStubRegistry() // nothing pending: MarkProcessing returns false
	emitter := &recordingEmitter{}
	eng := New(Config{Workers: 1, QueueDepth: 4}, registry, stubWorkspace{dir: t.TempDir()}, &stubExtractor{}, emitter, realClock{}, nil)
	eng.Start()

	require.NoError(t, eng.Dispatch(testJob("job-1")))
	require.Eventually(t, func() bool {
		return len(eng.queue) == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, eng.Stop(context.Background()))

	require.Empty(t, emitter.Events())
	if _, ok := registry.CompletedResult("job-1"); ok {
		t.Fatal("terminal job should not have been processed")
	}
}

func TestEngineCancelInterruptsRunningJob(t *testing.T) {
	t.Parallel()

	registry := newStubRegistry("job-1")
	extractor := &stubExtractor{block: make(chan struct{})}
	emitter := &recordingEmitter{}
	eng := New(Config{Workers: 1, QueueDepth: 4}, registry, stubWorkspace{dir: t.TempDir()}, extractor, emitter, realClock{}, nil)
	eng.Start()
	defer func() {
		require.NoError(t, eng.Stop(context.Background()))
	}()

	require.NoError(t, eng.Dispatch(testJob("job-1")))
	require.Eventually(t, func() bool {
		for _, evt := range emitter.Events() {
			if evt.Kind == progress.KindStatus && evt.Status == core.JobStatusProcessing {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// The caller settles the registry before interrupting, as the
	// orchestrator does.
	settled, err := registry.MarkCancelled("job-1", "cancelled by user")
	require.NoError(t, err)
	require.True(t, settled)

	eng.Cancel("job-1")
	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.running) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// A cancelled extraction settles via CancelJob, not MarkFailed, and the
	// worker must not overwrite the caller's note.
	if _, ok := registry.FailedReason("job-1"); ok {
		t.Fatal("cancelled job should not be marked failed")
	}
	note, _ := registry.CancelledNote("job-1")
	require.Equal(t, "cancelled by user", note)
}

func TestEngineStopHonorsGracePeriod(t *testing.T) {
	t.Parallel()

	registry := newStubRegistry("job-1")
	extractor := &stubExtractor{
		block:  make(chan struct{}),
		result: core.ExtractResult{OutputPath: "out/audio.mp3"},
	}
	eng := New(Config{Workers: 1, QueueDepth: 4, GracePeriod: 5 * time.Second}, registry, stubWorkspace{dir: t.TempDir()}, extractor, &recordingEmitter{}, realClock{}, nil)
	eng.Start()

	require.NoError(t, eng.Dispatch(testJob("job-1")))
	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.running) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The extraction finishes well inside the grace period; Stop must let
	// it run to completion instead of killing it on entry.
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(extractor.block)
	}()
	require.NoError(t, eng.Stop(context.Background()))

	res, ok := registry.CompletedResult("job-1")
	require.True(t, ok, "in-flight job should have completed during the grace period")
	require.Equal(t, "out/audio.mp3", res.OutputPath)
	if _, cancelled := registry.CancelledNote("job-1"); cancelled {
		t.Fatal("job finishing within the grace period must not be cancelled")
	}
}

func TestEngineStopSettlesInterruptedAndQueuedJobs(t *testing.T) {
	t.Parallel()

	registry := newStubRegistry("job-1", "job-2")
	extractor := &stubExtractor{block: make(chan struct{})} // never closed
	emitter := &recordingEmitter{}
	eng := New(Config{Workers: 1, QueueDepth: 4, GracePeriod: 50 * time.Millisecond}, registry, stubWorkspace{dir: t.TempDir()}, extractor, emitter, realClock{}, nil)
	eng.Start()

	// job-1 occupies the worker, job-2 waits in the queue.
	require.NoError(t, eng.Dispatch(testJob("job-1")))
	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.running) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, eng.Dispatch(testJob("job-2")))

	require.NoError(t, eng.Stop(context.Background()))

	// Neither job may stay processing or pending after shutdown.
	for _, id := range []string{"job-1", "job-2"} {
		note, ok := registry.CancelledNote(id)
		require.True(t, ok, "job %s was not settled", id)
		require.Equal(t, "service shutting down", note)
	}

	var cancelledEvents int
	for _, evt := range emitter.Events() {
		if evt.Kind == progress.KindStatus && evt.Status == core.JobStatusCancelled {
			cancelledEvents++
		}
	}
	require.Equal(t, 2, cancelledEvents)
}

func TestEngineQueueFull(t *testing.T) {
	t.Parallel()

	registry := newStubRegistry("job-1", "job-2", "job-3")
	extractor := &stubExtractor{block: make(chan struct{})}
	eng := New(Config{Workers: 1, QueueDepth: 1, GracePeriod: 50 * time.Millisecond}, registry, stubWorkspace{dir: t.TempDir()}, extractor, &recordingEmitter{}, realClock{}, nil)
	eng.Start()

	// First job occupies the worker, second fills the queue.
	require.NoError(t, eng.Dispatch(testJob("job-1")))
	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.running) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, eng.Dispatch(testJob("job-2")))

	err := eng.Dispatch(testJob("job-3"))
	require.ErrorIs(t, err, ErrQueueFull)

	close(extractor.block)
	require.NoError(t, eng.Stop(context.Background()))
}
