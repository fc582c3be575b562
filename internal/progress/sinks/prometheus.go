package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"tunepull/internal/core"
	"tunepull/internal/progress"
)

// PrometheusSink exports job lifecycle metrics via Prometheus. It owns the
// collectors for transitions, running jobs, and downloaded bytes.
type PrometheusSink struct {
	transitions *prometheus.CounterVec
	jobsRunning prometheus.Gauge
	bytesDown   prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunepull_job_transitions_total",
			Help: "Job lifecycle transitions partitioned by reached status.",
		}, []string{"status"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tunepull_jobs_running",
			Help: "Current number of jobs in the processing state.",
		}),
		bytesDown: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunepull_download_bytes_total",
			Help: "Total bytes reported downloaded across completed samples.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.transitions,
		s.jobsRunning,
		s.bytesDown,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case progress.KindStatus:
		s.transitions.WithLabelValues(string(evt.Status)).Inc()
		switch {
		case evt.Status == core.JobStatusProcessing:
			if s.tracker.start(evt.JobID) {
				s.jobsRunning.Inc()
			}
		case evt.Status.Terminal():
			if s.tracker.complete(evt.JobID) {
				s.jobsRunning.Dec()
			}
		}
	case progress.KindProgress:
		s.bytesDown.Add(float64(s.tracker.byteDelta(evt.JobID, evt.DownloadedBytes)))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// jobTracker deduplicates running-state changes and converts the cumulative
// downloaded-byte samples into deltas the counter can absorb.
type jobTracker struct {
	mu      sync.Mutex
	running map[string]int64
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]int64)}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = 0
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}

func (t *jobTracker) byteDelta(id string, downloaded int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen, ok := t.running[id]
	if !ok || downloaded <= seen {
		return 0
	}
	t.running[id] = downloaded
	return downloaded - seen
}
