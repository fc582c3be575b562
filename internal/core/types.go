// Package core defines the domain types shared across the orchestration
// subsystems: sessions, jobs, progress snapshots, and the error taxonomy.
package core

import "time"

// JobStatus represents the lifecycle state of a download job.
type JobStatus string

// Job status values tracked by the registry.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Statuses enumerates every job status in a stable order, for stats views.
func Statuses() []JobStatus {
	return []JobStatus{
		JobStatusPending,
		JobStatusProcessing,
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusCancelled,
	}
}

// Session is an isolated, time-bounded context for one anonymous client.
type Session struct {
	ID           string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	// Owner is an optional external account label linked to the session.
	Owner string `json:"owner,omitempty"`
	// JobIDs lists owned jobs in admission order.
	JobIDs []string `json:"-"`
}

// SessionSummary is the read model returned by session queries.
type SessionSummary struct {
	ID           string            `json:"session_id"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	Owner        string            `json:"owner,omitempty"`
	JobCounts    map[JobStatus]int `json:"job_counts"`
}

// JobSpec is the validated, immutable input of a job.
type JobSpec struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
	Format  string `json:"format"`
}

// JobResult carries the output of a completed extraction.
type JobResult struct {
	OutputPath string        `json:"output_path"`
	SizeBytes  int64         `json:"size_bytes"`
	Duration   time.Duration `json:"duration"`
	Title      string        `json:"title"`
}

// Job is one requested unit of asynchronous extraction work, owned by
// exactly one session. The owning session and spec are immutable after
// admission; status moves along a fixed state machine.
type Job struct {
	ID          string     `json:"job_id"`
	SessionID   string     `json:"session_id"`
	Spec        JobSpec    `json:"spec"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
	ErrorText   string     `json:"error,omitempty"`
}

// Snapshot is the latest known progress of a job, last-write-wins.
type Snapshot struct {
	Percent         float64   `json:"percent"`
	DownloadedBytes int64     `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64     `json:"total_bytes,omitempty"`
	Stage           string    `json:"stage,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Stats is the derived usage view exposed by the health endpoint.
type Stats struct {
	LiveSessions     int               `json:"live_sessions"`
	JobsByStatus     map[JobStatus]int `json:"jobs_by_status"`
	StorageUsedBytes int64             `json:"storage_used_bytes"`
}
