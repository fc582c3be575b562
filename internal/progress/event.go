package progress

import (
	"errors"
	"fmt"
	"time"

	"tunepull/internal/core"
)

// Kind separates the two event streams carried by the hub.
type Kind string

// Supported event kinds.
const (
	// KindProgress carries a download/conversion progress sample.
	KindProgress Kind = "PROGRESS"
	// KindStatus marks a job lifecycle transition.
	KindStatus Kind = "STATUS"
)

// Event captures a single piece of job progress or a lifecycle transition.
type Event struct {
	// JobID identifies the job the event belongs to.
	JobID string
	// SessionID identifies the owning session, for sinks that partition by it.
	SessionID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind selects which of the remaining fields are meaningful.
	Kind Kind
	// Percent is the completion estimate in [0, 100] for progress events.
	Percent float64
	// DownloadedBytes and TotalBytes describe transfer volume when known.
	DownloadedBytes int64
	TotalBytes      int64
	// Stage names the extraction phase, e.g. "downloading" or "converting".
	Stage string
	// Status is the job status reached, for status events.
	Status core.JobStatus
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindProgress:
		if e.Percent < 0 || e.Percent > 100 {
			return fmt.Errorf("percent %v out of range", e.Percent)
		}
	case KindStatus:
		if e.Status == "" {
			return errors.New("status event requires a status")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}
