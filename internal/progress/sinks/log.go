package sinks

import (
	"context"

	"go.uber.org/zap"

	"tunepull/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable mirror is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("session_id", evt.SessionID),
			zap.String("kind", string(evt.Kind)),
		}
		switch evt.Kind {
		case progress.KindProgress:
			fields = append(fields,
				zap.Float64("percent", evt.Percent),
				zap.Int64("downloaded_bytes", evt.DownloadedBytes),
				zap.Int64("total_bytes", evt.TotalBytes),
				zap.String("stage", evt.Stage),
			)
		case progress.KindStatus:
			fields = append(fields, zap.String("status", string(evt.Status)))
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
