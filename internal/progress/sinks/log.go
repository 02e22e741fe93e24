// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/novelarc/novelarc/internal/progress"
)

// LogSink emits structured logs for the progress stream. It is the operator's
// primary visibility channel during archive runs.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
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
			zap.String("session_id", evt.SessionID),
			zap.String("stage", string(evt.Stage)),
			zap.String("novel", evt.Novel),
			zap.Int("seq", evt.Seq),
			zap.String("chapter", evt.Chapter),
			zap.Float64("progress", evt.Progress),
		}
		switch evt.Stage {
		case progress.StageChapterDone:
			fields = append(fields,
				zap.String("outcome", string(evt.Outcome)),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
			if evt.Outcome == progress.OutcomeError {
				fields = append(fields, zap.String("note", evt.Note))
				s.logger.Warn("chapter failed", fields...)
				continue
			}
			s.logger.Info("chapter archived", fields...)
		default:
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
