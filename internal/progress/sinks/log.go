package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/evolab/evomon/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
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
			zap.ByteString("session_id", evt.SessionID[:]),
			zap.String("stage", string(evt.Stage)),
			zap.String("run", evt.Run),
			zap.Int("iteration", evt.Iteration),
		}
		switch evt.Stage {
		case progress.StageIteration, progress.StageRunDone:
			fields = append(fields,
				zap.Float64("max_temp", evt.MaxTemp),
				zap.Float64("min_clearance", evt.MinClearance),
				zap.Int("violations", evt.Violations),
				zap.Float64("penalty", evt.Penalty),
				zap.String("state_id", evt.StateID),
			)
			if evt.Trend != "" {
				fields = append(fields, zap.String("trend", string(evt.Trend)))
			}
		case progress.StageRollback:
			fields = append(fields, zap.Int("rollbacks", evt.Rollbacks))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
