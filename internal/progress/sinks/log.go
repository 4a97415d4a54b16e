package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/progress"
)

// LogSink writes progress events as structured log lines. It replaces the
// console progress printing of ad-hoc batch scripts.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageGroupsMerged:
			fields = append(fields,
				zap.Int64("processed", evt.Processed),
				zap.Int64("total", evt.Total),
			)
			s.logger.Info("groups merged", fields...)
		case progress.StageRunStart:
			s.logger.Info("deduplication started", append(fields, zap.Int64("records", evt.Records))...)
		case progress.StageRunDone:
			s.logger.Info("deduplication finished",
				append(fields, zap.Int64("records", evt.Records), zap.Duration("dur", evt.Dur))...)
		case progress.StageRunError:
			s.logger.Warn("deduplication failed",
				append(fields, zap.String("note", evt.Note), zap.Duration("dur", evt.Dur))...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
