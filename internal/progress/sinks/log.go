package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/progress"
)

// LogSink emits structured logs for progress streams. Site outcomes and run
// milestones log at info; per-fetch and per-layer detail logs at debug.
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
		switch evt.Stage {
		case progress.StageSiteDone:
			s.logger.Info("site finished",
				zap.String("row", evt.Row),
				zap.String("url", evt.URL),
				zap.String("outcome", string(evt.Outcome)),
				zap.String("source", string(evt.Source)),
				zap.String("error_kind", string(evt.ErrorKind)),
				zap.Duration("elapsed", evt.Dur),
				zap.String("note", evt.Note),
			)
		case progress.StageRunStats:
			s.logger.Info("batch progress",
				zap.String("run_id", evt.RunUUID().String()),
				zap.String("note", evt.Note),
				zap.Int("cap", evt.Load.Cap),
				zap.Int("in_flight", evt.Load.InFlight),
				zap.Float64("cpu_percent", evt.Load.CPUPercent),
				zap.Uint64("rss_bytes", evt.Load.RSSBytes),
				zap.Bool("paused", evt.Load.Paused),
				zap.Duration("elapsed", evt.Dur),
			)
		case progress.StageRunStart, progress.StageRunDone:
			s.logger.Info("batch "+stageVerb(evt.Stage),
				zap.String("run_id", evt.RunUUID().String()),
				zap.Duration("elapsed", evt.Dur),
				zap.String("note", evt.Note),
			)
		default:
			s.logger.Debug("progress event",
				zap.String("stage", string(evt.Stage)),
				zap.String("row", evt.Row),
				zap.String("url", evt.URL),
				zap.String("page_class", string(evt.PageClass)),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Bool("rendered", evt.Rendered),
				zap.String("layer", string(evt.Layer)),
				zap.Int("count", evt.Count),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
		}
	}
	return nil
}

func stageVerb(stage progress.Stage) string {
	if stage == progress.StageRunStart {
		return "started"
	}
	return "finished"
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
