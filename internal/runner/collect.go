package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/metrics"
	"github.com/gorkemkurban/email-scraper/internal/progress"
)

type collectResult struct {
	outcomes []crawler.Outcome
	stats    progress.Stats
	err      error
}

// collect consumes outcomes until results is closed, flushing every
// CheckpointEvery outcomes and once more at the end. A failed flush keeps
// its batch for the next attempt.
func (r *Runner) collect(results <-chan crawler.Outcome) collectResult {
	var (
		res     collectResult
		pending []crawler.Outcome
	)
	for o := range results {
		res.outcomes = append(res.outcomes, o)
		res.stats.Started++
		res.stats.Record(o)
		pending = append(pending, o)
		if len(pending) >= r.cfg.CheckpointEvery {
			if err := r.flush(pending); err == nil {
				pending = nil
			}
		}
	}
	if len(pending) > 0 {
		res.err = r.flush(pending)
	}
	return res
}

func (r *Runner) flush(batch []crawler.Outcome) error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	start := time.Now()
	err := r.store.Upsert(ctx, batch)
	metrics.ObserveCheckpointFlush(err)
	if err != nil {
		r.logger.Error("checkpoint flush failed", zap.Int("outcomes", len(batch)), zap.Error(err))
		return err
	}
	r.logger.Debug("checkpoint flushed", zap.Int("outcomes", len(batch)), zap.Duration("took", time.Since(start)))
	return nil
}

// reportStats emits RUN_STATS on every tick until ctx ends.
func (r *Runner) reportStats(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.emitter.Emit(progress.Event{Stage: progress.StageRunStats, Load: r.Load()})
		}
	}
}

// Load returns the current throttle snapshot with the in-flight count.
func (r *Runner) Load() progress.Load {
	inFlight := r.InFlight()
	if r.gate == nil {
		return progress.Load{Cap: r.cfg.Concurrency, InFlight: inFlight}
	}
	return r.gate.Snapshot().Load(inFlight)
}
