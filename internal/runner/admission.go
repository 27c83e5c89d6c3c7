package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/metrics"
)

// capacity returns the effective concurrency cap and whether admissions
// are paused.
func (r *Runner) capacity() (int, bool) {
	if r.gate == nil {
		return r.cfg.Concurrency, false
	}
	state := r.gate.Snapshot()
	limit := r.cfg.Concurrency
	if state.Cap > 0 && state.Cap < limit {
		limit = state.Cap
	}
	return limit, state.Paused
}

// admit blocks until a slot is free, load allows a start, and the pacer
// hands out a token. The slot is reserved before pacing so the spacing
// between starts holds even after a long wait for capacity.
func (r *Runner) admit(ctx context.Context) error {
	waitStart := time.Now()
	loggedPause := false
	for {
		limit, paused := r.capacity()
		r.mu.Lock()
		if !paused && r.reserved < limit {
			r.reserved++
			r.mu.Unlock()
			break
		}
		r.mu.Unlock()
		if paused && !loggedPause {
			r.logger.Info("admissions paused by load", zap.Int("cap", limit))
			loggedPause = true
		}
		timer := time.NewTimer(r.cfg.PausePoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-r.freed:
		case <-timer.C:
		}
		timer.Stop()
	}
	if r.pacer != nil {
		if err := r.pacer.Wait(ctx); err != nil {
			r.release()
			return err
		}
	}
	metrics.ObserveStartDelay(time.Since(waitStart))
	return nil
}

func (r *Runner) release() {
	r.mu.Lock()
	r.reserved--
	r.mu.Unlock()
}
