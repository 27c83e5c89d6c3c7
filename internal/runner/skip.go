package runner

import (
	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/metrics"
)

// Skip raises the skip flag of the in-flight site that has been running
// longest. It returns that site's task, or false when nothing is running.
func (r *Runner) Skip() (*crawler.SiteTask, bool) {
	r.mu.Lock()
	var oldest *crawler.SiteTask
	for task := range r.inflight {
		started := task.StartedAt()
		if started.IsZero() || task.SkipRequested() {
			continue
		}
		if oldest == nil || started.Before(oldest.StartedAt()) {
			oldest = task
		}
	}
	r.mu.Unlock()

	metrics.ObserveSkip(oldest != nil)
	if oldest == nil {
		return nil, false
	}
	oldest.RequestSkip()
	r.logger.Info("manual skip requested",
		zap.String("url", oldest.URL),
		zap.String("row", oldest.Key.String()),
		zap.Duration("running", oldest.Elapsed(r.clock.Now())),
	)
	return oldest, true
}

// SkipURL raises the skip flag of the in-flight site with the given URL.
func (r *Runner) SkipURL(rawURL string) (*crawler.SiteTask, bool) {
	target, err := crawler.NormalizeSiteURL(rawURL)
	if err != nil {
		metrics.ObserveSkip(false)
		return nil, false
	}
	r.mu.Lock()
	var match *crawler.SiteTask
	for task := range r.inflight {
		if task.URL == target {
			match = task
			break
		}
	}
	r.mu.Unlock()

	metrics.ObserveSkip(match != nil)
	if match == nil {
		return nil, false
	}
	match.RequestSkip()
	r.logger.Info("manual skip requested", zap.String("url", match.URL), zap.String("row", match.Key.String()))
	return match, true
}

// Running lists the in-flight tasks.
func (r *Runner) Running() []*crawler.SiteTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*crawler.SiteTask, 0, len(r.inflight))
	for task := range r.inflight {
		out = append(out, task)
	}
	return out
}
