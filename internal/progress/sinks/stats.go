package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/progress"
)

// StatsSink folds progress events into a progress.Stats tally that the
// control API can read at any time.
type StatsSink struct {
	mu    sync.RWMutex
	stats progress.Stats
	now   func() time.Time
}

// NewStatsSink constructs an empty aggregator.
func NewStatsSink() *StatsSink {
	return &StatsSink{now: time.Now}
}

// Consume updates the tally.
func (s *StatsSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.stats.RunID = evt.RunUUID().String()
			s.stats.StartedAt = evt.TS
		case progress.StageSiteStart:
			s.stats.Started++
			s.stats.InFlight++
		case progress.StageFetchDone:
			if evt.PageClass == crawler.PageBotChallenge {
				s.stats.BotWalls++
			}
		case progress.StageSiteDone:
			if s.stats.InFlight > 0 {
				s.stats.InFlight--
			}
			s.stats.Record(crawler.Outcome{Kind: evt.Outcome, Source: evt.Source, ErrorKind: evt.ErrorKind})
		case progress.StageRunStats:
			s.stats.Load = evt.Load
		case progress.StageRunDone:
			s.stats.Done = true
			s.stats.Elapsed = evt.Dur
			s.stats.InFlight = 0
		}
	}
	return nil
}

// Snapshot returns a copy of the current tally.
func (s *StatsSink) Snapshot() progress.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.stats.Clone()
	if !out.Done && !out.StartedAt.IsZero() {
		out.Elapsed = s.now().Sub(out.StartedAt)
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *StatsSink) Close(context.Context) error {
	return nil
}
