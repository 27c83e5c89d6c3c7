package progress

import (
	"time"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

// Stats is the running tally of a batch, as served by the control API and
// logged on every stats tick.
type Stats struct {
	RunID        string                    `json:"run_id,omitempty"`
	StartedAt    time.Time                 `json:"started_at"`
	Elapsed      time.Duration             `json:"elapsed"`
	Started      int                       `json:"started"`
	InFlight     int                       `json:"in_flight"`
	FoundScraped int                       `json:"found_scraped"`
	FoundPattern int                       `json:"found_pattern"`
	FoundWhois   int                       `json:"found_whois"`
	NotFound     int                       `json:"not_found"`
	Skipped      int                       `json:"skipped"`
	Errored      int                       `json:"errored"`
	ByLayer      map[crawler.Source]int    `json:"by_layer,omitempty"`
	ByError      map[crawler.ErrorKind]int `json:"by_error,omitempty"`
	BotWalls     int                       `json:"bot_walls"`
	Load         Load                      `json:"load"`
	Done         bool                      `json:"done"`
}

// Found returns the number of rows that received an address.
func (s Stats) Found() int {
	return s.FoundScraped + s.FoundPattern + s.FoundWhois
}

// Completed returns the number of rows with a terminal outcome.
func (s Stats) Completed() int {
	return s.Found() + s.NotFound + s.Skipped + s.Errored
}

// Record folds a finished outcome into the tally.
func (s *Stats) Record(o crawler.Outcome) {
	switch o.Kind {
	case crawler.OutcomeFound:
		switch {
		case o.Source == crawler.SourcePattern:
			s.FoundPattern++
		case o.Source == crawler.SourceWhois:
			s.FoundWhois++
		default:
			s.FoundScraped++
			if s.ByLayer == nil {
				s.ByLayer = make(map[crawler.Source]int)
			}
			s.ByLayer[o.Source]++
		}
	case crawler.OutcomeNotFound:
		s.NotFound++
	case crawler.OutcomeSkipped:
		s.Skipped++
	case crawler.OutcomeError:
		s.Errored++
		if s.ByError == nil {
			s.ByError = make(map[crawler.ErrorKind]int)
		}
		s.ByError[o.ErrorKind]++
	}
}

// Clone returns a deep copy.
func (s Stats) Clone() Stats {
	out := s
	if s.ByLayer != nil {
		out.ByLayer = make(map[crawler.Source]int, len(s.ByLayer))
		for k, v := range s.ByLayer {
			out.ByLayer[k] = v
		}
	}
	if s.ByError != nil {
		out.ByError = make(map[crawler.ErrorKind]int, len(s.ByError))
		for k, v := range s.ByError {
			out.ByError[k] = v
		}
	}
	return out
}
