// Package progress defines the event structures emitted while a batch runs.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunStats      Stage = "RUN_STATS"
	StageRunDone       Stage = "RUN_DONE"
	StageSiteStart     Stage = "SITE_START"
	StageFetchDone     Stage = "FETCH_DONE"
	StageLayerFindings Stage = "LAYER_FINDINGS"
	StageSiteDone      Stage = "SITE_DONE"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Load is the throttle snapshot attached to stats events.
type Load struct {
	Cap        int
	InFlight   int
	CPUPercent float64
	RSSBytes   uint64
	Paused     bool
}

// Event captures a single component of batch progress.
type Event struct {
	// RunID identifies the batch run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Row is the sheet!row key of the task, when scoped to a site.
	Row string
	// Site is the bare host label of the task.
	Site string
	// URL is the page or site URL.
	URL string
	// StatusClass groups HTTP response codes for fetch events.
	StatusClass StatusClass
	// PageClass is the detector verdict for fetch events.
	PageClass crawler.PageClass
	// Rendered marks fetches served by the headless renderer.
	Rendered bool
	// Bytes carries the response size for fetch events.
	Bytes int64
	// Layer and Count report per-layer findings.
	Layer crawler.Source
	Count int
	// Outcome, Source, and ErrorKind describe a finished site.
	Outcome   crawler.OutcomeKind
	Source    crawler.Source
	ErrorKind crawler.ErrorKind
	// Load is set on stats events.
	Load Load
	// Dur captures fetch latency, site elapsed time, or run elapsed time.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunStats, StageRunDone:
	case StageSiteStart:
		if e.URL == "" {
			return errors.New("site start requires url")
		}
	case StageFetchDone:
		if e.URL == "" {
			return errors.New("fetch done requires url")
		}
		if e.PageClass == "" {
			return errors.New("fetch done requires page class")
		}
	case StageLayerFindings:
		if e.Layer == "" {
			return errors.New("layer findings requires layer")
		}
	case StageSiteDone:
		if e.Outcome == "" {
			return errors.New("site done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
