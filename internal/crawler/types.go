package crawler

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Source names where a candidate address came from.
type Source string

// Extraction layers, plus the two synthesized sources.
const (
	SourceVisibleText  Source = "visible-text"
	SourceRawHTML      Source = "raw-html"
	SourceMailto       Source = "mailto"
	SourceCloudflare   Source = "cloudflare"
	SourceForm         Source = "form"
	SourceScript       Source = "script"
	SourceAttributes   Source = "attributes"
	SourceComments     Source = "comments"
	SourceDeobfuscated Source = "deobfuscated-text"
	SourcePattern      Source = "pattern"
	SourceWhois        Source = "whois"
)

// Trust ranks a source for winner selection; lower values are preferred.
func (s Source) Trust() int {
	switch s {
	case SourceMailto:
		return 0
	case SourceVisibleText:
		return 1
	case SourceRawHTML, SourceAttributes, SourceComments:
		return 2
	case SourceDeobfuscated, SourceCloudflare, SourceScript:
		return 3
	case SourceForm:
		return 4
	case SourcePattern:
		return 5
	case SourceWhois:
		return 6
	default:
		return 7
	}
}

// Scraped reports whether the source is one of the page extraction layers.
func (s Source) Scraped() bool {
	return s != SourcePattern && s != SourceWhois && s != ""
}

// Annotation returns the coarse label written next to a result row.
func (s Source) Annotation() string {
	switch {
	case s == "":
		return ""
	case s.Scraped():
		return "scraped"
	default:
		return string(s)
	}
}

// Classification buckets a candidate address.
type Classification string

// Classification values.
const (
	ClassBusiness Classification = "business"
	ClassPersonal Classification = "personal"
	ClassSystem   Classification = "system"
	ClassInvalid  Classification = "invalid"
)

// Confidence grades business candidates.
type Confidence string

// Confidence values.
const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// Candidate is an address found on a page or synthesized for a domain.
type Candidate struct {
	Address    string         `json:"address"`
	Source     Source         `json:"source"`
	Class      Classification `json:"class"`
	Confidence Confidence     `json:"confidence,omitempty"`
}

// IsBusiness reports whether the candidate may populate a result.
func (c Candidate) IsBusiness() bool {
	return c.Class == ClassBusiness
}

// PageClass is the detector verdict for a single fetch.
type PageClass string

// Page classifications.
const (
	PageOK           PageClass = "ok"
	PageBotChallenge PageClass = "bot-challenge"
	PageHTTPError    PageClass = "http-error"
	PageTimeout      PageClass = "timeout"
)

// FetchRequest describes a page to retrieve.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResult is an immutable snapshot of one HTTP exchange.
type FetchResult struct {
	RequestURL  string
	URL         string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	ContentType string
	Duration    time.Duration
	Rendered    bool
	Err         error
}

// RowKey identifies the spreadsheet row a task was created from.
type RowKey struct {
	Sheet string `json:"sheet"`
	Row   int    `json:"row"`
}

func (k RowKey) String() string {
	return fmt.Sprintf("%s!%d", k.Sheet, k.Row)
}

// SiteTask is one scheduled site visit. The URL is normalized on creation.
type SiteTask struct {
	Key     RowKey
	URL     string
	Raw     string
	Company string

	attempts  atomic.Int32
	startedAt atomic.Int64
	skip      atomic.Bool
}

// NewSiteTask normalizes rawURL and builds a task for it.
func NewSiteTask(key RowKey, rawURL, company string) (*SiteTask, error) {
	normalized, err := NormalizeSiteURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &SiteTask{
		Key:     key,
		URL:     normalized,
		Raw:     rawURL,
		Company: company,
	}, nil
}

// MarkStarted records when the orchestrator picked the task up.
func (t *SiteTask) MarkStarted(now time.Time) {
	t.startedAt.Store(now.UnixNano())
}

// StartedAt returns the start time, or zero if the task has not started.
func (t *SiteTask) StartedAt() time.Time {
	ns := t.startedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Elapsed returns the time since start.
func (t *SiteTask) Elapsed(now time.Time) time.Duration {
	started := t.StartedAt()
	if started.IsZero() {
		return 0
	}
	return now.Sub(started)
}

// AddAttempt increments and returns the fetch attempt counter.
func (t *SiteTask) AddAttempt() int {
	return int(t.attempts.Add(1))
}

// Attempts returns the number of fetch attempts made so far.
func (t *SiteTask) Attempts() int {
	return int(t.attempts.Load())
}

// RequestSkip raises the manual skip flag. Safe from any goroutine.
func (t *SiteTask) RequestSkip() {
	t.skip.Store(true)
}

// SkipRequested reports whether a manual skip was raised.
func (t *SiteTask) SkipRequested() bool {
	return t.skip.Load()
}

// OutcomeKind is the terminal disposition of a task.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeFound    OutcomeKind = "found"
	OutcomeNotFound OutcomeKind = "not-found"
	OutcomeSkipped  OutcomeKind = "skipped"
	OutcomeError    OutcomeKind = "error"
)

// ErrorKind refines OutcomeError.
type ErrorKind string

// Error kinds.
const (
	ErrorNetwork     ErrorKind = "network"
	ErrorTimeout     ErrorKind = "timeout"
	ErrorInvalidURL  ErrorKind = "invalid-url"
	ErrorInterrupted ErrorKind = "interrupted"
)

// SkippedMarker is written to the email cell of manually skipped rows.
const SkippedMarker = "SKIPPED"

// Outcome is the terminal record for a SiteTask.
type Outcome struct {
	Key        RowKey        `json:"key"`
	URL        string        `json:"url"`
	Kind       OutcomeKind   `json:"kind"`
	Email      string        `json:"email,omitempty"`
	Source     Source        `json:"source,omitempty"`
	ErrorKind  ErrorKind     `json:"error_kind,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Attempts   int           `json:"attempts"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Final reports whether the outcome settles its row. Interrupted rows are
// picked up again on the next run.
func (o Outcome) Final() bool {
	return !(o.Kind == OutcomeError && o.ErrorKind == ErrorInterrupted)
}

// EmailCell renders the value for the Email column.
func (o Outcome) EmailCell() string {
	switch o.Kind {
	case OutcomeFound:
		return o.Email
	case OutcomeSkipped:
		return SkippedMarker
	default:
		return ""
	}
}

// SourceCell renders the value for the source annotation column.
func (o Outcome) SourceCell() string {
	if o.Kind != OutcomeFound {
		return ""
	}
	if o.Source.Scraped() {
		return "scraped:" + string(o.Source)
	}
	return o.Source.Annotation()
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeFound:
		return fmt.Sprintf("found(%s, %s)", o.Email, o.Source)
	case OutcomeError:
		return fmt.Sprintf("error(%s)", o.ErrorKind)
	default:
		return string(o.Kind)
	}
}
