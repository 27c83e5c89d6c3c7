package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/detector"
	"github.com/gorkemkurban/email-scraper/internal/extractor"
	"github.com/gorkemkurban/email-scraper/internal/hash/sha256"
	"github.com/gorkemkurban/email-scraper/internal/locator"
	"github.com/gorkemkurban/email-scraper/internal/matcher"
	"github.com/gorkemkurban/email-scraper/internal/progress"
	"github.com/gorkemkurban/email-scraper/internal/synth"
)

const (
	defaultRequestTimeout   = 3 * time.Second
	defaultSiteTimeout      = 15 * time.Second
	defaultMaxContactPages  = 3
	defaultMaxAttempts      = 2
	defaultRetryBackoff     = 250 * time.Millisecond
	defaultSkipPollInterval = 500 * time.Millisecond
	defaultWhoisTimeout     = 5 * time.Second
)

var errSkipRequested = errors.New("manual skip requested")

// Config bounds the work done per site.
type Config struct {
	RequestTimeout   time.Duration
	SiteTimeout      time.Duration
	MaxContactPages  int
	MaxAttempts      int
	RetryBackoff     time.Duration
	SkipPollInterval time.Duration
	PatternsEnabled  bool
	WhoisEnabled     bool
	WhoisTimeout     time.Duration
	RenderJS         bool
}

// Deps are the collaborators of an Orchestrator. Only Fetcher, Locator,
// Extractor, Detector, and Matcher are required.
type Deps struct {
	Fetcher     crawler.Fetcher
	Renderer    crawler.Renderer
	Locator     *locator.Locator
	Extractor   *extractor.Extractor
	Detector    *detector.Detector
	Heuristic   *detector.RenderHeuristic
	Matcher     *matcher.Matcher
	Synthesizer *synth.Synthesizer
	Emitter     progress.Emitter
	Observer    StateObserver
	Clock       crawler.Clock
	Retry       RetryPolicy
	Hasher      crawler.Hasher
	Logger      *zap.Logger
}

// Orchestrator runs sites. It holds no per-site state and is safe for
// concurrent use; each Run call is single-flow.
type Orchestrator struct {
	cfg       Config
	fetcher   crawler.Fetcher
	renderer  crawler.Renderer
	locator   *locator.Locator
	extractor *extractor.Extractor
	detector  *detector.Detector
	heuristic *detector.RenderHeuristic
	matcher   *matcher.Matcher
	synth     *synth.Synthesizer
	emitter   progress.Emitter
	observer  StateObserver
	clock     crawler.Clock
	retry     RetryPolicy
	hasher    crawler.Hasher
	logger    *zap.Logger
}

// New validates deps and applies defaults to zero config values.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Locator == nil:
		return nil, errors.New("locator is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Detector == nil:
		return nil, errors.New("detector is required")
	case deps.Matcher == nil:
		return nil, errors.New("matcher is required")
	case deps.Synthesizer == nil && (cfg.PatternsEnabled || cfg.WhoisEnabled):
		return nil, errors.New("synthesizer is required when patterns or whois are enabled")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.SiteTimeout <= 0 {
		cfg.SiteTimeout = defaultSiteTimeout
	}
	if cfg.MaxContactPages <= 0 {
		cfg.MaxContactPages = defaultMaxContactPages
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.SkipPollInterval <= 0 {
		cfg.SkipPollInterval = defaultSkipPollInterval
	}
	if cfg.WhoisTimeout <= 0 {
		cfg.WhoisTimeout = defaultWhoisTimeout
	}

	o := &Orchestrator{
		cfg:       cfg,
		fetcher:   deps.Fetcher,
		renderer:  deps.Renderer,
		locator:   deps.Locator,
		extractor: deps.Extractor,
		detector:  deps.Detector,
		heuristic: deps.Heuristic,
		matcher:   deps.Matcher,
		synth:     deps.Synthesizer,
		emitter:   deps.Emitter,
		observer:  deps.Observer,
		clock:     deps.Clock,
		retry:     deps.Retry,
		hasher:    deps.Hasher,
		logger:    deps.Logger,
	}
	if o.emitter == nil {
		o.emitter = progress.Nop{}
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	if o.clock == nil {
		o.clock = wallClock{}
	}
	if o.retry == nil {
		o.retry = NewExponentialRetryPolicy(cfg.MaxAttempts, cfg.RetryBackoff)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.hasher == nil {
		o.hasher = sha256.New()
	}
	if o.heuristic == nil {
		o.heuristic = detector.NewRenderHeuristic(0)
	}
	return o, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// verdict is the result of the discovery flow before cancellation is
// taken into account.
type verdict struct {
	kind      crawler.OutcomeKind
	candidate crawler.Candidate
	errKind   crawler.ErrorKind
	detail    string
	aborted   bool
}

// run carries the per-site mutable state of one Run call.
type run struct {
	o     *Orchestrator
	task  *crawler.SiteTask
	state State
	// digests of bodies already extracted
	seen map[string]struct{}
}

// Run drives task to exactly one outcome. It returns once the outcome is
// decided; every fetch it started has been released by then.
func (o *Orchestrator) Run(ctx context.Context, task *crawler.SiteTask) crawler.Outcome {
	started := o.clock.Now()
	task.MarkStarted(started)
	r := &run{o: o, task: task, state: StatePending, seen: make(map[string]struct{})}
	o.emit(task, progress.Event{Stage: progress.StageSiteStart})

	siteCtx, cancelSite := context.WithTimeout(ctx, o.cfg.SiteTimeout)
	defer cancelSite()
	workCtx, cancelWork := context.WithCancelCause(siteCtx)
	defer cancelWork(nil)

	pollDone := make(chan struct{})
	go o.pollSkip(workCtx, task, cancelWork, pollDone)

	var v verdict
	if task.SkipRequested() {
		cancelWork(errSkipRequested)
		v.aborted = true
	} else {
		v = r.discover(workCtx)
	}
	cancelWork(nil)
	<-pollDone

	if v.aborted {
		v = r.abortVerdict(ctx, siteCtx, workCtx)
	}
	return r.finish(started, v)
}

// pollSkip checks the task's skip flag every SkipPollInterval and cancels
// the site when it is raised.
func (o *Orchestrator) pollSkip(
	ctx context.Context,
	task *crawler.SiteTask,
	cancel context.CancelCauseFunc,
	done chan<- struct{},
) {
	defer close(done)
	ticker := time.NewTicker(o.cfg.SkipPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if task.SkipRequested() {
				cancel(errSkipRequested)
				return
			}
		}
	}
}

// abortVerdict explains why the work context ended: a skip wins over an
// interrupt, which wins over the watchdog.
func (r *run) abortVerdict(parent, site, work context.Context) verdict {
	switch {
	case errors.Is(context.Cause(work), errSkipRequested):
		return verdict{kind: crawler.OutcomeSkipped, detail: "manual skip"}
	case parent.Err() != nil:
		return verdict{kind: crawler.OutcomeError, errKind: crawler.ErrorInterrupted, detail: parent.Err().Error()}
	case errors.Is(site.Err(), context.DeadlineExceeded):
		return verdict{
			kind:    crawler.OutcomeError,
			errKind: crawler.ErrorTimeout,
			detail:  fmt.Sprintf("site exceeded %s", r.o.cfg.SiteTimeout),
		}
	default:
		return verdict{kind: crawler.OutcomeError, errKind: crawler.ErrorInterrupted, detail: "cancelled"}
	}
}

func (r *run) finish(started time.Time, v verdict) crawler.Outcome {
	finished := r.o.clock.Now()
	outcome := crawler.Outcome{
		Key:        r.task.Key,
		URL:        r.task.URL,
		Kind:       v.kind,
		ErrorKind:  v.errKind,
		Detail:     v.detail,
		Attempts:   r.task.Attempts(),
		StartedAt:  started,
		FinishedAt: finished,
		Elapsed:    finished.Sub(started),
	}
	switch v.kind {
	case crawler.OutcomeFound:
		outcome.Email = v.candidate.Address
		outcome.Source = v.candidate.Source
		r.transition(StateDone, outcome.String())
	case crawler.OutcomeNotFound:
		r.transition(StateDone, outcome.String())
	case crawler.OutcomeSkipped:
		r.transition(StateSkipped, v.detail)
	default:
		r.transition(StateErrored, outcome.String())
	}
	r.o.emit(r.task, progress.Event{
		Stage:     progress.StageSiteDone,
		Outcome:   outcome.Kind,
		Source:    outcome.Source,
		ErrorKind: outcome.ErrorKind,
		Dur:       outcome.Elapsed,
		Note:      outcome.Detail,
	})
	return outcome
}

// discover is the single-flow body of the state machine. It returns an
// aborted verdict as soon as ctx ends.
func (r *run) discover(ctx context.Context) verdict {
	r.transition(StateFetchingHome, "")
	home, class, err := r.fetch(ctx, r.task.URL)
	if ctx.Err() != nil {
		return verdict{aborted: true}
	}
	if err != nil {
		return homeFailure(err)
	}
	home, class = r.promote(ctx, home, class)
	if ctx.Err() != nil {
		return verdict{aborted: true}
	}

	if class == crawler.PageOK {
		if v, ok := r.extract(ctx, home); ok || v.aborted {
			return v
		}
	}

	r.transition(StateLocatingContact, string(class))
	pages := r.o.locator.Locate(home).Take(r.o.cfg.MaxContactPages)
	for i, page := range pages {
		r.transitionPage(StateFetchingContact, i, page.URL)
		res, pageClass, err := r.fetch(ctx, page.URL)
		if ctx.Err() != nil {
			return verdict{aborted: true}
		}
		if err != nil || pageClass != crawler.PageOK {
			continue
		}
		if v, ok := r.extract(ctx, res); ok || v.aborted {
			return v
		}
	}

	locale := r.o.locator.DetectLocale(home)
	return r.synthesize(ctx, locale)
}

func homeFailure(err error) verdict {
	switch {
	case errors.Is(err, crawler.ErrTimeout):
		return verdict{kind: crawler.OutcomeError, errKind: crawler.ErrorTimeout, detail: err.Error()}
	case errors.Is(err, crawler.ErrInvalidURL):
		return verdict{kind: crawler.OutcomeError, errKind: crawler.ErrorInvalidURL, detail: err.Error()}
	default:
		return verdict{kind: crawler.OutcomeError, errKind: crawler.ErrorNetwork, detail: err.Error()}
	}
}

// fetch performs one fetch with the retry policy and classifies the page.
// Each attempt is bounded by the request timeout and by ctx.
func (r *run) fetch(ctx context.Context, url string) (crawler.FetchResult, crawler.PageClass, error) {
	var (
		res crawler.FetchResult
		err error
	)
	for attempt := 1; ; attempt++ {
		r.task.AddAttempt()
		reqCtx, cancel := context.WithTimeout(ctx, r.o.cfg.RequestTimeout)
		res, err = r.o.fetcher.Fetch(reqCtx, crawler.FetchRequest{URL: url})
		cancel()
		if err == nil || ctx.Err() != nil || !r.o.retry.ShouldRetry(err, attempt) {
			break
		}
		backoff := r.o.retry.Backoff(attempt)
		r.o.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if !sleep(ctx, backoff) {
			break
		}
	}
	if res.RequestURL == "" {
		res.RequestURL = url
	}
	if err != nil && res.Err == nil {
		res.Err = err
	}
	class := r.o.detector.Classify(res)
	r.o.emit(r.task, progress.Event{
		Stage:       progress.StageFetchDone,
		URL:         url,
		PageClass:   class,
		StatusClass: progress.ClassifyStatus(res.StatusCode),
		Rendered:    res.Rendered,
		Bytes:       int64(len(res.Body)),
		Dur:         res.Duration,
	})
	if class == crawler.PageBotChallenge {
		r.o.logger.Debug("bot wall detected", zap.String("url", url))
	}
	return res, class, err
}

// promote re-fetches a JavaScript shell homepage through the renderer.
// Render failures keep the static page.
func (r *run) promote(ctx context.Context, home crawler.FetchResult, class crawler.PageClass) (crawler.FetchResult, crawler.PageClass) {
	if !r.o.cfg.RenderJS || r.o.renderer == nil || class != crawler.PageOK || !r.o.heuristic.NeedsRender(home) {
		return home, class
	}
	r.task.AddAttempt()
	rendered, err := r.o.renderer.Render(ctx, crawler.FetchRequest{URL: home.URL})
	if err != nil {
		r.o.logger.Debug("render failed, keeping static page", zap.String("url", home.URL), zap.Error(err))
		return home, class
	}
	renderedClass := r.o.detector.Classify(rendered)
	r.o.emit(r.task, progress.Event{
		Stage:       progress.StageFetchDone,
		URL:         home.URL,
		PageClass:   renderedClass,
		StatusClass: progress.ClassifyStatus(rendered.StatusCode),
		Rendered:    true,
		Bytes:       int64(len(rendered.Body)),
		Dur:         rendered.Duration,
	})
	return rendered, renderedClass
}

// extract runs the layers over an ok page and picks the winner. A body
// identical to one already extracted for this site yields nothing.
func (r *run) extract(ctx context.Context, res crawler.FetchResult) (verdict, bool) {
	if r.duplicate(res) {
		r.o.logger.Debug("page identical to one already extracted", zap.String("url", res.URL))
		return verdict{}, false
	}
	r.transition(StateExtracting, res.URL)
	result := r.o.extractor.Extract(ctx, res)
	if ctx.Err() != nil {
		return verdict{aborted: true}, false
	}
	for layer, found := range result.ByLayer {
		if len(found) == 0 {
			continue
		}
		r.o.emit(r.task, progress.Event{
			Stage: progress.StageLayerFindings,
			URL:   res.URL,
			Layer: layer,
			Count: len(found),
		})
	}
	best, ok := r.o.matcher.Best(result.Candidates)
	if !ok {
		return verdict{}, false
	}
	return verdict{kind: crawler.OutcomeFound, candidate: best}, true
}

func (r *run) duplicate(res crawler.FetchResult) bool {
	digest, err := r.o.hasher.Hash(res.Body)
	if err != nil {
		return false
	}
	if _, ok := r.seen[digest]; ok {
		return true
	}
	r.seen[digest] = struct{}{}
	return false
}

// synthesize falls back to pattern addresses, then WHOIS.
func (r *run) synthesize(ctx context.Context, locale string) verdict {
	r.transition(StateSynthesizing, locale)
	if r.o.synth == nil {
		return verdict{kind: crawler.OutcomeNotFound}
	}
	if r.o.cfg.PatternsEnabled {
		if cands := r.o.synth.Synthesize(r.task.URL, locale, r.task.Company); len(cands) > 0 {
			return verdict{kind: crawler.OutcomeFound, candidate: cands[0]}
		}
	}
	if r.o.cfg.WhoisEnabled {
		whoisCtx, cancel := context.WithTimeout(ctx, r.o.cfg.WhoisTimeout)
		cands, err := r.o.synth.Whois(whoisCtx, r.task.URL)
		cancel()
		if ctx.Err() != nil {
			return verdict{aborted: true}
		}
		if err != nil {
			r.o.logger.Debug("whois lookup failed", zap.String("url", r.task.URL), zap.Error(err))
		} else if len(cands) > 0 {
			return verdict{kind: crawler.OutcomeFound, candidate: cands[0]}
		}
	}
	return verdict{kind: crawler.OutcomeNotFound}
}

func (r *run) transition(to State, detail string) {
	r.transitionPage(to, -1, detail)
}

func (r *run) transitionPage(to State, page int, detail string) {
	from := r.state
	r.state = to
	t := Transition{
		Key:    r.task.Key,
		URL:    r.task.URL,
		From:   from,
		To:     to,
		Page:   page,
		At:     r.o.clock.Now(),
		Detail: detail,
	}
	r.o.logger.Debug("site state",
		zap.String("url", r.task.URL),
		zap.String("from", string(from)),
		zap.String("state", string(to)),
		zap.Int("page", page),
		zap.String("detail", detail),
	)
	r.o.observer.OnTransition(t)
}

func (o *Orchestrator) emit(task *crawler.SiteTask, evt progress.Event) {
	evt.Row = task.Key.String()
	evt.Site = crawler.SiteDomain(task.URL)
	if evt.URL == "" {
		evt.URL = task.URL
	}
	o.emitter.Emit(evt)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
