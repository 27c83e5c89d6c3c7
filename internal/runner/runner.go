// Package runner drives a batch of sites through the orchestrator with
// bounded, load-aware concurrency, checkpointing outcomes as they land.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/checkpoint"
	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/metrics"
	"github.com/gorkemkurban/email-scraper/internal/progress"
	"github.com/gorkemkurban/email-scraper/internal/throttle"
)

const (
	defaultConcurrency     = 4
	defaultCheckpointEvery = 10
	defaultDrainTimeout    = 5 * time.Second
	defaultStatsInterval   = 10 * time.Second
	defaultPausePoll       = 250 * time.Millisecond
	flushTimeout           = 10 * time.Second
)

// Config controls Runner behavior.
type Config struct {
	Concurrency     int
	CheckpointEvery int
	DrainTimeout    time.Duration
	StatsInterval   time.Duration
	PausePoll       time.Duration
}

// SiteRunner runs one site to its outcome. *orchestrator.Orchestrator
// satisfies it.
type SiteRunner interface {
	Run(ctx context.Context, task *crawler.SiteTask) crawler.Outcome
}

// Pacer spaces out site starts.
type Pacer interface {
	Wait(ctx context.Context) error
}

// LoadGate reports the current throttle state.
type LoadGate interface {
	Snapshot() throttle.State
}

// Deps are the collaborators of a Runner. Pacer, Gate, Emitter, Clock, and
// Logger are optional.
type Deps struct {
	Sites   SiteRunner
	Store   crawler.CheckpointStore
	Pacer   Pacer
	Gate    LoadGate
	Emitter progress.Emitter
	Clock   crawler.Clock
	Logger  *zap.Logger
}

// Input is one row to process.
type Input struct {
	Key     crawler.RowKey
	URL     string
	Company string
}

// Summary describes a finished batch.
type Summary struct {
	Stats     progress.Stats
	Total     int
	Resumed   int
	Unstarted int
	// Outcomes holds every settled outcome for the inputs, including
	// those resumed from the checkpoint store, ordered by row.
	Outcomes    []crawler.Outcome
	Interrupted bool
}

// Runner executes batches. One batch runs at a time.
type Runner struct {
	cfg     Config
	sites   SiteRunner
	store   crawler.CheckpointStore
	pacer   Pacer
	gate    LoadGate
	emitter progress.Emitter
	clock   crawler.Clock
	logger  *zap.Logger

	mu       sync.Mutex
	inflight map[*crawler.SiteTask]struct{}
	reserved int
	freed    chan struct{}
	stop     context.CancelFunc
}

// New validates deps and applies defaults.
func New(cfg Config, deps Deps) (*Runner, error) {
	if deps.Sites == nil {
		return nil, errors.New("site runner is required")
	}
	if deps.Store == nil {
		return nil, errors.New("checkpoint store is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = defaultCheckpointEvery
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = defaultStatsInterval
	}
	if cfg.PausePoll <= 0 {
		cfg.PausePoll = defaultPausePoll
	}
	r := &Runner{
		cfg:      cfg,
		sites:    deps.Sites,
		store:    deps.Store,
		pacer:    deps.Pacer,
		gate:     deps.Gate,
		emitter:  deps.Emitter,
		clock:    deps.Clock,
		logger:   deps.Logger,
		inflight: make(map[*crawler.SiteTask]struct{}),
		freed:    make(chan struct{}, 1),
	}
	if r.emitter == nil {
		r.emitter = progress.Nop{}
	}
	if r.clock == nil {
		r.clock = wallClock{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r, nil
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Run processes inputs until all are settled or ctx is cancelled. On
// cancel it stops admitting, gives in-flight sites DrainTimeout to finish,
// then cancels them; they settle as error(interrupted). Outcomes are always
// flushed before Run returns.
func (r *Runner) Run(ctx context.Context, inputs []Input) (Summary, error) {
	started := r.clock.Now()
	summary := Summary{Total: len(inputs)}
	summary.Stats.StartedAt = started

	prior, err := r.store.Load(ctx)
	if err != nil {
		return summary, fmt.Errorf("load checkpoint: %w", err)
	}
	resumed := resumable(checkpoint.Index(prior), inputs)

	admitCtx, stop := context.WithCancel(ctx)
	defer stop()
	r.mu.Lock()
	r.stop = stop
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.stop = nil
		r.mu.Unlock()
	}()

	// Sites keep running past an interrupt until the drain deadline.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	r.emitter.Emit(progress.Event{Stage: progress.StageRunStart, Count: len(inputs)})

	results := make(chan crawler.Outcome, r.cfg.Concurrency)
	collected := make(chan collectResult, 1)
	go func() {
		collected <- r.collect(results)
	}()

	statsDone := make(chan struct{})
	statsCtx, stopStats := context.WithCancel(context.Background())
	go r.reportStats(statsCtx, statsDone)

	var wg sync.WaitGroup
	for _, in := range inputs {
		if _, ok := resumed[in.Key]; ok {
			summary.Resumed++
			continue
		}
		if admitCtx.Err() != nil {
			summary.Unstarted++
			continue
		}
		task, err := crawler.NewSiteTask(in.Key, in.URL, in.Company)
		if err != nil {
			results <- r.invalid(in, err)
			continue
		}
		if err := r.admit(admitCtx); err != nil {
			summary.Unstarted++
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.runSite(workCtx, task)
		}()
	}

	r.drain(admitCtx, &wg, cancelWork)
	interrupted := admitCtx.Err() != nil
	close(results)
	res := <-collected
	stopStats()
	<-statsDone

	summary.Interrupted = interrupted
	summary.Stats = res.stats
	summary.Stats.StartedAt = started
	summary.Stats.Elapsed = r.clock.Now().Sub(started)
	summary.Stats.Done = true
	summary.Stats.Load = r.Load()

	byKey := make(map[crawler.RowKey]crawler.Outcome, len(inputs))
	for key, prev := range resumed {
		byKey[key] = prev
	}
	for _, o := range res.outcomes {
		byKey[o.Key] = o
	}
	for _, in := range inputs {
		if o, ok := byKey[in.Key]; ok {
			summary.Outcomes = append(summary.Outcomes, o)
		}
	}

	r.emitter.Emit(progress.Event{
		Stage: progress.StageRunDone,
		Count: summary.Stats.Completed(),
		Dur:   summary.Stats.Elapsed,
		Note:  fmt.Sprintf("resumed=%d unstarted=%d", summary.Resumed, summary.Unstarted),
	})
	r.logger.Info("batch finished",
		zap.Int("total", summary.Total),
		zap.Int("found", summary.Stats.Found()),
		zap.Int("not_found", summary.Stats.NotFound),
		zap.Int("skipped", summary.Stats.Skipped),
		zap.Int("errored", summary.Stats.Errored),
		zap.Int("resumed", summary.Resumed),
		zap.Int("unstarted", summary.Unstarted),
		zap.Duration("elapsed", summary.Stats.Elapsed),
		zap.Bool("interrupted", summary.Interrupted),
	)
	if res.err != nil {
		return summary, fmt.Errorf("final checkpoint flush: %w", res.err)
	}
	return summary, nil
}

// Stop ends the current batch as if its context had been cancelled. It
// reports false when no batch is running.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop == nil {
		return false
	}
	r.stop()
	return true
}

// drain waits for in-flight sites. Once ctx is cancelled they get
// DrainTimeout before their contexts are cancelled too.
func (r *Runner) drain(ctx context.Context, wg *sync.WaitGroup, cancelWork context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	r.logger.Info("interrupt received, draining in-flight sites",
		zap.Int("in_flight", r.InFlight()),
		zap.Duration("drain_timeout", r.cfg.DrainTimeout),
	)
	timer := time.NewTimer(r.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		r.logger.Warn("drain timeout, cancelling in-flight sites", zap.Int("in_flight", r.InFlight()))
		cancelWork()
		<-done
	}
}

func (r *Runner) runSite(ctx context.Context, task *crawler.SiteTask) crawler.Outcome {
	r.mu.Lock()
	r.inflight[task] = struct{}{}
	r.mu.Unlock()
	metrics.IncActiveSites()
	defer func() {
		metrics.DecActiveSites()
		r.mu.Lock()
		delete(r.inflight, task)
		r.reserved--
		r.mu.Unlock()
		select {
		case r.freed <- struct{}{}:
		default:
		}
	}()
	return r.sites.Run(ctx, task)
}

// resumable picks the stored outcomes that still describe their row. A row
// whose website changed since the outcome was stored (rows inserted or
// reordered between runs) is processed again.
func resumable(settled map[crawler.RowKey]crawler.Outcome, inputs []Input) map[crawler.RowKey]crawler.Outcome {
	out := make(map[crawler.RowKey]crawler.Outcome)
	for _, in := range inputs {
		prev, ok := settled[in.Key]
		if !ok || !prev.Final() || !sameSite(prev, in.URL) {
			continue
		}
		out[in.Key] = prev
	}
	return out
}

func sameSite(prev crawler.Outcome, raw string) bool {
	if normalized, err := crawler.NormalizeSiteURL(raw); err == nil {
		return prev.URL == normalized
	}
	return prev.URL == raw
}

func (r *Runner) invalid(in Input, err error) crawler.Outcome {
	now := r.clock.Now()
	o := crawler.Outcome{
		Key:        in.Key,
		URL:        in.URL,
		Kind:       crawler.OutcomeError,
		ErrorKind:  crawler.ErrorInvalidURL,
		Detail:     err.Error(),
		StartedAt:  now,
		FinishedAt: now,
	}
	r.logger.Debug("invalid site url", zap.String("url", in.URL), zap.Error(err))
	evt := progress.Event{Row: in.Key.String(), URL: in.URL}
	start := evt
	start.Stage = progress.StageSiteStart
	r.emitter.Emit(start)
	evt.Stage = progress.StageSiteDone
	evt.Outcome = o.Kind
	evt.ErrorKind = o.ErrorKind
	evt.Note = o.Detail
	r.emitter.Emit(evt)
	return o
}

// InFlight returns the number of sites currently admitted.
func (r *Runner) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserved
}
