package cmd

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/config"
	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/detector"
	"github.com/gorkemkurban/email-scraper/internal/extractor"
	collyfetcher "github.com/gorkemkurban/email-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/gorkemkurban/email-scraper/internal/fetcher/headless"
	"github.com/gorkemkurban/email-scraper/internal/hash/sha256"
	"github.com/gorkemkurban/email-scraper/internal/lexicon"
	"github.com/gorkemkurban/email-scraper/internal/locator"
	"github.com/gorkemkurban/email-scraper/internal/matcher"
	"github.com/gorkemkurban/email-scraper/internal/orchestrator"
	"github.com/gorkemkurban/email-scraper/internal/progress"
	"github.com/gorkemkurban/email-scraper/internal/synth"
)

// engine is the per-site pipeline plus whatever must be released after use.
type engine struct {
	orchestrator *orchestrator.Orchestrator
	closers      []func()
}

func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// engineOptions lets commands attach observers; zero values are fine.
type engineOptions struct {
	emitter  progress.Emitter
	observer orchestrator.StateObserver
	fetcher  crawler.Fetcher
	// wrapFetcher decorates the fetcher, e.g. to snapshot pages.
	wrapFetcher func(crawler.Fetcher) crawler.Fetcher
}

func buildEngine(cfg config.Config, logger *zap.Logger, opts engineOptions) (*engine, error) {
	lex, err := lexicon.Load(cfg.Lexicon.Path)
	if err != nil {
		return nil, fmt.Errorf("load lexicon: %w", err)
	}
	m := matcher.New(lex)

	if err := checkLayers(m, cfg.Crawl.DisabledLayers); err != nil {
		return nil, err
	}
	ext := extractor.New(m,
		extractor.WithDisabled(cfg.Crawl.DisabledLayers...),
		extractor.WithLogger(logger),
	)

	synthOpts := []synth.Option{synth.WithLogger(logger)}
	if cfg.Synth.WhoisEnabled {
		synthOpts = append(synthOpts, synth.WithLookuper(synth.NewNetLookuper(cfg.Synth.WhoisTimeout)))
	}

	fetcher := opts.fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:    cfg.Crawl.UserAgent,
			Timeout:      cfg.Crawl.RequestTimeout,
			MaxBodyBytes: cfg.Crawl.MaxBodyBytes,
		})
	}
	if opts.wrapFetcher != nil {
		fetcher = opts.wrapFetcher(fetcher)
	}

	eng := &engine{}
	renderer, closeRenderer, err := buildRenderer(cfg, logger)
	if err != nil {
		return nil, err
	}
	if closeRenderer != nil {
		eng.closers = append(eng.closers, closeRenderer)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		RequestTimeout:   cfg.Crawl.RequestTimeout,
		SiteTimeout:      cfg.Crawl.SiteTimeout,
		MaxContactPages:  cfg.Crawl.MaxContactPages,
		MaxAttempts:      cfg.Crawl.MaxRetries,
		RetryBackoff:     cfg.Crawl.RetryBackoff,
		SkipPollInterval: cfg.Crawl.SkipPollInterval,
		PatternsEnabled:  cfg.Synth.PatternsEnabled,
		WhoisEnabled:     cfg.Synth.WhoisEnabled,
		WhoisTimeout:     cfg.Synth.WhoisTimeout,
		RenderJS:         renderer != nil,
	}, orchestrator.Deps{
		Fetcher:     fetcher,
		Renderer:    renderer,
		Locator:     locator.New(lex),
		Extractor:   ext,
		Detector:    detector.New(lex),
		Heuristic:   detector.NewRenderHeuristic(cfg.Headless.PromotionThreshold),
		Matcher:     m,
		Synthesizer: synth.New(lex, m, synthOpts...),
		Emitter:     opts.emitter,
		Observer:    opts.observer,
		Hasher:      sha256.New(),
		Logger:      logger,
	})
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	eng.orchestrator = orch
	return eng, nil
}

// buildRenderer returns nil when JS rendering is off or Chrome cannot be
// started; sites then stay on the plain fetch path.
func buildRenderer(cfg config.Config, logger *zap.Logger) (crawler.Renderer, func(), error) {
	if !cfg.Crawl.RenderJS {
		return nil, nil, nil
	}
	renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Crawl.UserAgent,
		NavigationTimeout: cfg.Headless.NavigationTimeout,
		MaxBodyBytes:      cfg.Crawl.MaxBodyBytes,
	})
	if err != nil {
		logger.Warn("headless renderer init failed; falling back to plain fetches", zap.Error(err))
		return nil, nil, nil
	}
	return renderer, renderer.Close, nil
}

func checkLayers(m *matcher.Matcher, disabled []string) error {
	known := extractor.New(m).Layers()
	for _, name := range disabled {
		if !slices.Contains(known, crawler.Source(name)) {
			return fmt.Errorf("crawl.disabled_layers: unknown layer %q", name)
		}
	}
	return nil
}
