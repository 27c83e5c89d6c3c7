// Package headless renders pages that only produce content once their
// JavaScript has run.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

const (
	defaultNavigationTimeout = 10 * time.Second
	settleDelay              = 500 * time.Millisecond
)

// blockedAssets never carry an address; skipping them keeps renders inside
// the site budget.
var blockedAssets = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico",
	"*.woff", "*.woff2", "*.ttf", "*.otf",
	"*.mp4", "*.webm", "*.mp3",
	"*.css",
}

// Footers are often lazy-loaded; scrolling once pulls them into the DOM.
const scrollToFooter = `window.scrollTo(0, document.body ? document.body.scrollHeight : 0)`

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	MaxBodyBytes      int
}

// Fetcher implements crawler.Renderer using chromedp and headless Chrome.
// A single browser process is shared; each Render gets its own tab.
type Fetcher struct {
	cfg         Config
	slots       *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp prepares the browser allocator. Chrome itself starts on the
// first Render.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{cfg: cfg, allocator: allocCtx, allocCancel: allocCancel}
	if cfg.MaxParallel > 0 {
		f.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Render loads request.URL in a fresh tab, scrolls to the footer, and
// returns the resulting DOM. The tab closes as soon as ctx ends.
func (f *Fetcher) Render(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResult, error) {
	if f.slots != nil {
		if err := f.slots.Acquire(ctx, 1); err != nil {
			return crawler.FetchResult{}, classify(request.URL, fmt.Errorf("headless slot wait: %w", err))
		}
		defer f.slots.Release(1)
	}

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.navTimeout())
	defer cancel()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tabCtx,
		f.prepareTab(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(scrollToFooter, nil),
		chromedp.Sleep(settleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		err = fmt.Errorf("chromedp run: %w", err)
		return crawler.FetchResult{RequestURL: request.URL, Rendered: true, Err: err}, classify(request.URL, err)
	}

	status, headers, finalURL := doc.result(request.URL, location)
	body := []byte(html)
	if f.cfg.MaxBodyBytes > 0 && len(body) > f.cfg.MaxBodyBytes {
		body = body[:f.cfg.MaxBodyBytes]
	}
	return crawler.FetchResult{
		RequestURL:  request.URL,
		URL:         finalURL,
		StatusCode:  status,
		Headers:     headers,
		Body:        body,
		ContentType: "text/html; charset=utf-8",
		Duration:    time.Since(start),
		Rendered:    true,
	}, nil
}

// prepareTab enables the network domain, drops asset requests, and applies
// the user agent and any extra request headers.
func (f *Fetcher) prepareTab(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := network.SetBlockedURLs(blockedAssets).Do(ctx); err != nil {
			return fmt.Errorf("block assets: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

func classify(url string, err error) error {
	kind := crawler.ErrNetwork
	if errors.Is(err, context.DeadlineExceeded) {
		kind = crawler.ErrTimeout
	}
	return &crawler.FetchError{URL: url, Kind: kind, Err: err}
}
