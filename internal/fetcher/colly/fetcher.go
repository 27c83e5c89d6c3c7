// Package collyfetcher implements Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

const (
	defaultTimeout      = 3 * time.Second
	defaultMaxBodyBytes = 2 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Fetcher implements crawler.Fetcher using the Colly collector. A fresh
// collector bound to the caller's context is built per fetch; only the
// connection pool is shared.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
	}
}

// Fetch executes a single HTTP GET. Error statuses still return a result
// with the body so the bot-wall detector can inspect it.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return crawler.FetchResult{}, contextError(request.URL, err)
	}
	var (
		result   crawler.FetchResult
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, request, start, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, request.URL, &result, &fetchErr); err != nil {
		return crawler.FetchResult{RequestURL: request.URL, Duration: time.Since(start), Err: err}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResult,
	fetchErr *error,
) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.StdlibContext(ctx),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.DetectCharset(),
		colly.MaxBodySize(f.cfg.MaxBodyBytes),
	}
	if f.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(f.cfg.UserAgent))
	}
	collector := colly.NewCollector(opts...)
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.FetchResult{
			RequestURL:  request.URL,
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			Headers:     headers,
			Body:        append([]byte(nil), r.Body...),
			ContentType: headers.Get("Content-Type"),
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	result *crawler.FetchResult,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return contextError(url, ctx.Err())
	case err := <-done:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contextError(url, ctxErr)
		}
		if err == nil {
			err = *fetchErr
		}
		if err != nil {
			return classify(url, err)
		}
		if result.URL == "" {
			return &crawler.FetchError{URL: url, Kind: crawler.ErrNetwork, Err: errors.New("no response")}
		}
		return nil
	}
}

func copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func contextError(url string, err error) error {
	kind := crawler.ErrNetwork
	if errors.Is(err, context.DeadlineExceeded) {
		kind = crawler.ErrTimeout
	}
	return &crawler.FetchError{URL: url, Kind: kind, Err: err}
}

// classify maps transport failures onto the crawler error kinds.
func classify(url string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &crawler.FetchError{URL: url, Kind: crawler.ErrTimeout, Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &crawler.FetchError{URL: url, Kind: crawler.ErrTimeout, Err: err}
	case errors.Is(err, colly.ErrMissingURL), errors.Is(err, colly.ErrForbiddenDomain):
		return &crawler.FetchError{URL: url, Kind: crawler.ErrInvalidURL, Err: err}
	default:
		return &crawler.FetchError{URL: url, Kind: crawler.ErrNetwork, Err: fmt.Errorf("colly visit: %w", err)}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
