// Package extractor runs the independent extraction layers over a fetched
// page and merges what they find.
package extractor

import (
	"bytes"
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/matcher"
)

// Page is the parsed view handed to every layer. Doc is nil when the body
// could not be parsed; layers that need it report an error.
type Page struct {
	Result crawler.FetchResult
	Raw    string
	Doc    *goquery.Document
}

// Layer is one extraction strategy.
type Layer interface {
	Name() crawler.Source
	Extract(page *Page) ([]crawler.Candidate, error)
}

// Result is the merged output of one Extract call.
type Result struct {
	// Candidates is the union of all layers, one entry per address, tagged
	// with the most trusted source that produced it.
	Candidates []crawler.Candidate
	ByLayer    map[crawler.Source][]crawler.Candidate
	Failures   []*crawler.LayerError
}

// Count returns the number of candidates a layer produced.
func (r Result) Count(layer crawler.Source) int {
	return len(r.ByLayer[layer])
}

// Extractor is safe for concurrent use.
type Extractor struct {
	layers []Layer
	logger *zap.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger used for layer failures.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLayers replaces the default layer set.
func WithLayers(layers ...Layer) Option {
	return func(e *Extractor) {
		e.layers = layers
	}
}

// WithDisabled drops the named layers from the set.
func WithDisabled(names ...string) Option {
	return func(e *Extractor) {
		if len(names) == 0 {
			return
		}
		skip := make(map[crawler.Source]struct{}, len(names))
		for _, n := range names {
			skip[crawler.Source(n)] = struct{}{}
		}
		kept := e.layers[:0:0]
		for _, l := range e.layers {
			if _, drop := skip[l.Name()]; !drop {
				kept = append(kept, l)
			}
		}
		e.layers = kept
	}
}

// DefaultLayers returns the eight layers in their fixed order.
func DefaultLayers(m *matcher.Matcher) []Layer {
	return []Layer{
		visibleTextLayer{m: m},
		rawHTMLLayer{m: m},
		mailtoLayer{m: m},
		cloudflareLayer{m: m},
		formLayer{m: m},
		scriptLayer{m: m},
		attributeLayer{m: m},
		commentLayer{m: m},
	}
}

// New builds an extractor with the default layers, then applies opts in order.
func New(m *matcher.Matcher, opts ...Option) *Extractor {
	e := &Extractor{
		layers: DefaultLayers(m),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Layers lists the active layer names.
func (e *Extractor) Layers() []crawler.Source {
	out := make([]crawler.Source, 0, len(e.layers))
	for _, l := range e.layers {
		out = append(out, l.Name())
	}
	return out
}

// Extract applies every layer to res. A failing layer is recorded and the
// others still run. Cancellation of ctx stops before the next layer.
func (e *Extractor) Extract(ctx context.Context, res crawler.FetchResult) Result {
	page := &Page{Result: res, Raw: string(res.Body)}
	if len(res.Body) > 0 {
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body)); err == nil {
			page.Doc = doc
		}
	}

	out := Result{ByLayer: make(map[crawler.Source][]crawler.Candidate, len(e.layers))}
	index := make(map[string]int)
	for _, layer := range e.layers {
		if ctx.Err() != nil {
			break
		}
		found, err := runLayer(layer, page)
		if err != nil {
			lerr := &crawler.LayerError{Layer: layer.Name(), Err: err}
			out.Failures = append(out.Failures, lerr)
			e.logger.Debug("extraction layer failed",
				zap.String("url", res.URL),
				zap.String("layer", string(layer.Name())),
				zap.Error(err),
			)
			continue
		}
		out.ByLayer[layer.Name()] = found
		for _, c := range found {
			if idx, ok := index[c.Address]; ok {
				if c.Source.Trust() < out.Candidates[idx].Source.Trust() {
					out.Candidates[idx] = c
				}
				continue
			}
			index[c.Address] = len(out.Candidates)
			out.Candidates = append(out.Candidates, c)
		}
	}
	return out
}

func runLayer(layer Layer, page *Page) (found []crawler.Candidate, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			found = nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return layer.Extract(page)
}
