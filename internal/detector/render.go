package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

// DefaultPromotionThreshold is the score at which a homepage is re-fetched
// with the headless renderer.
const DefaultPromotionThreshold = 60

// Score weights. A page needs at least two of the shell traits to reach the
// default threshold.
const (
	weightNoText       = 40
	weightLittleText   = 25
	weightSomeText     = 10
	weightEmptyMount   = 30
	weightScriptHeavy  = 20
	weightScriptSome   = 10
	weightManyBundles  = 10
	weightNoscriptHint = 15

	tinyTextChars   = 20
	littleTextChars = 200
	someTextChars   = 600
	manyBundles     = 3
)

// mountSelectors match the empty root elements client-side frameworks
// render into.
const mountSelectors = `#root, #app, #__next, #__nuxt, [data-reactroot], [ng-version], app-root, [data-server-rendered]`

// RenderHeuristic scores homepages for how much they look like a JavaScript
// shell, where the addresses only exist after a browser runs the bundle.
type RenderHeuristic struct {
	Threshold int
}

// NewRenderHeuristic creates a heuristic promoting pages scoring at least
// threshold (0..100); 0 selects DefaultPromotionThreshold.
func NewRenderHeuristic(threshold int) *RenderHeuristic {
	if threshold <= 0 {
		threshold = DefaultPromotionThreshold
	}
	return &RenderHeuristic{Threshold: threshold}
}

// NeedsRender reports whether res scores at or above the threshold.
func (h *RenderHeuristic) NeedsRender(res crawler.FetchResult) bool {
	if res.StatusCode != http.StatusOK || res.Rendered {
		return false
	}
	return Score(res.Body) >= h.Threshold
}

// Score rates body from 0 (ordinary server-rendered page) to 100 (nothing
// but a loader). It looks at visible text size, empty app mounts, the share
// of markup taken by scripts, the number of script bundles, and noscript
// warnings.
func Score(body []byte) int {
	if len(bytes.TrimSpace(body)) == 0 {
		return 100
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}

	score := scriptShare(doc, len(body))
	if doc.Find("script[src]").Length() >= manyBundles {
		score += weightManyBundles
	}
	if strings.Contains(strings.ToLower(doc.Find("noscript").Text()), "javascript") {
		score += weightNoscriptHint
	}
	doc.Find(mountSelectors).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if isEmptyMount(s) {
			score += weightEmptyMount
			return false
		}
		return true
	})

	doc.Find("script, style, noscript, template").Remove()
	switch text := visibleChars(doc); {
	case text < tinyTextChars:
		score += weightNoText
	case text < littleTextChars:
		score += weightLittleText
	case text < someTextChars:
		score += weightSomeText
	}
	return min(score, 100)
}

// scriptShare weighs how much of the markup sits inside script elements.
func scriptShare(doc *goquery.Document, total int) int {
	covered := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if outer, err := goquery.OuterHtml(s); err == nil {
			covered += len(outer)
		}
	})
	switch pct := covered * 100 / total; {
	case pct >= 50:
		return weightScriptHeavy
	case pct >= 25:
		return weightScriptSome
	default:
		return 0
	}
}

func isEmptyMount(s *goquery.Selection) bool {
	if strings.TrimSpace(s.Text()) != "" {
		return false
	}
	return s.Children().Not("script, noscript, template").Length() == 0
}

func visibleChars(doc *goquery.Document) int {
	return len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
}
