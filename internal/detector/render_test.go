package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

func page(body string) crawler.FetchResult {
	return crawler.FetchResult{StatusCode: 200, Body: []byte(body)}
}

// bundleShell is a mostly-script homepage with an empty mount, well over a
// kilobyte so size alone cannot decide it.
func bundleShell() string {
	inline := strings.Repeat("window.__STATE__.push({k:1});", 36)
	return `<!doctype html><html><head><title>Acme</title></head><body><div id="app"></div>` +
		`<script>` + inline + `</script></body></html>`
}

func TestNeedsRenderWithConfiguredDefault(t *testing.T) {
	t.Parallel()

	h := NewRenderHeuristic(DefaultPromotionThreshold)
	require.Greater(t, len(bundleShell()), 1000)

	cases := []struct {
		name string
		res  crawler.FetchResult
		want bool
	}{
		{"empty body", crawler.FetchResult{StatusCode: 200}, true},
		{"large script shell", page(bundleShell()), true},
		{"next.js shell", page(`<html><body><div id="__next"></div></body></html>`), true},
		{"react root with bundle", page(`<html><body><div id="root"></div><script src="/bundle.js"></script></body></html>`), true},
		{"inline script over a word", page(`<html><script>var a=1;</script><p>t</p></html>`), true},
		{"not found", crawler.FetchResult{StatusCode: 404, Body: []byte("not found")}, false},
		{"already rendered", crawler.FetchResult{StatusCode: 200, Rendered: true}, false},
		{"plain page", page(`<html><body><p>Acme industrial supplies since 1952.</p></body></html>`), false},
		{"server rendered app", page(`<html><body><div id="__next"><main>` +
			strings.Repeat("Acme builds pumps and valves for water utilities. ", 20) +
			`</main></div><script src="/a.js"></script><script src="/b.js"></script><script src="/c.js"></script></body></html>`), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, h.NeedsRender(tc.res), "score %d", Score(tc.res.Body))
		})
	}
}

func TestScoreTraits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 100, Score(nil))
	assert.Equal(t, weightLittleText, Score([]byte(`<p>Acme industrial supplies since 1952.</p>`)))
	assert.Equal(t, weightNoText+weightEmptyMount, Score([]byte(`<body><div id="root"></div></body>`)))

	noscript := `<body><noscript>Please enable JavaScript to use this site.</noscript><app-root></app-root>` +
		`<script src="/1.js"></script><script src="/2.js"></script><script src="/3.js"></script></body>`
	assert.Equal(t, 100, Score([]byte(noscript)), "every trait at once is capped")

	hinted := `<body><noscript>Please enable JavaScript.</noscript><p>Acme industrial supplies since 1952.</p></body>`
	assert.Equal(t, weightLittleText+weightNoscriptHint, Score([]byte(hinted)))
}

func TestNewRenderHeuristicDefault(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultPromotionThreshold, NewRenderHeuristic(0).Threshold)
	require.Equal(t, 80, NewRenderHeuristic(80).Threshold)
	require.False(t, NewRenderHeuristic(80).NeedsRender(page(`<body><div id="root"></div></body>`)), "70 is below 80")
}
