package matcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	cases := []struct {
		addr       string
		class      crawler.Classification
		confidence crawler.Confidence
	}{
		{"info@acme.com", crawler.ClassBusiness, crawler.ConfidenceHigh},
		{"sales-team@acme.com", crawler.ClassBusiness, crawler.ConfidenceHigh},
		{"jean.dupont@acme.fr", crawler.ClassBusiness, crawler.ConfidenceLow},
		{"someone@gmail.com", crawler.ClassPersonal, ""},
		{"a1b2@o123.ingest.sentry.io", crawler.ClassSystem, ""},
		{"4f1e2d3c4b5a69788796a5b4c3d2e1f0@sentry.wixpress.com", crawler.ClassInvalid, ""},
		{"logo@2x.png", crawler.ClassInvalid, ""},
		{"info@example.com", crawler.ClassInvalid, ""},
		{"a@b.c", crawler.ClassInvalid, ""},
		{"info@nodot", crawler.ClassInvalid, ""},
		{"info@" + strings.Repeat("x", 41) + ".com", crawler.ClassInvalid, ""},
		{"x@acme.c0m", crawler.ClassInvalid, ""},
	}
	for _, tc := range cases {
		class, confidence := m.Classify(tc.addr)
		require.Equal(t, tc.class, class, tc.addr)
		require.Equal(t, tc.confidence, confidence, tc.addr)
	}
}

func TestRankPrefersTrustThenPriority(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	cands := []crawler.Candidate{
		{Address: "jane@acme.com", Source: crawler.SourceForm, Class: crawler.ClassBusiness, Confidence: crawler.ConfidenceLow},
		{Address: "bob@gmail.com", Source: crawler.SourceMailto, Class: crawler.ClassPersonal},
		{Address: "team@acme.com", Source: crawler.SourceVisibleText, Class: crawler.ClassBusiness, Confidence: crawler.ConfidenceLow},
		{Address: "contact@acme.com", Source: crawler.SourceVisibleText, Class: crawler.ClassBusiness, Confidence: crawler.ConfidenceHigh},
		{Address: "info@acme.com", Source: crawler.SourceVisibleText, Class: crawler.ClassBusiness, Confidence: crawler.ConfidenceHigh},
	}
	ranked := m.Rank(cands)
	require.Equal(t, []string{"info@acme.com", "contact@acme.com", "team@acme.com", "jane@acme.com"}, addresses(ranked))

	best, ok := m.Best(cands)
	require.True(t, ok)
	require.Equal(t, "info@acme.com", best.Address)

	_, ok = m.Best(cands[1:2])
	require.False(t, ok)
}
