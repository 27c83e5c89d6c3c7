package synth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/lexicon"
	"github.com/gorkemkurban/email-scraper/internal/matcher"
)

func newTestSynthesizer(t *testing.T, opts ...Option) *Synthesizer {
	t.Helper()
	lex := lexicon.MustDefault()
	return New(lex, matcher.New(lex), opts...)
}

func addresses(cands []crawler.Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Address)
	}
	return out
}

func TestSynthesizeUniversalFirst(t *testing.T) {
	t.Parallel()
	s := newTestSynthesizer(t)

	cands := s.Synthesize("https://www.blocked.example", "", "")
	require.NotEmpty(t, cands)
	require.Equal(t, "info@blocked.example", cands[0].Address)
	require.Equal(t, []string{
		"info@blocked.example",
		"contact@blocked.example",
		"sales@blocked.example",
		"hello@blocked.example",
	}, addresses(cands)[:4])
	for _, c := range cands {
		require.Equal(t, crawler.SourcePattern, c.Source)
		require.Equal(t, crawler.ClassBusiness, c.Class)
		require.Equal(t, crawler.ConfidenceLow, c.Confidence)
	}
}

func TestSynthesizeLocaleTermsFollowPrimary(t *testing.T) {
	t.Parallel()
	s := newTestSynthesizer(t)

	cands := addresses(s.Synthesize("boulangerie-dupont.fr", "", ""))
	require.Equal(t, "info@boulangerie-dupont.fr", cands[0])
	require.Equal(t, "bonjour@boulangerie-dupont.fr", cands[4])
	require.Contains(t, cands, "accueil@boulangerie-dupont.fr")
	require.Less(t, indexOf(cands, "vente@boulangerie-dupont.fr"), indexOf(cands, "mail@boulangerie-dupont.fr"))

	explicit := addresses(s.Synthesize("acme.com", "de", ""))
	require.Equal(t, "kontakt@acme.com", explicit[4])
}

func TestSynthesizeCompanyPatternsLastAndDeduped(t *testing.T) {
	t.Parallel()
	s := newTestSynthesizer(t)

	cands := addresses(s.Synthesize("shop.acme-industrie.com", "", "Acme Industrie SARL"))
	n := len(cands)
	require.Equal(t, "acme.industrie@acme-industrie.com", cands[n-2])
	require.Equal(t, "acmeindustrie@acme-industrie.com", cands[n-1])

	seen := map[string]bool{}
	for _, a := range cands {
		require.False(t, seen[a], "duplicate %s", a)
		seen[a] = true
	}

	single := addresses(s.Synthesize("acme.com", "", "Info Ltd"))
	require.Equal(t, 1, countOf(single, "info@acme.com"))
}

func TestSynthesizeRejectsUnusableHosts(t *testing.T) {
	t.Parallel()
	s := newTestSynthesizer(t)

	require.Empty(t, s.Synthesize("192.168.1.10", "", ""))
	require.Empty(t, s.Synthesize("http://[::1]:8080/", "", ""))
	require.Empty(t, s.Synthesize("localhost", "", ""))
	require.Empty(t, s.Synthesize("", "", ""))
}

func TestMailDomain(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"acme.com":                     "acme.com",
		"www.acme.com":                 "acme.com",
		"shop.acme.co.uk":              "acme.co.uk",
		"https://blog.acme.fr/contact": "acme.fr",
		"acme.com:8443":                "acme.com",
		"127.0.0.1":                    "",
		"http://127.0.0.1:9000":        "",
		"intranet":                     "",
	}
	for in, want := range cases {
		require.Equal(t, want, MailDomain(in), in)
	}
}

func indexOf(values []string, target string) int {
	for i, v := range values {
		if v == target {
			return i
		}
	}
	return -1
}

func countOf(values []string, target string) int {
	n := 0
	for _, v := range values {
		if v == target {
			n++
		}
	}
	return n
}
