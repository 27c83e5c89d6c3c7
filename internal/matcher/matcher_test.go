package matcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/lexicon"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	return New(lexicon.MustDefault())
}

func addresses(cands []crawler.Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Address)
	}
	return out
}

func TestExtractCandidatesPlainAndDedupe(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	cands := m.ExtractCandidates("Write to Info@Acme.com or info@acme.com, sales@acme.com.", crawler.SourceVisibleText)
	require.Equal(t, []string{"info@acme.com", "sales@acme.com"}, addresses(cands))
	for _, c := range cands {
		require.Equal(t, crawler.SourceVisibleText, c.Source)
		require.Equal(t, crawler.ClassBusiness, c.Class)
		require.Equal(t, crawler.ConfidenceHigh, c.Confidence)
	}
}

func TestExtractCandidatesDeobfuscation(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	cases := []struct {
		name string
		text string
		want string
	}{
		{"brackets", "contact [at] acme [dot] fr", "contact@acme.fr"},
		{"parens", "hello(at)acme(dot)io", "hello@acme.io"},
		{"words", "reach us: office AT acme DOT co DOT uk", "office@acme.co.uk"},
		{"spaced", "info @ acme . com", "info@acme.com"},
		{"entities", "sales&#64;acme&#46;de", "sales@acme.de"},
		{"hex entity", "team&#x40;acme.nl", "team@acme.nl"},
		{"js hex", `var e = "\x69\x6e\x66\x6f\x40acme.es";`, "info@acme.es"},
		{"url escaped", "mailto:contact%40acme.it", "contact@acme.it"},
		{"char codes", "document.write(String.fromCharCode(105,110,102,111,64,97,99,109,101,46,112,108))", "info@acme.pl"},
		{"concat", `var a = "support" + "@" + "acme.pt";`, "support@acme.pt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cands := m.ExtractCandidates(tc.text, crawler.SourceVisibleText)
			require.Contains(t, addresses(cands), tc.want)
		})
	}
}

func TestExtractCandidatesIgnoresProseAndHandles(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	for _, text := range []string{
		"Follow us @acme.fr on Instagram",
		"Instagram @acme.store",
		"Follow us@ acme.fr for news",
		"Meet us at booth dot com",
		"Meet us AT booth dot com",
		"the team at acme dot io",
	} {
		t.Run(text, func(t *testing.T) {
			t.Parallel()
			require.Empty(t, m.ExtractCandidates(text, crawler.SourceVisibleText))
		})
	}
}

func TestExtractCandidatesTrustsSpelledBusinessMailboxes(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	cands := m.ExtractCandidates("write to info at acme dot com", crawler.SourceVisibleText)
	require.Equal(t, []string{"info@acme.com"}, addresses(cands))
	require.Equal(t, crawler.SourceDeobfuscated, cands[0].Source)

	cands = m.ExtractCandidates("Jane AT Acme DOT com", crawler.SourceVisibleText)
	require.Equal(t, []string{"jane@acme.com"}, addresses(cands))
}

func TestExtractCandidatesTagsHiddenAddresses(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	cands := m.ExtractCandidates("contact [at] acme [dot] fr", crawler.SourceVisibleText)
	require.Len(t, cands, 1)
	require.Equal(t, crawler.SourceDeobfuscated, cands[0].Source)

	scripted := m.ExtractCandidates(`"info" + "@" + "acme.com"`, crawler.SourceScript)
	require.Len(t, scripted, 1)
	require.Equal(t, crawler.SourceScript, scripted[0].Source)
}

func TestExtractCandidatesNeverFailsOnJunk(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	junk := []string{"", "   ", "@@@", "a@b", "<<>>[at][dot]", "\x00\xff@\xfe", "String.fromCharCode(99999999999)", `\x4`, "%%40%"}
	for _, text := range junk {
		require.NotPanics(t, func() {
			for _, c := range m.ExtractCandidates(text, crawler.SourceRawHTML) {
				require.NotEqual(t, crawler.ClassBusiness, c.Class, text)
			}
		})
	}
}

func TestExtractCandidatesIsIdempotent(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	text := `info@acme.com <a>contact [at] acme [dot] com</a> jane@gmail.com
		String.fromCharCode(115,64,97,99,109,101,46,99,111) noreply@sentry.io`
	first := m.ExtractCandidates(text, crawler.SourceRawHTML)
	for i := 0; i < 5; i++ {
		require.ElementsMatch(t, first, m.ExtractCandidates(text, crawler.SourceRawHTML))
	}
}
