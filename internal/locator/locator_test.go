package locator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/lexicon"
)

func homepage(url, body string) crawler.FetchResult {
	return crawler.FetchResult{RequestURL: url, URL: url, StatusCode: 200, Body: []byte(body), ContentType: "text/html"}
}

func urls(pages []Page) []string {
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.URL)
	}
	return out
}

func TestLocateRanksContactBeforeAbout(t *testing.T) {
	t.Parallel()
	loc := New(lexicon.MustDefault())

	home := homepage("https://acme.com", `<html><body>
		<a href="/team">Team</a>
		<a href="/about-us">About us</a>
		<a href="/fr/contact">Contactez-nous</a>
		<a href="https://facebook.com/contact">Facebook</a>
		<a href="mailto:info@acme.com">Mail</a>
		<a href="/help">Get in touch</a>
		<a href="/fr/contact#form">Again</a>
	</body></html>`)

	seq := loc.Locate(home)
	pages := seq.Take(10)
	require.Equal(t, []string{
		"https://acme.com/fr/contact",
		"https://acme.com/help",
		"https://acme.com/about-us",
	}, urls(pages))
	require.Equal(t, KindContact, pages[0].Kind)
	require.Equal(t, KindAbout, pages[2].Kind)
}

func TestLocateMatchesAcrossLocalesAndDiacritics(t *testing.T) {
	t.Parallel()
	loc := New(lexicon.MustDefault())

	cases := []struct {
		link string
		want string
	}{
		{`<a href="/es/contactenos">Contáctenos</a>`, "https://acme.com/es/contactenos"},
		{`<a href="/page?id=7">İletişim</a>`, "https://acme.com/page?id=7"},
		{`<a href="/de/kontakt.html">Kontakt</a>`, "https://acme.com/de/kontakt.html"},
		{`<a href="/ru/info">Контакты</a>`, "https://acme.com/ru/info"},
		{`<a href="/ar/page">اتصل بنا</a>`, "https://acme.com/ar/page"},
		{`<a href="/fr/joindre">Nous joindre</a>`, "https://acme.com/fr/joindre"},
	}
	for _, tc := range cases {
		pages := loc.Locate(homepage("https://acme.com", "<html><body>"+tc.link+"</body></html>")).Take(3)
		require.Equal(t, []string{tc.want}, urls(pages), tc.link)
	}
}

func TestLocateFallsBackToConventionalPaths(t *testing.T) {
	t.Parallel()
	loc := New(lexicon.MustDefault())

	seq := loc.Locate(homepage("https://acme.com/home", `<html><body><a href="/products">Products</a></body></html>`))
	require.Equal(t, []string{
		"https://acme.com/contact",
		"https://acme.com/contact-us",
		"https://acme.com/about",
	}, urls(seq.Take(5)))

	empty := loc.Locate(crawler.FetchResult{URL: "https://acme.com"})
	page, ok := empty.Next()
	require.True(t, ok)
	require.Equal(t, KindFallback, page.Kind)
}

func TestSequenceIsLazyAndRestartable(t *testing.T) {
	t.Parallel()

	calls := 0
	seq := &Sequence{build: func() []Page {
		calls++
		return []Page{{URL: "a"}, {URL: "b"}, {URL: "c"}}
	}}
	require.Zero(t, calls)
	require.Equal(t, []string{"a", "b"}, urls(seq.Take(2)))
	require.Equal(t, []string{"c"}, urls(seq.Take(2)))
	_, ok := seq.Next()
	require.False(t, ok)

	seq.Reset()
	require.Equal(t, []string{"a", "b", "c"}, urls(seq.Take(5)))
	require.Equal(t, 3, seq.Len())
	require.Equal(t, 1, calls)
}

func TestDetectLocale(t *testing.T) {
	t.Parallel()
	loc := New(lexicon.MustDefault())

	require.Equal(t, "fr", loc.DetectLocale(homepage("https://acme.com", `<html lang="fr-FR"><body></body></html>`)))
	require.Equal(t, "de", loc.DetectLocale(homepage("https://acme.de", `<html><body></body></html>`)))
	require.Equal(t, "", loc.DetectLocale(homepage("https://acme.com", `<html lang="xx"></html>`)))
}
