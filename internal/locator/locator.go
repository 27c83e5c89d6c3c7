// Package locator ranks the pages of a site most likely to carry a contact
// address, using multi-locale keyword tables matched against link targets
// and link text.
package locator

import (
	"bytes"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/lexicon"
)

// PageKind says why a page was proposed.
type PageKind string

// Page kinds, in rank order.
const (
	KindContact  PageKind = "contact"
	KindAbout    PageKind = "about"
	KindFallback PageKind = "fallback"
)

// Page is one proposed URL.
type Page struct {
	URL    string
	Kind   PageKind
	Locale string
	Score  int
}

const (
	scorePathSegment = 100
	scorePathContain = 80
	scoreTextExact   = 70
	scoreTextContain = 60
	aboutPenalty     = 50
)

type keyword struct {
	locale string
	text   string
}

// Locator is immutable and safe for concurrent use.
type Locator struct {
	contact  []keyword
	about    []keyword
	fallback []string
	lex      *lexicon.Lexicon
}

// New prepares folded keyword lists from lex.
func New(lex *lexicon.Lexicon) *Locator {
	return &Locator{
		contact:  foldKeywords(lex.ContactKeywords),
		about:    foldKeywords(lex.AboutKeywords),
		fallback: append([]string(nil), lex.FallbackPaths...),
		lex:      lex,
	}
}

func foldKeywords(table map[string][]string) []keyword {
	locales := make([]string, 0, len(table))
	for locale := range table {
		locales = append(locales, locale)
	}
	sort.Strings(locales)
	var out []keyword
	for _, locale := range locales {
		for _, kw := range table[locale] {
			if text := squash(lexicon.Fold(kw)); text != "" {
				out = append(out, keyword{locale: locale, text: text})
			}
		}
	}
	return out
}

// squash turns separators into single spaces so "contact-us", "contact_us"
// and "contact us" compare equal.
func squash(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', '+', '.', '/':
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Locate returns the candidate pages for home, most promising first. The
// document is parsed on the first call to Next.
func (l *Locator) Locate(home crawler.FetchResult) *Sequence {
	return &Sequence{build: func() []Page { return l.rank(home) }}
}

func (l *Locator) rank(home crawler.FetchResult) []Page {
	base := home.URL
	if base == "" {
		base = home.RequestURL
	}
	baseURL, err := url.Parse(base)
	if err != nil || baseURL.Host == "" {
		return nil
	}
	var pages []Page
	if len(home.Body) > 0 {
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(home.Body)); err == nil {
			pages = l.scoreLinks(doc, baseURL)
		}
	}
	if len(pages) == 0 {
		return l.fallbackPages(baseURL)
	}
	return pages
}

func (l *Locator) scoreLinks(doc *goquery.Document, baseURL *url.URL) []Page {
	self := strings.TrimRight(baseURL.Path, "/")
	best := make(map[string]int)
	var pages []Page
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		target, ok := resolve(baseURL, href)
		if !ok || !crawler.SameSite(baseURL.String(), target.String()) {
			return
		}
		if strings.TrimRight(target.Path, "/") == self && target.RawQuery == "" {
			return
		}
		label := sel.Text() + " " + sel.AttrOr("title", "") + " " + sel.AttrOr("aria-label", "")
		page, matched := l.score(target, label)
		if !matched {
			return
		}
		key := target.String()
		if idx, seen := best[key]; seen {
			if page.Score > pages[idx].Score {
				pages[idx] = page
			}
			return
		}
		best[key] = len(pages)
		pages = append(pages, page)
	})
	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].Score != pages[j].Score {
			return pages[i].Score > pages[j].Score
		}
		return depth(pages[i].URL) < depth(pages[j].URL)
	})
	return pages
}

func (l *Locator) score(target *url.URL, label string) (Page, bool) {
	rawPath := target.Path
	if unescaped, err := url.PathUnescape(target.EscapedPath()); err == nil {
		rawPath = unescaped
	}
	foldedPath := lexicon.Fold(rawPath)
	segments := pathSegments(foldedPath)
	flatPath := squash(foldedPath)
	text := squash(lexicon.Fold(label))

	page := Page{URL: target.String()}
	try := func(kws []keyword, kind PageKind, penalty int) {
		for _, kw := range kws {
			s := 0
			switch {
			case containsSegment(segments, kw.text):
				s = scorePathSegment
			case containsWord(flatPath, kw.text):
				s = scorePathContain
			case text == kw.text:
				s = scoreTextExact
			case containsWord(text, kw.text):
				s = scoreTextContain
			}
			if s == 0 {
				continue
			}
			if s -= penalty; s > page.Score {
				page.Score = s
				page.Kind = kind
				page.Locale = kw.locale
			}
		}
	}
	try(l.contact, KindContact, 0)
	try(l.about, KindAbout, aboutPenalty)
	return page, page.Score > 0
}

func (l *Locator) fallbackPages(baseURL *url.URL) []Page {
	root := &url.URL{Scheme: baseURL.Scheme, Host: baseURL.Host}
	pages := make([]Page, 0, len(l.fallback))
	for _, p := range l.fallback {
		ref, err := url.Parse(p)
		if err != nil {
			continue
		}
		pages = append(pages, Page{URL: root.ResolveReference(ref).String(), Kind: KindFallback})
	}
	return pages
}

// DetectLocale guesses the site language from <html lang> and then the TLD.
func (l *Locator) DetectLocale(home crawler.FetchResult) string {
	if len(home.Body) > 0 {
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(home.Body)); err == nil {
			if lang := strings.ToLower(strings.TrimSpace(doc.Find("html").AttrOr("lang", ""))); len(lang) >= 2 {
				lang = lang[:2]
				if _, ok := l.lex.ContactKeywords[lang]; ok {
					return lang
				}
			}
		}
	}
	for _, raw := range []string{home.URL, home.RequestURL} {
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			return l.lex.LocaleForTLD(u.Hostname())
		}
	}
	return ""
}

func resolve(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	target := base.ResolveReference(ref)
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, false
	}
	target.Fragment = ""
	target.RawFragment = ""
	return target, true
}

func pathSegments(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			continue
		}
		seg = strings.TrimSuffix(seg, path.Ext(seg))
		if s := squash(seg); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsSegment(segments []string, kw string) bool {
	for _, seg := range segments {
		if seg == kw {
			return true
		}
	}
	return false
}

// containsWord reports whether kw occurs in s starting on a word boundary.
func containsWord(s, kw string) bool {
	if kw == "" {
		return false
	}
	for i := 0; ; {
		idx := strings.Index(s[i:], kw)
		if idx < 0 {
			return false
		}
		at := i + idx
		if at == 0 || s[at-1] == ' ' {
			return true
		}
		i = at + 1
	}
}

func depth(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	return strings.Count(strings.Trim(u.Path, "/"), "/")
}
