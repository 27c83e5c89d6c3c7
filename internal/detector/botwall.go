// Package detector inspects fetched pages: it separates genuine anti-bot
// challenge pages from ordinary content, and spots JavaScript shells that
// need a rendering browser.
package detector

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/lexicon"
)

// StrongThreshold is the number of distinct strong signals needed before a
// page is called a challenge.
const StrongThreshold = 2

// Signal names reported in a Verdict.
const (
	SignalCaptcha       = "captcha"
	SignalChallengeForm = "challenge-form"
	SignalChallengeText = "challenge-text"
	SignalWAFCookie     = "waf-cookie"
	SignalWAFHeader     = "waf-header"
	SignalBlockedStatus = "blocked-status"
)

// Challenge pages are small; long documents that merely mention "enable
// javascript" in a cookie banner are content.
const maxChallengeTextRunes = 3000

const (
	captchaSelector = `.g-recaptcha, .h-captcha, .cf-turnstile, [data-sitekey], ` +
		`iframe[src*="recaptcha"], iframe[src*="hcaptcha"], ` +
		`script[src*="recaptcha/api"], script[src*="hcaptcha.com"], script[src*="turnstile"]`
	challengeFormSelector = `#challenge-form, form.challenge-form, #cf-challenge-running, #challenge-running, ` +
		`#challenge-stage, #challenge-platform, .cf-browser-verification, #cf-please-wait, ` +
		`script[src*="/cdn-cgi/challenge-platform/"], #px-captcha, #ddv1-captcha-container`
)

var wafCookies = []string{"__cf_bm", "cf_clearance", "datadome", "incap_ses", "_abck", "ak_bmsc"}

// Verdict explains a classification.
type Verdict struct {
	Class  crawler.PageClass
	Strong []string
	Weak   []string
}

// Detector is immutable and safe for concurrent use.
type Detector struct {
	keywords []string
}

// New builds a detector using the challenge keyword table from lex.
func New(lex *lexicon.Lexicon) *Detector {
	keywords := make([]string, 0, len(lex.ChallengeKeywords))
	for _, kw := range lex.ChallengeKeywords {
		if kw = lexicon.Fold(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return &Detector{keywords: keywords}
}

// Classify returns the page classification for res.
func (d *Detector) Classify(res crawler.FetchResult) crawler.PageClass {
	return d.Score(res).Class
}

// Score collects the signals and derives the classification. Weak signals
// are reported but never decide the verdict.
func (d *Detector) Score(res crawler.FetchResult) Verdict {
	var v Verdict
	v.Weak = weakSignals(res)
	if len(res.Body) > 0 {
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body)); err == nil {
			v.Strong = d.strongSignals(doc)
		}
	}
	switch {
	case len(v.Strong) >= StrongThreshold:
		v.Class = crawler.PageBotChallenge
	case res.Err != nil && errors.Is(res.Err, crawler.ErrTimeout):
		v.Class = crawler.PageTimeout
	case res.Err != nil || res.StatusCode >= http.StatusBadRequest:
		v.Class = crawler.PageHTTPError
	default:
		v.Class = crawler.PageOK
	}
	return v
}

func (d *Detector) strongSignals(doc *goquery.Document) []string {
	var signals []string
	if doc.Find(captchaSelector).Length() > 0 {
		signals = append(signals, SignalCaptcha)
	}
	if doc.Find(challengeFormSelector).Length() > 0 {
		signals = append(signals, SignalChallengeForm)
	}
	if d.matchesKeyword(doc.Find("title").First().Text()) {
		signals = append(signals, SignalChallengeText)
		return signals
	}
	body := doc.Find("body")
	body.Find("script, style, noscript").Remove()
	text := strings.Join(strings.Fields(body.Text()), " ")
	if utf8.RuneCountInString(text) <= maxChallengeTextRunes && d.matchesKeyword(text) {
		signals = append(signals, SignalChallengeText)
	}
	return signals
}

func (d *Detector) matchesKeyword(text string) bool {
	if text == "" {
		return false
	}
	folded := lexicon.Fold(text)
	for _, kw := range d.keywords {
		if strings.Contains(folded, kw) {
			return true
		}
	}
	return false
}

func weakSignals(res crawler.FetchResult) []string {
	var signals []string
	cookies := strings.ToLower(strings.Join(res.Headers.Values("Set-Cookie"), ";"))
	for _, name := range wafCookies {
		if strings.Contains(cookies, name) {
			signals = append(signals, SignalWAFCookie)
			break
		}
	}
	if res.Headers.Get("Cf-Ray") != "" || res.Headers.Get("X-Datadome") != "" ||
		strings.Contains(strings.ToLower(res.Headers.Get("Server")), "cloudflare") {
		signals = append(signals, SignalWAFHeader)
	}
	switch res.StatusCode {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		signals = append(signals, SignalBlockedStatus)
	}
	return signals
}
