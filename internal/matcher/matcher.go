// Package matcher finds email-shaped strings in text or markup, undoes common
// obfuscation, and classifies each address as business, personal, system, or
// invalid.
package matcher

import (
	"regexp"
	"strings"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/lexicon"
)

var emailRe = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,24}\b`)

// Matcher is safe for concurrent use once constructed.
type Matcher struct {
	freemail   *crawler.DomainSet
	system     *crawler.DomainSet
	examples   map[string]struct{}
	business   map[string]struct{}
	priority   []string
	extensions map[string]struct{}
}

// New compiles the classification tables from lex.
func New(lex *lexicon.Lexicon) *Matcher {
	return &Matcher{
		freemail:   crawler.NewDomainSet(lex.FreemailDomains),
		system:     crawler.NewDomainSet(lex.SystemDomains),
		examples:   toSet(lex.ExampleAddresses),
		business:   toSet(lex.BusinessPrefixes),
		priority:   lowerAll(lex.PriorityPrefixes),
		extensions: toSet(lex.FileExtensions),
	}
}

// ExtractCandidates returns every distinct address in text, classified and
// tagged with source. Addresses that only appear after de-obfuscation are
// tagged as deobfuscated when the caller scanned page text or markup.
// The result order is stable for a given input.
func (m *Matcher) ExtractCandidates(text string, source crawler.Source) []crawler.Candidate {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var out []crawler.Candidate
	add := func(raw string, src crawler.Source) {
		cand, ok := m.Candidate(raw, src)
		if !ok {
			return
		}
		if _, dup := seen[cand.Address]; dup {
			return
		}
		seen[cand.Address] = struct{}{}
		out = append(out, cand)
	}

	for _, raw := range emailRe.FindAllString(text, -1) {
		add(raw, source)
	}
	hidden := deobfuscatedSource(source)
	revealed := deobfuscate(text)
	if revealed != text {
		for _, raw := range emailRe.FindAllString(revealed, -1) {
			add(raw, hidden)
		}
	}
	for _, raw := range spelledAddresses(revealed, m.isBusinessLocal) {
		add(raw, hidden)
	}
	return out
}

// Candidate normalizes and classifies a single address. It reports false when
// raw is not address-shaped at all.
func (m *Matcher) Candidate(raw string, source crawler.Source) (crawler.Candidate, bool) {
	addr := normalize(raw)
	if strings.Count(addr, "@") != 1 {
		return crawler.Candidate{}, false
	}
	local, domain, _ := strings.Cut(addr, "@")
	if local == "" || domain == "" {
		return crawler.Candidate{}, false
	}
	class, confidence := m.Classify(addr)
	return crawler.Candidate{
		Address:    addr,
		Source:     source,
		Class:      class,
		Confidence: confidence,
	}, true
}

func deobfuscatedSource(source crawler.Source) crawler.Source {
	switch source {
	case crawler.SourceVisibleText, crawler.SourceRawHTML:
		return crawler.SourceDeobfuscated
	default:
		return source
	}
}

func normalize(raw string) string {
	addr := strings.ToLower(strings.TrimSpace(raw))
	addr = strings.TrimPrefix(addr, "mailto:")
	local, domain, ok := strings.Cut(addr, "@")
	if !ok {
		return addr
	}
	local = strings.TrimLeft(local, ".-+%_")
	domain = strings.Trim(domain, ".-")
	return local + "@" + domain
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
