// Package synth produces fallback addresses for a domain when scraping finds
// nothing: conventional local parts first, then public registration data.
package synth

import (
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/lexicon"
	"github.com/gorkemkurban/email-scraper/internal/matcher"
)

// Synthesizer is safe for concurrent use.
type Synthesizer struct {
	lex      *lexicon.Lexicon
	matcher  *matcher.Matcher
	suffixes map[string]struct{}
	privacy  []string
	whois    Lookuper
	logger   *zap.Logger
}

// Option customizes a Synthesizer.
type Option func(*Synthesizer)

// WithLookuper sets the WHOIS client. Without one, Whois returns nothing.
func WithLookuper(l Lookuper) Option {
	return func(s *Synthesizer) {
		s.whois = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Synthesizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Synthesizer over the given tables.
func New(lex *lexicon.Lexicon, m *matcher.Matcher, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		lex:      lex,
		matcher:  m,
		suffixes: make(map[string]struct{}, len(lex.CompanySuffixes)),
		logger:   zap.NewNop(),
	}
	for _, suffix := range lex.CompanySuffixes {
		s.suffixes[strings.Trim(strings.ToLower(suffix), ".")] = struct{}{}
	}
	for _, kw := range lex.PrivacyKeywords {
		s.privacy = append(s.privacy, strings.ToLower(kw))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize returns likely addresses for host, most likely first. locale
// may be empty, in which case the TLD decides. company may be empty.
// No network call is made.
func (s *Synthesizer) Synthesize(host, locale, company string) []crawler.Candidate {
	domain := MailDomain(host)
	if domain == "" {
		return nil
	}
	if locale == "" {
		locale = s.lex.LocaleForTLD(domain)
	}

	var locals []string
	locals = append(locals, s.lex.PatternUniversal.Primary...)
	locals = append(locals, s.lex.PatternLocale[locale]...)
	locals = append(locals, s.lex.PatternUniversal.Secondary...)
	locals = append(locals, s.companyLocals(company)...)

	seen := make(map[string]struct{}, len(locals))
	out := make([]crawler.Candidate, 0, len(locals))
	for _, local := range locals {
		local = strings.ToLower(strings.TrimSpace(local))
		if local == "" {
			continue
		}
		addr := local + "@" + domain
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, crawler.Candidate{
			Address:    addr,
			Source:     crawler.SourcePattern,
			Class:      crawler.ClassBusiness,
			Confidence: crawler.ConfidenceLow,
		})
	}
	return out
}

// MailDomain reduces a host or URL to the registrable domain addresses are
// issued under. It returns "" for IPs and single-label hosts.
func MailDomain(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if strings.Contains(host, "://") {
		host = crawler.SiteDomain(host)
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, ".")
	if host == "" || net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return ""
	}
	return crawler.RegistrableDomain(host)
}

// companyLocals turns "Acme Industrie SARL" into "acme.industrie" and
// "acmeindustrie".
func (s *Synthesizer) companyLocals(company string) []string {
	folded := lexicon.Fold(company)
	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	kept := words[:0]
	for _, w := range words {
		if _, legal := s.suffixes[w]; legal {
			continue
		}
		kept = append(kept, w)
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return []string{kept[0]}
	default:
		return []string{strings.Join(kept, "."), strings.Join(kept, "")}
	}
}
