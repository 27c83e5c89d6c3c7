package matcher

import (
	"sort"
	"strings"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

const (
	minAddressLen = 6
	maxAddressLen = 100
	maxDomainLen  = 40
	hexLocalLen   = 24
)

// Classify applies the classification rules in order; the first match wins.
func (m *Matcher) Classify(addr string) (crawler.Classification, crawler.Confidence) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || !m.wellFormed(addr, local, domain) {
		return crawler.ClassInvalid, ""
	}
	if m.freemail.Contains(domain) {
		return crawler.ClassPersonal, ""
	}
	if m.system.Contains(domain) {
		return crawler.ClassSystem, ""
	}
	if m.isBusinessLocal(local) {
		return crawler.ClassBusiness, crawler.ConfidenceHigh
	}
	return crawler.ClassBusiness, crawler.ConfidenceLow
}

func (m *Matcher) wellFormed(addr, local, domain string) bool {
	if len(addr) < minAddressLen || len(addr) > maxAddressLen {
		return false
	}
	if local == "" || strings.Contains(domain, "@") || !strings.Contains(domain, ".") {
		return false
	}
	if len(domain) > maxDomainLen || strings.Contains(domain, "..") {
		return false
	}
	tld := domain[strings.LastIndexByte(domain, '.')+1:]
	if len(tld) < 2 {
		return false
	}
	for _, r := range tld {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	if _, ext := m.extensions[tld]; ext {
		return false
	}
	if len(local) >= hexLocalLen && isHex(local) {
		return false
	}
	if _, example := m.examples[addr]; example {
		return false
	}
	return true
}

// isBusinessLocal matches "info" as well as "info.paris" or "sales-team".
func (m *Matcher) isBusinessLocal(local string) bool {
	if _, ok := m.business[local]; ok {
		return true
	}
	head := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '-' || r == '_' || r == '+'
	})
	if len(head) == 0 {
		return false
	}
	_, ok := m.business[head[0]]
	return ok
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// Rank orders the business candidates in cands: most trusted source first,
// then priority prefixes (info@, contact@, ...), then high confidence.
// Ties keep their input order. Non-business candidates are dropped.
func (m *Matcher) Rank(cands []crawler.Candidate) []crawler.Candidate {
	out := make([]crawler.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.IsBusiness() {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Source.Trust() != b.Source.Trust() {
			return a.Source.Trust() < b.Source.Trust()
		}
		pa, pb := m.priorityIndex(a.Address), m.priorityIndex(b.Address)
		if pa != pb {
			return pa < pb
		}
		return a.Confidence == crawler.ConfidenceHigh && b.Confidence != crawler.ConfidenceHigh
	})
	return out
}

// Best returns the top-ranked business candidate.
func (m *Matcher) Best(cands []crawler.Candidate) (crawler.Candidate, bool) {
	ranked := m.Rank(cands)
	if len(ranked) == 0 {
		return crawler.Candidate{}, false
	}
	return ranked[0], true
}

func (m *Matcher) priorityIndex(addr string) int {
	for i, prefix := range m.priority {
		if strings.HasPrefix(addr, prefix+"@") {
			return i
		}
	}
	return len(m.priority)
}
