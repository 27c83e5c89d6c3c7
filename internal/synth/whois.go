package synth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

// Lookuper returns the raw WHOIS response for a domain.
type Lookuper interface {
	Lookup(ctx context.Context, domain string) (string, error)
}

// NetLookuper queries public WHOIS servers over port 43.
type NetLookuper struct {
	client *whois.Client
}

// NewNetLookuper creates a client whose individual queries are capped at timeout.
func NewNetLookuper(timeout time.Duration) *NetLookuper {
	client := whois.NewClient()
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &NetLookuper{client: client}
}

// Lookup runs the query and abandons it when ctx ends. The client's own
// timeout bounds the background query.
func (n *NetLookuper) Lookup(ctx context.Context, domain string) (string, error) {
	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		text, err := n.client.Whois(domain)
		done <- reply{text: text, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("whois %s: %w", domain, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("whois %s: %w", domain, r.err)
		}
		return r.text, nil
	}
}

// Whois looks up registrant, admin, and technical contacts for host and
// returns the business addresses among them. Privacy-proxy and registrar
// addresses are dropped. Callers treat errors as "nothing found".
func (s *Synthesizer) Whois(ctx context.Context, host string) ([]crawler.Candidate, error) {
	if s.whois == nil {
		return nil, nil
	}
	domain := MailDomain(host)
	if domain == "" {
		return nil, nil
	}
	raw, err := s.whois.Lookup(ctx, domain)
	if err != nil {
		return nil, err
	}

	var contacts []string
	registrar := ""
	if info, err := whoisparser.Parse(raw); err == nil {
		for _, c := range []*whoisparser.Contact{info.Registrant, info.Administrative, info.Technical} {
			if c != nil && c.Email != "" {
				contacts = append(contacts, c.Email)
			}
		}
		if info.Registrar != nil {
			registrar = strings.ToLower(info.Registrar.Email)
		}
	} else {
		s.logger.Debug("whois parse failed, scanning raw text", zap.String("domain", domain), zap.Error(err))
	}
	for _, c := range s.matcher.ExtractCandidates(raw, crawler.SourceWhois) {
		contacts = append(contacts, c.Address)
	}

	var sameDomain, other []crawler.Candidate
	seen := make(map[string]struct{})
	for _, addr := range contacts {
		cand, ok := s.matcher.Candidate(addr, crawler.SourceWhois)
		if !ok || !cand.IsBusiness() || cand.Address == registrar || s.isPrivacy(cand.Address) {
			continue
		}
		if _, dup := seen[cand.Address]; dup {
			continue
		}
		seen[cand.Address] = struct{}{}
		if strings.HasSuffix(cand.Address, "@"+domain) {
			sameDomain = append(sameDomain, cand)
		} else {
			other = append(other, cand)
		}
	}
	return append(sameDomain, other...), nil
}

func (s *Synthesizer) isPrivacy(addr string) bool {
	for _, kw := range s.privacy {
		if strings.Contains(addr, kw) {
			return true
		}
	}
	return false
}
