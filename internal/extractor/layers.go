package extractor

import (
	"encoding/hex"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/matcher"
)

var (
	errNoDocument = errors.New("document not parsed")

	cfEmailRe      = regexp.MustCompile(`data-cfemail="([0-9a-fA-F]+)"`)
	cfProtectionRe = regexp.MustCompile(`/cdn-cgi/l/email-protection#([0-9a-fA-F]+)`)
	commentRe      = regexp.MustCompile(`(?s)<!--(.*?)-->`)
)

type visibleTextLayer struct{ m *matcher.Matcher }

func (visibleTextLayer) Name() crawler.Source { return crawler.SourceVisibleText }

func (l visibleTextLayer) Extract(page *Page) ([]crawler.Candidate, error) {
	if page.Doc == nil {
		return nil, errNoDocument
	}
	var b strings.Builder
	for _, n := range page.Doc.Selection.Nodes {
		collectText(n, &b)
	}
	return l.m.ExtractCandidates(b.String(), crawler.SourceVisibleText), nil
}

// collectText joins text nodes with spaces so adjacent blocks never fuse
// into one token. Script-like elements are not visible.
func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "template", "head":
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

type rawHTMLLayer struct{ m *matcher.Matcher }

func (rawHTMLLayer) Name() crawler.Source { return crawler.SourceRawHTML }

func (l rawHTMLLayer) Extract(page *Page) ([]crawler.Candidate, error) {
	return l.m.ExtractCandidates(page.Raw, crawler.SourceRawHTML), nil
}

type mailtoLayer struct{ m *matcher.Matcher }

func (mailtoLayer) Name() crawler.Source { return crawler.SourceMailto }

func (l mailtoLayer) Extract(page *Page) ([]crawler.Candidate, error) {
	if page.Doc == nil {
		return nil, errNoDocument
	}
	var out []crawler.Candidate
	seen := make(map[string]struct{})
	page.Doc.Find("a[href], area[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		idx := strings.Index(strings.ToLower(href), "mailto:")
		if idx < 0 {
			return
		}
		for _, addr := range mailtoAddresses(href[idx+len("mailto:"):]) {
			cand, ok := l.m.Candidate(addr, crawler.SourceMailto)
			if !ok {
				continue
			}
			if _, dup := seen[cand.Address]; dup {
				continue
			}
			seen[cand.Address] = struct{}{}
			out = append(out, cand)
		}
	})
	return out, nil
}

// mailtoAddresses splits "a@x.com,b@x.com?subject=hi&cc=c@x.com" into the
// primary recipients.
func mailtoAddresses(target string) []string {
	if unescaped, err := url.PathUnescape(target); err == nil {
		target = unescaped
	}
	target, _, _ = strings.Cut(target, "?")
	target, _, _ = strings.Cut(target, "&")
	var out []string
	for _, part := range strings.FieldsFunc(target, func(r rune) bool { return r == ',' || r == ';' }) {
		if part = strings.TrimSpace(part); strings.Contains(part, "@") {
			out = append(out, part)
		}
	}
	return out
}

type cloudflareLayer struct{ m *matcher.Matcher }

func (cloudflareLayer) Name() crawler.Source { return crawler.SourceCloudflare }

func (l cloudflareLayer) Extract(page *Page) ([]crawler.Candidate, error) {
	var out []crawler.Candidate
	var lastErr error
	for _, re := range []*regexp.Regexp{cfEmailRe, cfProtectionRe} {
		for _, m := range re.FindAllStringSubmatch(page.Raw, -1) {
			decoded, err := DecodeCloudflare(m[1])
			if err != nil {
				lastErr = err
				continue
			}
			if cand, ok := l.m.Candidate(decoded, crawler.SourceCloudflare); ok {
				out = append(out, cand)
			}
		}
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// DecodeCloudflare reverses Cloudflare's email obfuscation: the first byte is
// the key and every following byte is XORed with it.
func DecodeCloudflare(encoded string) (string, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(raw) < 2 {
		return "", errors.New("cfemail payload too short")
	}
	key := raw[0]
	out := make([]byte, len(raw)-1)
	for i, b := range raw[1:] {
		out[i] = b ^ key
	}
	return string(out), nil
}

type formLayer struct{ m *matcher.Matcher }

func (formLayer) Name() crawler.Source { return crawler.SourceForm }

func (l formLayer) Extract(page *Page) ([]crawler.Candidate, error) {
	if page.Doc == nil {
		return nil, errNoDocument
	}
	var b strings.Builder
	page.Doc.Find("input, textarea, select, option").Each(func(_ int, sel *goquery.Selection) {
		for _, attr := range []string{"value", "placeholder", "title"} {
			if v, ok := sel.Attr(attr); ok && strings.Contains(v, "@") {
				b.WriteString(v)
				b.WriteByte(' ')
			}
		}
		if goquery.NodeName(sel) == "textarea" {
			b.WriteString(sel.Text())
			b.WriteByte(' ')
		}
	})
	return l.m.ExtractCandidates(b.String(), crawler.SourceForm), nil
}

type scriptLayer struct{ m *matcher.Matcher }

func (scriptLayer) Name() crawler.Source { return crawler.SourceScript }

func (l scriptLayer) Extract(page *Page) ([]crawler.Candidate, error) {
	if page.Doc == nil {
		return nil, errNoDocument
	}
	var b strings.Builder
	page.Doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		b.WriteString(sel.Text())
		b.WriteByte('\n')
	})
	// Inline handlers such as onclick="location.href='mailto:'+..." count as script.
	page.Doc.Find("[onclick], [onmouseover]").Each(func(_ int, sel *goquery.Selection) {
		b.WriteString(sel.AttrOr("onclick", ""))
		b.WriteByte('\n')
		b.WriteString(sel.AttrOr("onmouseover", ""))
		b.WriteByte('\n')
	})
	return l.m.ExtractCandidates(b.String(), crawler.SourceScript), nil
}

type attributeLayer struct{ m *matcher.Matcher }

func (attributeLayer) Name() crawler.Source { return crawler.SourceAttributes }

func (l attributeLayer) Extract(page *Page) ([]crawler.Candidate, error) {
	if page.Doc == nil {
		return nil, errNoDocument
	}
	var b strings.Builder
	page.Doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		for _, attr := range sel.Nodes[0].Attr {
			if attr.Key == "href" || attr.Key == "value" || attr.Key == "placeholder" || strings.HasPrefix(attr.Key, "on") {
				continue
			}
			if strings.Contains(attr.Val, "@") || strings.Contains(attr.Val, "&#64;") {
				b.WriteString(attr.Val)
				b.WriteByte(' ')
			}
		}
	})
	return l.m.ExtractCandidates(b.String(), crawler.SourceAttributes), nil
}

type commentLayer struct{ m *matcher.Matcher }

func (commentLayer) Name() crawler.Source { return crawler.SourceComments }

func (l commentLayer) Extract(page *Page) ([]crawler.Candidate, error) {
	var b strings.Builder
	if page.Doc != nil {
		for _, n := range page.Doc.Selection.Nodes {
			collectComments(n, &b)
		}
	} else {
		for _, m := range commentRe.FindAllStringSubmatch(page.Raw, -1) {
			b.WriteString(m[1])
			b.WriteByte('\n')
		}
	}
	return l.m.ExtractCandidates(b.String(), crawler.SourceComments), nil
}

func collectComments(n *html.Node, b *strings.Builder) {
	if n.Type == html.CommentNode {
		b.WriteString(n.Data)
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectComments(c, b)
	}
}
