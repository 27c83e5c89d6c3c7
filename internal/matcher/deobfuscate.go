package matcher

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	bracketAtRe   = regexp.MustCompile(`(?i)\s*[\[\(\{]\s*(?:at|@|arroba|arobase)\s*[\]\)\}]\s*`)
	bracketDotRe  = regexp.MustCompile(`(?i)\s*[\[\(\{]\s*(?:dot|\.|point|punkt|punto)\s*[\]\)\}]\s*`)
	jsHexRe       = regexp.MustCompile(`\\x([0-9a-fA-F]{2})`)
	jsUnicodeRe   = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)
	urlAtRe       = regexp.MustCompile(`(?i)%40`)
	urlDotRe      = regexp.MustCompile(`(?i)%2e`)
	charCodeRe    = regexp.MustCompile(`String\.fromCharCode\(\s*((?:0x[0-9a-fA-F]+|\d+)(?:\s*,\s*(?:0x[0-9a-fA-F]+|\d+))*)\s*\)`)
	concatJoinRe  = regexp.MustCompile(`["']\s*\+\s*["']`)
	wordAtDotRe   = regexp.MustCompile(`(?i)\b([a-z0-9._%+\-]+)\s+(at|arroba|arobase)\s+([a-z0-9\-]+(?:\s+dot\s+[a-z0-9\-]+)*)\s+(dot)\s+([a-z]{2,24})\b`)
	spacedRe      = regexp.MustCompile(`(?i)\b([a-z0-9._%+\-]+)\s+@\s+([a-z0-9\-]+(?:[ \t]*\.[ \t]*[a-z0-9\-]+)*)[ \t]*\.[ \t]*([a-z]{2,24})\b`)
	innerSpaceRe  = regexp.MustCompile(`\s+`)
	wordDotJoinRe = regexp.MustCompile(`(?i)\s+dot\s+`)
	wordDotRe     = regexp.MustCompile(`(?i)\bdot\b`)
)

// deobfuscate undoes the common ways sites hide addresses from scrapers.
// The result is only ever scanned, never shown.
func deobfuscate(text string) string {
	out := text
	if strings.Contains(out, "&") {
		out = html.UnescapeString(out)
	}
	if strings.Contains(out, `\x`) {
		out = jsHexRe.ReplaceAllStringFunc(out, decodeEscape)
	}
	if strings.Contains(out, `\u`) {
		out = jsUnicodeRe.ReplaceAllStringFunc(out, decodeEscape)
	}
	if strings.Contains(out, "%") {
		out = urlAtRe.ReplaceAllString(out, "@")
		out = urlDotRe.ReplaceAllString(out, ".")
	}
	if strings.Contains(out, "fromCharCode") {
		out = charCodeRe.ReplaceAllStringFunc(out, decodeCharCodes)
	}
	if strings.Contains(out, "+") {
		out = concatJoinRe.ReplaceAllString(out, "")
	}
	out = bracketAtRe.ReplaceAllString(out, "@")
	out = bracketDotRe.ReplaceAllString(out, ".")
	return out
}

func decodeEscape(match string) string {
	code, err := strconv.ParseUint(match[2:], 16, 32)
	if err != nil {
		return match
	}
	return string(rune(code))
}

func decodeCharCodes(match string) string {
	sub := charCodeRe.FindStringSubmatch(match)
	if len(sub) < 2 {
		return match
	}
	var b strings.Builder
	for _, part := range strings.Split(sub[1], ",") {
		code, err := strconv.ParseInt(strings.TrimSpace(part), 0, 32)
		if err != nil || code <= 0 || code > 0x10FFFF {
			return match
		}
		b.WriteRune(rune(code))
	}
	return b.String()
}

// spelledAddresses finds "info AT acme DOT com" and "info @ acme . com".
// A bare "@" needs whitespace on both sides, so "@acme.store" handles do
// not qualify. The words "at" and "dot" are ordinary prose, so a spelled
// address is kept only when they are written in capitals or trusted reports
// the local part as a known business mailbox.
func spelledAddresses(text string, trusted func(local string) bool) []string {
	var out []string
	for _, m := range wordAtDotRe.FindAllStringSubmatch(text, -1) {
		local := strings.ToLower(m[1])
		if !shouted(m[2], m[3], m[4]) && !trusted(local) {
			continue
		}
		domain := wordDotJoinRe.ReplaceAllString(m[3], ".")
		out = append(out, local+"@"+domain+"."+m[5])
	}
	for _, m := range spacedRe.FindAllStringSubmatch(text, -1) {
		domain := innerSpaceRe.ReplaceAllString(m[2], "")
		out = append(out, m[1]+"@"+domain+"."+m[3])
	}
	return out
}

// shouted reports whether the at-word and every dot-word are upper case.
// arroba and arobase never occur in prose by accident and always count.
func shouted(atWord, domain, lastDot string) bool {
	switch strings.ToLower(atWord) {
	case "arroba", "arobase":
	default:
		if atWord != "AT" {
			return false
		}
	}
	if lastDot != "DOT" {
		return false
	}
	for _, w := range wordDotRe.FindAllString(domain, -1) {
		if w != "DOT" {
			return false
		}
	}
	return true
}
