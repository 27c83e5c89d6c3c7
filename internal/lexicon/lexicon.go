// Package lexicon holds the keyword, blacklist, and locale tables used by the
// discovery pipeline. Tables are loaded once at startup and shared read-only.
package lexicon

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultTables []byte

// PatternTerms splits universal local parts into those tried before and after
// the locale-specific ones.
type PatternTerms struct {
	Primary   []string `yaml:"primary"`
	Secondary []string `yaml:"secondary"`
}

// Lexicon is the full table set. Callers must treat it as immutable.
type Lexicon struct {
	FreemailDomains   []string            `yaml:"freemail_domains"`
	SystemDomains     []string            `yaml:"system_domains"`
	ExampleAddresses  []string            `yaml:"example_addresses"`
	BusinessPrefixes  []string            `yaml:"business_prefixes"`
	PriorityPrefixes  []string            `yaml:"priority_prefixes"`
	FileExtensions    []string            `yaml:"file_extensions"`
	ContactKeywords   map[string][]string `yaml:"contact_keywords"`
	AboutKeywords     map[string][]string `yaml:"about_keywords"`
	FallbackPaths     []string            `yaml:"fallback_paths"`
	ChallengeKeywords []string            `yaml:"challenge_keywords"`
	PatternUniversal  PatternTerms        `yaml:"pattern_universal"`
	PatternLocale     map[string][]string `yaml:"pattern_locale"`
	TLDLocales        map[string]string   `yaml:"tld_locales"`
	PrivacyKeywords   []string            `yaml:"privacy_keywords"`
	CompanySuffixes   []string            `yaml:"company_suffixes"`
}

// Default returns the embedded tables.
func Default() (*Lexicon, error) {
	lex := &Lexicon{}
	if err := yaml.Unmarshal(defaultTables, lex); err != nil {
		return nil, fmt.Errorf("parse embedded lexicon: %w", err)
	}
	return lex, nil
}

// MustDefault is Default for tests and package-level setup.
func MustDefault() *Lexicon {
	lex, err := Default()
	if err != nil {
		panic(err)
	}
	return lex
}

// Load returns the embedded tables overlaid with the YAML file at path.
// Keys present in the file replace the embedded value wholesale.
func Load(path string) (*Lexicon, error) {
	lex, err := Default()
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read lexicon %s: %w", path, err)
		}
		if err := lex.overlay(data); err != nil {
			return nil, fmt.Errorf("parse lexicon %s: %w", path, err)
		}
	}
	if err := lex.Validate(); err != nil {
		return nil, err
	}
	return lex, nil
}

// overlay replaces every field whose key appears in data.
func (l *Lexicon) overlay(data []byte) error {
	var present map[string]yaml.Node
	if err := yaml.Unmarshal(data, &present); err != nil {
		return err
	}
	override := Lexicon{}
	if err := yaml.Unmarshal(data, &override); err != nil {
		return err
	}
	dst := reflect.ValueOf(l).Elem()
	src := reflect.ValueOf(&override).Elem()
	for i := 0; i < dst.NumField(); i++ {
		key, _, _ := strings.Cut(dst.Type().Field(i).Tag.Get("yaml"), ",")
		if _, ok := present[key]; ok {
			dst.Field(i).Set(src.Field(i))
		}
	}
	return nil
}

// Validate checks that the tables the pipeline cannot work without are present.
func (l *Lexicon) Validate() error {
	var errs []error
	if len(l.ContactKeywords) == 0 {
		errs = append(errs, errors.New("lexicon.contact_keywords must not be empty"))
	}
	if len(l.PatternUniversal.Primary) == 0 {
		errs = append(errs, errors.New("lexicon.pattern_universal.primary must not be empty"))
	}
	if len(l.ChallengeKeywords) == 0 {
		errs = append(errs, errors.New("lexicon.challenge_keywords must not be empty"))
	}
	return errors.Join(errs...)
}

// Locales lists the locales with contact keywords, sorted.
func (l *Lexicon) Locales() []string {
	out := make([]string, 0, len(l.ContactKeywords))
	for locale := range l.ContactKeywords {
		out = append(out, locale)
	}
	sort.Strings(out)
	return out
}

// LocaleForTLD maps a host's last label to a locale, or "".
func (l *Lexicon) LocaleForTLD(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	idx := strings.LastIndexByte(host, '.')
	if idx < 0 {
		return ""
	}
	return l.TLDLocales[host[idx+1:]]
}

var foldReplacer = strings.NewReplacer("ı", "i", "ß", "ss", "ø", "o", "ł", "l", "đ", "d")

// Fold lowercases s and strips combining marks so "Contáctenos" and
// "contactenos" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return foldReplacer.Replace(strings.ToLower(out))
}
