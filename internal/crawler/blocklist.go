package crawler

import "strings"

// DomainSet matches hosts against exact entries and suffix wildcards.
// "*.example.org" and ".example.org" match example.org and every subdomain;
// a bare "example.org" matches only itself.
type DomainSet struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewDomainSet builds a matcher from configuration patterns. It returns nil
// when no usable pattern is supplied; a nil set matches nothing.
func NewDomainSet(patterns []string) *DomainSet {
	set := &DomainSet{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			if suffix := strings.TrimPrefix(value, "*."); suffix != "" {
				set.addSuffix(suffix)
			}
		case strings.HasPrefix(value, "."):
			if suffix := strings.TrimPrefix(value, "."); suffix != "" {
				set.addSuffix(suffix)
			}
		default:
			set.exact[value] = struct{}{}
		}
	}
	if len(set.exact) == 0 && len(set.suffixes) == 0 {
		return nil
	}
	return set
}

func (s *DomainSet) addSuffix(suffix string) {
	for _, existing := range s.suffixes {
		if existing == suffix {
			return
		}
	}
	s.suffixes = append(s.suffixes, suffix)
}

// Contains reports whether host is covered by the set.
func (s *DomainSet) Contains(host string) bool {
	if s == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, exact := s.exact[host]; exact {
		return true
	}
	for _, suffix := range s.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
