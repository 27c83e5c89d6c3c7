package locator

// Sequence is a lazy, finite, restartable walk over ranked pages. It is not
// safe for concurrent use; each orchestrator owns its own.
type Sequence struct {
	build func() []Page
	pages []Page
	built bool
	pos   int
}

func (s *Sequence) ensure() {
	if s.built {
		return
	}
	s.built = true
	if s.build != nil {
		s.pages = s.build()
	}
}

// Next returns the next page, or false once the sequence is exhausted.
func (s *Sequence) Next() (Page, bool) {
	s.ensure()
	if s.pos >= len(s.pages) {
		return Page{}, false
	}
	page := s.pages[s.pos]
	s.pos++
	return page, true
}

// Take returns up to n of the remaining pages and advances past them.
func (s *Sequence) Take(n int) []Page {
	var out []Page
	for len(out) < n {
		page, ok := s.Next()
		if !ok {
			break
		}
		out = append(out, page)
	}
	return out
}

// Reset rewinds to the first page without re-parsing.
func (s *Sequence) Reset() {
	s.pos = 0
}

// Len is the total number of pages in the sequence.
func (s *Sequence) Len() int {
	s.ensure()
	return len(s.pages)
}
