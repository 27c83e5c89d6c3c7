package orchestrator

import (
	"time"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

// State is a step of the per-site state machine.
type State string

// States. Done, Skipped, and Errored are terminal.
const (
	StatePending         State = "pending"
	StateFetchingHome    State = "fetching-home"
	StateLocatingContact State = "locating-contact"
	StateFetchingContact State = "fetching-contact"
	StateExtracting      State = "extracting"
	StateSynthesizing    State = "synthesizing"
	StateDone            State = "done"
	StateSkipped         State = "skipped"
	StateErrored         State = "errored"
)

// Terminal reports whether no further transitions may follow.
func (s State) Terminal() bool {
	return s == StateDone || s == StateSkipped || s == StateErrored
}

// Transition is reported to a StateObserver on every state change.
type Transition struct {
	Key  crawler.RowKey
	URL  string
	From State
	To   State
	// Page is the contact page index for StateFetchingContact, else -1.
	Page   int
	At     time.Time
	Detail string
}

// StateObserver receives transitions synchronously from the orchestrating
// goroutine. Implementations must not block.
type StateObserver interface {
	OnTransition(Transition)
}

// ObserverFunc adapts a function to StateObserver.
type ObserverFunc func(Transition)

// OnTransition implements StateObserver.
func (f ObserverFunc) OnTransition(t Transition) { f(t) }

type nopObserver struct{}

func (nopObserver) OnTransition(Transition) {}
