package progress

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

// outcomeTally counts finished sites by outcome and source.
type outcomeTally map[string]int

func (t outcomeTally) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		if evt.Stage != StageSiteDone {
			continue
		}
		key := string(evt.Outcome)
		if evt.Source != "" {
			key += "/" + string(evt.Source)
		}
		t[key]++
	}
	return nil
}

func (outcomeTally) Close(context.Context) error { return nil }

// ExampleHub shows a sink tallying site outcomes. Close flushes anything
// still queued before returning.
func ExampleHub() {
	tally := outcomeTally{}
	hub := NewHub(Config{
		RunID:         UUIDToBytes(uuid.MustParse("6f1c2a40-0000-4000-8000-000000000001")),
		FlushInterval: time.Hour,
	}, tally)

	hub.Emit(Event{Stage: StageSiteStart, Row: "Leads!2", URL: "https://acme.com"})
	hub.Emit(Event{Stage: StageSiteDone, Row: "Leads!2", Outcome: crawler.OutcomeFound, Source: crawler.SourceMailto})
	hub.Emit(Event{Stage: StageSiteDone, Row: "Leads!3", Outcome: crawler.OutcomeFound, Source: crawler.SourcePattern})
	hub.Emit(Event{Stage: StageSiteDone, Row: "Leads!4", Outcome: crawler.OutcomeNotFound})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	keys := make([]string, 0, len(tally))
	for k := range tally {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s %d\n", k, tally[k])
	}
	// Output:
	// found/mailto 1
	// found/pattern 1
	// not-found 1
}

// ExampleEmitterFunc adapts a plain function into an Emitter, handy for
// tracing a single site without a Hub.
func ExampleEmitterFunc() {
	var pages []string
	emit := EmitterFunc(func(evt Event) {
		if evt.Stage == StageFetchDone {
			pages = append(pages, fmt.Sprintf("%s %s", evt.StatusClass, evt.URL))
		}
	})

	emit.Emit(Event{Stage: StageFetchDone, URL: "https://acme.com", StatusClass: ClassifyStatus(200), PageClass: crawler.PageOK})
	emit.Emit(Event{Stage: StageFetchDone, URL: "https://acme.com/kontakt", StatusClass: ClassifyStatus(404), PageClass: crawler.PageOK})

	fmt.Println(pages)
	// Output:
	// [2xx https://acme.com 4xx https://acme.com/kontakt]
}
