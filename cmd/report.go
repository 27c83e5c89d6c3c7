package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	idgen "github.com/gorkemkurban/email-scraper/internal/id/uuid"
	"github.com/gorkemkurban/email-scraper/internal/runner"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

func printSummary(out io.Writer, summary runner.Summary, runID uuid.UUID, output string) {
	s := summary.Stats
	fmt.Fprintln(out)
	if summary.Interrupted {
		warnColor.Fprintln(out, "Run interrupted; progress saved.")
	} else {
		okColor.Fprintln(out, "Run complete.")
	}
	fmt.Fprintf(out, "  rows scheduled   %d\n", summary.Total)
	if summary.Resumed > 0 {
		fmt.Fprintf(out, "  resumed          %d\n", summary.Resumed)
	}
	okColor.Fprintf(out, "  found            %d", s.Found())
	dimColor.Fprintf(out, "  (scraped %d, pattern %d, whois %d)\n", s.FoundScraped, s.FoundPattern, s.FoundWhois)
	fmt.Fprintf(out, "  not found        %d\n", s.NotFound)
	fmt.Fprintf(out, "  skipped          %d\n", s.Skipped)
	if s.Errored > 0 {
		errColor.Fprintf(out, "  errored          %d", s.Errored)
		dimColor.Fprintf(out, "  (%s)\n", errorBreakdown(s.ByError))
	} else {
		fmt.Fprintf(out, "  errored          0\n")
	}
	if summary.Unstarted > 0 {
		warnColor.Fprintf(out, "  not started      %d\n", summary.Unstarted)
	}
	if s.BotWalls > 0 {
		fmt.Fprintf(out, "  bot walls        %d\n", s.BotWalls)
	}
	fmt.Fprintf(out, "  elapsed          %s\n", s.Elapsed.Round(time.Second))
	fmt.Fprintf(out, "  output           %s\n", output)
	dimColor.Fprintf(out, "  run              %s\n", idgen.Short(runID))
}

func errorBreakdown(byError map[crawler.ErrorKind]int) string {
	kinds := make([]string, 0, len(byError))
	for kind := range byError {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	out := ""
	for i, kind := range kinds {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s %d", kind, byError[crawler.ErrorKind(kind)])
	}
	return out
}

func printOutcome(out io.Writer, o crawler.Outcome) {
	switch o.Kind {
	case crawler.OutcomeFound:
		okColor.Fprintf(out, "%s", o.Email)
		dimColor.Fprintf(out, "  via %s\n", o.Source)
	case crawler.OutcomeSkipped:
		warnColor.Fprintln(out, "skipped")
	case crawler.OutcomeNotFound:
		warnColor.Fprintln(out, "no address found")
	default:
		errColor.Fprintln(out, o.String())
		if o.Detail != "" {
			dimColor.Fprintf(out, "  %s\n", o.Detail)
		}
	}
	dimColor.Fprintf(out, "  %s, %d fetch attempt(s)\n", o.FinishedAt.Sub(o.StartedAt).Round(time.Millisecond), o.Attempts)
}
