package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/orchestrator"
	"github.com/gorkemkurban/email-scraper/internal/progress"
	"github.com/gorkemkurban/email-scraper/internal/storage/local"
)

type probeOptions struct {
	url     string
	company string
	verbose bool
	saveDir string
	fetcher crawler.Fetcher
}

// newProbeCmd creates the 'probe' subcommand, which runs one site and
// traces each step. Useful for tuning the lexicon against a problem site.
func newProbeCmd() *cobra.Command {
	var opts probeOptions
	cmd := &cobra.Command{
		Use:   "probe <url>",
		Short: "Look up a single website and trace every step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts.url = args[0]
			_, err = probe(cmd.Context(), appInstance, opts, cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().StringVar(&opts.company, "company", "", "company name, used for pattern guesses")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "print every fetch and layer count")
	cmd.Flags().StringVar(&opts.saveDir, "save-pages", "", "write every fetched page body under this directory")
	cmd.Flags().Bool("whois", false, "fall back to WHOIS contacts when patterns fail")
	cmd.Flags().Bool("render-js", false, "render script-heavy pages with headless Chrome")
	return cmd
}

func probe(ctx context.Context, a App, opts probeOptions, out io.Writer) (crawler.Outcome, error) {
	task, err := crawler.NewSiteTask(crawler.RowKey{Sheet: "probe", Row: 1}, opts.url, opts.company)
	if err != nil {
		return crawler.Outcome{}, err
	}

	// out is shared by the observer and the emitter.
	var mu sync.Mutex
	observer := orchestrator.ObserverFunc(func(t orchestrator.Transition) {
		mu.Lock()
		defer mu.Unlock()
		line := fmt.Sprintf("%-18s", t.To)
		if t.Page >= 0 {
			line += fmt.Sprintf(" page %d", t.Page+1)
		}
		if t.Detail != "" {
			line += "  " + t.Detail
		}
		dimColor.Fprintln(out, line)
	})
	emitter := progress.EmitterFunc(func(evt progress.Event) {
		if !opts.verbose {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch evt.Stage {
		case progress.StageFetchDone:
			fmt.Fprintf(out, "  fetched %s  %s %s (%d bytes, %s)\n", evt.URL, evt.StatusClass, evt.PageClass, evt.Bytes, evt.Dur)
		case progress.StageLayerFindings:
			if evt.Count > 0 {
				fmt.Fprintf(out, "  layer %-18s %d\n", evt.Layer, evt.Count)
			}
		}
	})

	engOpts := engineOptions{
		emitter:  emitter,
		observer: observer,
		fetcher:  opts.fetcher,
	}
	if opts.saveDir != "" {
		store, err := local.New(local.Config{BaseDir: opts.saveDir})
		if err != nil {
			return crawler.Outcome{}, fmt.Errorf("save pages: %w", err)
		}
		engOpts.wrapFetcher = func(f crawler.Fetcher) crawler.Fetcher {
			return local.NewRecorder(f, store, a.Logger())
		}
	}

	eng, err := buildEngine(a.Config(), a.Logger(), engOpts)
	if err != nil {
		return crawler.Outcome{}, err
	}
	defer eng.Close()

	fmt.Fprintf(out, "Probing %s\n", task.URL)
	outcome := eng.orchestrator.Run(ctx, task)
	mu.Lock()
	defer mu.Unlock()
	printOutcome(out, outcome)
	if opts.saveDir != "" {
		dimColor.Fprintf(out, "  pages saved under %s\n", opts.saveDir)
	}
	return outcome, nil
}
