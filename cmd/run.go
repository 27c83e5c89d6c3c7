package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/api"
	"github.com/gorkemkurban/email-scraper/internal/checkpoint"
	"github.com/gorkemkurban/email-scraper/internal/clock/system"
	"github.com/gorkemkurban/email-scraper/internal/config"
	"github.com/gorkemkurban/email-scraper/internal/id/uuid"
	"github.com/gorkemkurban/email-scraper/internal/logging"
	"github.com/gorkemkurban/email-scraper/internal/metrics"
	"github.com/gorkemkurban/email-scraper/internal/policy/ratelimit"
	"github.com/gorkemkurban/email-scraper/internal/progress"
	"github.com/gorkemkurban/email-scraper/internal/progress/sinks"
	"github.com/gorkemkurban/email-scraper/internal/runner"
	"github.com/gorkemkurban/email-scraper/internal/sheet"
	"github.com/gorkemkurban/email-scraper/internal/throttle"
)

const (
	hubCloseTimeout = 5 * time.Second
	apiCloseTimeout = 3 * time.Second
)

type runOptions struct {
	input  string
	output string
}

// newRunCmd creates the 'run' subcommand, which processes a whole workbook.
func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <input.xlsx|input.csv>",
		Short: "Find emails for every pending row of a spreadsheet",
		Long: `Reads every sheet of the input, schedules rows that have a website
and no email yet, and writes the results to <name>_output.<ext> (or --output).
Outcomes are checkpointed as they land, so an interrupted run picks up where
it stopped. Press Ctrl-C once to stop and save; a second Ctrl-C exits at once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts.input = args[0]
			return runBatch(cmd.Context(), appInstance, opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", "", "output path (default <input>_output<ext>)")
	flags.IntP("concurrency", "c", 0, "maximum sites in flight")
	flags.Duration("start-interval", 0, "minimum spacing between site starts")
	flags.String("api-addr", "", "serve the control API on this address")
	flags.String("checkpoint", "", "checkpoint driver: sqlite, postgres, or memory")
	flags.String("checkpoint-dsn", "", "checkpoint database (default <input>.checkpoint.db)")
	flags.Bool("whois", false, "fall back to WHOIS contacts when patterns fail")
	flags.Bool("render-js", false, "render script-heavy pages with headless Chrome")
	return cmd
}

func runBatch(ctx context.Context, a App, opts runOptions, out io.Writer) error {
	cfg := a.Config()

	wb, err := sheet.Open(opts.input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = wb.Close() }()

	rows := wb.Pending()
	withWebsite, prefilled := wb.Counts()
	inputs := make([]runner.Input, 0, len(rows))
	for _, row := range rows {
		inputs = append(inputs, runner.Input{Key: row.Key, URL: row.Website, Company: row.Company})
	}

	runID, err := uuid.New().NewRunID()
	if err != nil {
		return err
	}
	logger := logging.WithRun(a.Logger(), runID.String())
	logger.Info("workbook loaded",
		zap.String("input", opts.input),
		zap.Int("sheets", len(wb.Sheets)),
		zap.Int("with_website", withWebsite),
		zap.Int("prefilled", prefilled),
		zap.Int("pending", len(inputs)),
	)

	store, err := checkpoint.Open(ctx, checkpointConfig(cfg.Checkpoint, opts.input))
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("close checkpoint", zap.Error(cerr))
		}
	}()

	stats := sinks.NewStatsSink()
	sinkList := []progress.Sink{sinks.NewLogSink(logger), stats}
	if cfg.Metrics.Enabled {
		metrics.Init()
		promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("init prometheus sink: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	hub := progress.NewHub(progress.Config{RunID: progress.UUIDToBytes(runID), Logger: logger}, sinkList...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hubCloseTimeout)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("close progress hub", zap.Error(cerr))
		}
		if dropped := hub.Dropped(); dropped > 0 {
			logger.Warn("progress events dropped", zap.Int64("dropped", dropped))
		}
	}()

	eng, err := buildEngine(cfg, logger, engineOptions{emitter: hub})
	if err != nil {
		return err
	}
	defer eng.Close()

	throttleCtx, stopThrottle := context.WithCancel(ctx)
	defer stopThrottle()
	monitor, err := startThrottle(throttleCtx, cfg, logger)
	if err != nil {
		return err
	}

	r, err := runner.New(runner.Config{
		Concurrency:     cfg.Runner.Concurrency,
		CheckpointEvery: cfg.Runner.CheckpointEvery,
		DrainTimeout:    cfg.Runner.DrainTimeout,
		StatsInterval:   cfg.Runner.StatsInterval,
		PausePoll:       cfg.Throttle.PausePoll,
	}, runner.Deps{
		Sites:   eng.orchestrator,
		Store:   store,
		Pacer:   ratelimit.New(ratelimit.Config{Interval: cfg.Runner.StartInterval}),
		Gate:    monitor,
		Emitter: hub,
		Clock:   system.New(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if cfg.API.Addr != "" {
		shutdown, err := serveAPI(cfg, r, stats, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	summary, runErr := r.Run(ctx, inputs)

	applied := wb.Apply(summary.Outcomes)
	output := opts.output
	if output == "" {
		output = sheet.OutputPath(opts.input)
	}
	if err := wb.Save(output); err != nil {
		return errors.Join(runErr, fmt.Errorf("save output: %w", err))
	}
	logger.Info("output written", zap.String("path", output), zap.Int("rows", applied))

	printSummary(out, summary, runID, output)
	if runErr != nil {
		return runErr
	}
	return nil
}

// checkpointConfig fills in a per-input sqlite file when no DSN is set, so
// resuming is scoped to the workbook being processed.
func checkpointConfig(cfg config.CheckpointConfig, input string) checkpoint.Config {
	out := checkpoint.Config{Driver: cfg.Driver, DSN: cfg.DSN, Table: cfg.Table}
	if out.DSN == "" && (out.Driver == "" || strings.EqualFold(out.Driver, "sqlite")) {
		out.DSN = strings.TrimSuffix(input, filepath.Ext(input)) + ".checkpoint.db"
	}
	return out
}

func startThrottle(ctx context.Context, cfg config.Config, logger *zap.Logger) (*throttle.Monitor, error) {
	sampler, err := throttle.NewProcessSampler(ctx)
	if err != nil {
		return nil, fmt.Errorf("init load sampler: %w", err)
	}
	monitor, err := throttle.New(throttle.Config{
		Cap:            cfg.Runner.Concurrency,
		CPUPercent:     cfg.Throttle.CPUPercent,
		MaxRSSBytes:    cfg.Throttle.MaxRSSBytes(),
		SampleInterval: cfg.Throttle.SampleInterval,
	}, sampler, throttle.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init throttle: %w", err)
	}
	if total, available, err := throttle.HostMemory(ctx); err == nil {
		logger.Info("load ceilings",
			zap.Float64("cpu_percent", cfg.Throttle.CPUPercent),
			zap.Uint64("max_rss_bytes", cfg.Throttle.MaxRSSBytes()),
			zap.Uint64("host_total_bytes", total),
			zap.Uint64("host_available_bytes", available),
		)
	}
	go monitor.Run(ctx)
	return monitor, nil
}

func serveAPI(cfg config.Config, r *runner.Runner, stats *sinks.StatsSink, logger *zap.Logger) (func(), error) {
	server := api.NewServer(r, stats, system.New(), logger, api.Config{
		APIKey:         cfg.API.Key,
		MetricsEnabled: cfg.Metrics.Enabled,
	})
	ln, err := net.Listen("tcp", cfg.API.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.API.Addr, err)
	}
	srv := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control API stopped", zap.Error(err))
		}
	}()
	logger.Info("control API listening", zap.String("addr", ln.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), apiCloseTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("control API shutdown", zap.Error(err))
		}
	}, nil
}
