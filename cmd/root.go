// Package cmd defines and implements the CLI commands for the emailfinder executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/config"
	"github.com/gorkemkurban/email-scraper/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// flagKeys maps CLI flags to the config keys they override. Subcommands
// share flag names, so binding happens for the command actually run.
var flagKeys = map[string]string{
	"dev":            "logging.development",
	"concurrency":    "runner.concurrency",
	"start-interval": "runner.start_interval",
	"api-addr":       "api.addr",
	"checkpoint":     "checkpoint.driver",
	"checkpoint-dsn": "checkpoint.dsn",
	"whois":          "synth.whois_enabled",
	"render-js":      "crawl.render_js",
}

// App carries the services every subcommand needs. Tests may inject their
// own through newApp.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Close()
}

type app struct {
	cfg    config.Config
	logger *zap.Logger
}

func (a *app) Config() config.Config { return a.cfg }
func (a *app) Logger() *zap.Logger   { return a.logger }

func (a *app) Close() {
	_ = a.logger.Sync()
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(v *viper.Viper, path string) (App, error) {
	cfg, err := config.LoadFrom(v, path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

// NewRootCmd creates the root command with its subcommands. Each call gets
// its own Viper instance so commands can be built repeatedly in tests.
func NewRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "emailfinder",
		Short: "Find contact email addresses for the websites in a spreadsheet.",
		Long: `emailfinder visits each website listed in a spreadsheet, looks for a
contact address on the homepage and likely contact pages, and writes what it
finds back to a copy of the sheet. Sites that hide or block their address get
a pattern-based guess instead.`,
		SilenceUsage: true,

		// Runs after flags are parsed, so flag-bound keys are visible to
		// Viper, and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			for name, key := range flagKeys {
				if flag := cmd.Flags().Lookup(name); flag != nil {
					bind(v, flag, key)
				}
			}
			appInstance, err := newApp(v, cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML or TOML)")
	cmd.PersistentFlags().Bool("dev", false, "human-readable development logging")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newProbeCmd())
	return cmd
}

// Execute runs the root command under ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func bind(v *viper.Viper, flag *pflag.Flag, key string) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag.Name, err))
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
