// Package config loads and validates email finder configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. EMAILFINDER_RUNNER_CONCURRENCY.
const EnvPrefix = "EMAILFINDER"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Runner     RunnerConfig     `mapstructure:"runner"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	Synth      SynthConfig      `mapstructure:"synth"`
	Lexicon    LexiconConfig    `mapstructure:"lexicon"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	API        APIConfig        `mapstructure:"api"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlConfig bounds the work done per site.
type CrawlConfig struct {
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	SiteTimeout      time.Duration `mapstructure:"site_timeout"`
	MaxContactPages  int           `mapstructure:"max_contact_pages"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	SkipPollInterval time.Duration `mapstructure:"skip_poll_interval"`
	UserAgent        string        `mapstructure:"user_agent"`
	MaxBodyBytes     int           `mapstructure:"max_body_bytes"`
	DisabledLayers   []string      `mapstructure:"disabled_layers"`
	RenderJS         bool          `mapstructure:"render_js"`
}

// HeadlessConfig configures the chromedp renderer used when RenderJS is on.
type HeadlessConfig struct {
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
	MaxParallel        int           `mapstructure:"max_parallel"`
	// PromotionThreshold is the JS-shell score (1..100) at which a homepage
	// is re-fetched through the renderer.
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
}

// RunnerConfig governs batch scheduling.
type RunnerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	StartInterval   time.Duration `mapstructure:"start_interval"`
	CheckpointEvery int           `mapstructure:"checkpoint_every"`
	DrainTimeout    time.Duration `mapstructure:"drain_timeout"`
	StatsInterval   time.Duration `mapstructure:"stats_interval"`
}

// ThrottleConfig sets the load ceilings that pause admissions.
type ThrottleConfig struct {
	CPUPercent     float64       `mapstructure:"cpu_percent"`
	MaxRSSMB       int           `mapstructure:"max_rss_mb"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	PausePoll      time.Duration `mapstructure:"pause_poll"`
}

// SynthConfig toggles the fallback address synthesizers.
type SynthConfig struct {
	PatternsEnabled bool          `mapstructure:"patterns_enabled"`
	WhoisEnabled    bool          `mapstructure:"whois_enabled"`
	WhoisTimeout    time.Duration `mapstructure:"whois_timeout"`
}

// LexiconConfig points at an optional lexicon override file.
type LexiconConfig struct {
	Path string `mapstructure:"path"`
}

// CheckpointConfig selects the outcome store.
type CheckpointConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"`
}

// APIConfig enables the HTTP control server when Addr is set.
type APIConfig struct {
	Addr string `mapstructure:"addr"`
	Key  string `mapstructure:"key"`
}

// MetricsConfig toggles Prometheus collectors and the /metrics route.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DefaultUserAgent identifies fetches made by the tool.
const DefaultUserAgent = "Mozilla/5.0 (compatible; emailfinder/1.0)"

// New returns a Viper instance with defaults and environment bindings set.
// Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from defaults, an optional file, and the environment.
func Load(path string) (Config, error) {
	return LoadFrom(New(), path)
}

// LoadFrom reads path (if any) into v and unmarshals the result.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)

	v.SetDefault("crawl.request_timeout", 3*time.Second)
	v.SetDefault("crawl.site_timeout", 15*time.Second)
	v.SetDefault("crawl.max_contact_pages", 3)
	v.SetDefault("crawl.max_retries", 2)
	v.SetDefault("crawl.retry_backoff", 250*time.Millisecond)
	v.SetDefault("crawl.skip_poll_interval", 500*time.Millisecond)
	v.SetDefault("crawl.user_agent", DefaultUserAgent)
	v.SetDefault("crawl.max_body_bytes", 2<<20)
	v.SetDefault("crawl.disabled_layers", []string{})
	v.SetDefault("crawl.render_js", false)

	v.SetDefault("headless.navigation_timeout", 10*time.Second)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.promotion_threshold", 60)

	v.SetDefault("runner.concurrency", 4)
	v.SetDefault("runner.start_interval", 1500*time.Millisecond)
	v.SetDefault("runner.checkpoint_every", 10)
	v.SetDefault("runner.drain_timeout", 5*time.Second)
	v.SetDefault("runner.stats_interval", 10*time.Second)

	v.SetDefault("throttle.cpu_percent", 80.0)
	v.SetDefault("throttle.max_rss_mb", 500)
	v.SetDefault("throttle.sample_interval", 2*time.Second)
	v.SetDefault("throttle.pause_poll", 250*time.Millisecond)

	v.SetDefault("synth.patterns_enabled", true)
	v.SetDefault("synth.whois_enabled", false)
	v.SetDefault("synth.whois_timeout", 5*time.Second)

	v.SetDefault("lexicon.path", "")

	v.SetDefault("checkpoint.driver", "sqlite")
	v.SetDefault("checkpoint.dsn", "")
	v.SetDefault("checkpoint.table", "site_outcomes")

	v.SetDefault("api.addr", "")
	v.SetDefault("api.key", "")

	v.SetDefault("metrics.enabled", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	positive := func(key string, ok bool) {
		if !ok {
			errs = append(errs, fmt.Errorf("%s must be > 0", key))
		}
	}
	positive("crawl.request_timeout", c.Crawl.RequestTimeout > 0)
	positive("crawl.site_timeout", c.Crawl.SiteTimeout > 0)
	positive("crawl.max_contact_pages", c.Crawl.MaxContactPages > 0)
	positive("crawl.max_retries", c.Crawl.MaxRetries > 0)
	positive("crawl.skip_poll_interval", c.Crawl.SkipPollInterval > 0)
	positive("crawl.max_body_bytes", c.Crawl.MaxBodyBytes > 0)
	positive("runner.concurrency", c.Runner.Concurrency > 0)
	positive("runner.checkpoint_every", c.Runner.CheckpointEvery > 0)
	positive("runner.drain_timeout", c.Runner.DrainTimeout > 0)
	positive("runner.stats_interval", c.Runner.StatsInterval > 0)
	positive("throttle.cpu_percent", c.Throttle.CPUPercent > 0)
	positive("throttle.max_rss_mb", c.Throttle.MaxRSSMB > 0)
	positive("throttle.sample_interval", c.Throttle.SampleInterval > 0)
	positive("throttle.pause_poll", c.Throttle.PausePoll > 0)

	if c.Runner.StartInterval < 0 {
		errs = append(errs, errors.New("runner.start_interval must be >= 0"))
	}
	if c.Crawl.RequestTimeout > c.Crawl.SiteTimeout {
		errs = append(errs, errors.New("crawl.request_timeout must not exceed crawl.site_timeout"))
	}
	if c.Throttle.CPUPercent > 100 {
		errs = append(errs, errors.New("throttle.cpu_percent must be <= 100"))
	}
	if c.Crawl.RenderJS && c.Headless.MaxParallel <= 0 {
		errs = append(errs, errors.New("headless.max_parallel must be > 0 when crawl.render_js is enabled"))
	}
	if c.Headless.PromotionThreshold < 1 || c.Headless.PromotionThreshold > 100 {
		errs = append(errs, errors.New("headless.promotion_threshold must be between 1 and 100"))
	}
	if c.Synth.WhoisEnabled && c.Synth.WhoisTimeout <= 0 {
		errs = append(errs, errors.New("synth.whois_timeout must be > 0 when whois is enabled"))
	}
	switch strings.ToLower(c.Checkpoint.Driver) {
	case "", "sqlite", "memory":
	case "postgres":
		if c.Checkpoint.DSN == "" {
			errs = append(errs, errors.New("checkpoint.dsn must be set for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("checkpoint.driver %q is not one of sqlite, postgres, memory", c.Checkpoint.Driver))
	}
	return errors.Join(errs...)
}

// MaxRSSBytes converts the RSS ceiling to bytes.
func (c ThrottleConfig) MaxRSSBytes() uint64 {
	return uint64(c.MaxRSSMB) << 20
}
