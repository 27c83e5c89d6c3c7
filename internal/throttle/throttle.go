// Package throttle samples process load and publishes the concurrency cap
// and paused flag the batch runner admits work against.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/metrics"
	"github.com/gorkemkurban/email-scraper/internal/progress"
)

const (
	defaultCPUPercent     = 80
	defaultMaxRSSBytes    = 500 << 20
	defaultSampleInterval = 2 * time.Second
)

// State is an immutable snapshot of the throttle.
type State struct {
	Cap        int
	CPUPercent float64
	RSSBytes   uint64
	Paused     bool
	SampledAt  time.Time
}

// Load converts the snapshot into a progress payload.
func (s State) Load(inFlight int) progress.Load {
	return progress.Load{
		Cap:        s.Cap,
		InFlight:   inFlight,
		CPUPercent: s.CPUPercent,
		RSSBytes:   s.RSSBytes,
		Paused:     s.Paused,
	}
}

// Sample is one load reading.
type Sample struct {
	CPUPercent float64
	RSSBytes   uint64
}

// Sampler reads the current load.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (Sample, error)

// Sample implements Sampler.
func (f SamplerFunc) Sample(ctx context.Context) (Sample, error) {
	return f(ctx)
}

// Config holds the thresholds.
type Config struct {
	Cap            int
	CPUPercent     float64
	MaxRSSBytes    uint64
	SampleInterval time.Duration
}

// Monitor owns the throttle state. Only the monitor writes it; readers use
// Snapshot from any goroutine.
type Monitor struct {
	cfg     Config
	sampler Sampler
	logger  *zap.Logger
	now     func() time.Time
	state   atomic.Pointer[State]
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithNow overrides the clock used to stamp samples.
func WithNow(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// New builds a monitor starting unpaused at cfg.Cap.
func New(cfg Config, sampler Sampler, opts ...Option) (*Monitor, error) {
	if sampler == nil {
		return nil, errors.New("sampler is required")
	}
	if cfg.Cap <= 0 {
		return nil, fmt.Errorf("cap must be > 0, got %d", cfg.Cap)
	}
	if cfg.CPUPercent <= 0 {
		cfg.CPUPercent = defaultCPUPercent
	}
	if cfg.MaxRSSBytes == 0 {
		cfg.MaxRSSBytes = defaultMaxRSSBytes
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = defaultSampleInterval
	}
	m := &Monitor{
		cfg:     cfg,
		sampler: sampler,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state.Store(&State{Cap: cfg.Cap})
	return m, nil
}

// Snapshot returns the current state.
func (m *Monitor) Snapshot() State {
	return *m.state.Load()
}

// Run samples every SampleInterval until ctx ends.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Observe(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("load sample failed", zap.Error(err))
			}
		}
	}
}

// Observe takes one sample and applies it. Crossing a threshold pauses
// admissions and lowers the cap by one, never below one. The cap is never
// raised again during the run. A failed sample leaves the state unchanged.
func (m *Monitor) Observe(ctx context.Context) (State, error) {
	sample, err := m.sampler.Sample(ctx)
	if err != nil {
		return m.Snapshot(), fmt.Errorf("sample load: %w", err)
	}
	prev := m.Snapshot()
	next := State{
		Cap:        prev.Cap,
		CPUPercent: sample.CPUPercent,
		RSSBytes:   sample.RSSBytes,
		SampledAt:  m.now(),
	}
	next.Paused = sample.CPUPercent >= m.cfg.CPUPercent || sample.RSSBytes >= m.cfg.MaxRSSBytes
	if next.Paused && !prev.Paused {
		if next.Cap > 1 {
			next.Cap--
		}
		m.logger.Warn("load over threshold, pausing admissions",
			zap.Float64("cpu_percent", sample.CPUPercent),
			zap.Uint64("rss_bytes", sample.RSSBytes),
			zap.Int("cap", next.Cap),
		)
	} else if !next.Paused && prev.Paused {
		m.logger.Info("load recovered, resuming admissions",
			zap.Float64("cpu_percent", sample.CPUPercent),
			zap.Uint64("rss_bytes", sample.RSSBytes),
			zap.Int("cap", next.Cap),
		)
	}
	m.state.Store(&next)
	metrics.ObserveThrottle(next.CPUPercent, next.RSSBytes, next.Paused, next.Cap)
	return next, nil
}
