package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/progress"
)

// PrometheusSink exports per-site progress metrics via Prometheus. It owns
// the collectors for sites started/completed, fetches, and layer findings.
type PrometheusSink struct {
	sitesStarted   prometheus.Counter
	sitesCompleted *prometheus.CounterVec
	siteDuration   *prometheus.HistogramVec
	fetches        *prometheus.CounterVec
	fetchBytes     prometheus.Counter
	fetchDuration  *prometheus.HistogramVec
	layerFindings  *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sitesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emailfinder_sites_started_total",
			Help: "Total sites that have started.",
		}),
		sitesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emailfinder_sites_completed_total",
			Help: "Total sites completed partitioned by outcome and source.",
		}, []string{"outcome", "source"}),
		siteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "emailfinder_site_duration_seconds",
			Help:    "Wall time per completed site.",
			Buckets: []float64{0.5, 1, 2, 4, 8, 12, 15, 20},
		}, []string{"outcome"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emailfinder_fetches_total",
			Help: "Fetch completions partitioned by page class and status class.",
		}, []string{"page_class", "status_class"}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emailfinder_fetch_bytes_total",
			Help: "Bytes downloaded.",
		}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "emailfinder_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by page class.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}, []string{"page_class"}),
		layerFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emailfinder_layer_findings_total",
			Help: "Candidate addresses found per extraction layer.",
		}, []string{"layer"}),
	}
	for _, collector := range []prometheus.Collector{
		s.sitesStarted,
		s.sitesCompleted,
		s.siteDuration,
		s.fetches,
		s.fetchBytes,
		s.fetchDuration,
		s.layerFindings,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageSiteStart:
		s.sitesStarted.Inc()
	case progress.StageSiteDone:
		s.handleSiteDone(evt)
	case progress.StageFetchDone:
		s.handleFetchEvent(evt)
	case progress.StageLayerFindings:
		if evt.Count > 0 {
			s.layerFindings.WithLabelValues(string(evt.Layer)).Add(float64(evt.Count))
		}
	}
}

func (s *PrometheusSink) handleSiteDone(evt progress.Event) {
	source := string(evt.Source)
	if evt.Outcome == crawler.OutcomeError {
		source = string(evt.ErrorKind)
	}
	s.sitesCompleted.WithLabelValues(string(evt.Outcome), source).Inc()
	if evt.Dur > 0 {
		s.siteDuration.WithLabelValues(string(evt.Outcome)).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetches.WithLabelValues(string(evt.PageClass), statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(string(evt.PageClass)).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
