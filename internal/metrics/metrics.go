// Package metrics exposes process-level Prometheus collectors for the batch
// runner and its control API. Per-site progress metrics live in the
// progress Prometheus sink.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	throttleCPUPercent         prometheus.Gauge
	throttleRSSBytes           prometheus.Gauge
	throttlePaused             prometheus.Gauge
	throttleConcurrencyCap     prometheus.Gauge
	runnerActiveSites          prometheus.Gauge
	runnerSkipsTotal           *prometheus.CounterVec
	runnerStartDelaySeconds    prometheus.Histogram
	checkpointFlushesTotal     *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of control API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of control API latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		throttleCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "emailfinder_throttle_cpu_percent",
			Help: "Last sampled system CPU utilisation.",
		})

		throttleRSSBytes = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "emailfinder_throttle_rss_bytes",
			Help: "Last sampled resident set size of the process.",
		})

		throttlePaused = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "emailfinder_throttle_paused",
			Help: "1 while admission is paused because of load.",
		})

		throttleConcurrencyCap = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "emailfinder_throttle_concurrency_cap",
			Help: "Current number of sites allowed in flight.",
		})

		runnerActiveSites = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "emailfinder_active_sites",
			Help: "Number of sites currently being processed.",
		})

		runnerSkipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emailfinder_skips_total",
				Help: "Manual skip requests, labeled by whether a site was targeted.",
			},
			[]string{"result"},
		)

		runnerStartDelaySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "emailfinder_start_delay_seconds",
			Help:    "Time a site waited at the admission gate.",
			Buckets: []float64{0.1, 0.5, 1, 1.5, 3, 5, 10, 30},
		})

		checkpointFlushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emailfinder_checkpoint_flushes_total",
				Help: "Checkpoint flushes, labeled by status.",
			},
			[]string{"status"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveThrottle publishes a throttle sample.
func ObserveThrottle(cpuPercent float64, rssBytes uint64, paused bool, capacity int) {
	if throttleCPUPercent == nil {
		return
	}
	throttleCPUPercent.Set(cpuPercent)
	throttleRSSBytes.Set(float64(rssBytes))
	if paused {
		throttlePaused.Set(1)
	} else {
		throttlePaused.Set(0)
	}
	throttleConcurrencyCap.Set(float64(capacity))
}

// IncActiveSites increments the active sites gauge.
func IncActiveSites() {
	if runnerActiveSites != nil {
		runnerActiveSites.Inc()
	}
}

// DecActiveSites decrements the active sites gauge.
func DecActiveSites() {
	if runnerActiveSites != nil {
		runnerActiveSites.Dec()
	}
}

// ObserveSkip counts a manual skip request.
func ObserveSkip(targeted bool) {
	if runnerSkipsTotal == nil {
		return
	}
	result := "idle"
	if targeted {
		result = "targeted"
	}
	runnerSkipsTotal.WithLabelValues(result).Inc()
}

// ObserveStartDelay records the duration of an admission wait.
func ObserveStartDelay(duration time.Duration) {
	if runnerStartDelaySeconds != nil {
		runnerStartDelaySeconds.Observe(duration.Seconds())
	}
}

// ObserveCheckpointFlush counts a checkpoint flush.
func ObserveCheckpointFlush(err error) {
	if checkpointFlushesTotal == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	checkpointFlushesTotal.WithLabelValues(status).Inc()
}
