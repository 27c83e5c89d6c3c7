// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the orchestrator and runner use to report batch progress. It
// batches events on a background goroutine and fans them out to pluggable
// sinks such as structured logs, Prometheus metrics, or the stats aggregator.
package progress
