// Package api hosts the HTTP control server for a running batch. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/skip to skip the longest-running (or a named) site.
//   - POST /v1/stop to interrupt the batch and drain in-flight sites.
//   - GET /v1/stats and /v1/sites for live progress.
package api
