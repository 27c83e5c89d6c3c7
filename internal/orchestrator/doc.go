// Package orchestrator drives a single site from its homepage to exactly one
// outcome: fetch the homepage, walk the ranked contact pages, extract, and
// fall back to synthesized addresses. Every fetch inherits the per-site
// watchdog deadline and the manual skip signal.
package orchestrator
