// Command emailfinder discovers contact email addresses for the websites
// listed in a spreadsheet.
//
//	emailfinder run leads.xlsx              # writes leads_output.xlsx
//	emailfinder run leads.csv -c 8 --whois  # more parallelism, WHOIS fallback
//	emailfinder probe acme.com -v           # trace one site
//	emailfinder probe acme.com --save-pages pages/  # keep what was fetched
//
// Each site gets a homepage fetch, up to three likely contact pages chosen
// from localized link text and fallback paths, and eight extraction layers
// (visible text, raw HTML, mailto links, Cloudflare-protected addresses,
// forms, scripts, attributes, comments). Sites behind a bot wall, or with
// nothing to extract, get a pattern guess such as info@<domain>.
//
// Configuration comes from --config (YAML or TOML), EMAILFINDER_* environment
// variables (EMAILFINDER_RUNNER_CONCURRENCY=8), and flags, in increasing
// precedence. Outcomes are checkpointed to <input>.checkpoint.db by default;
// rerunning the same input resumes where the last run stopped.
//
// With --api-addr set, a small control API is served:
//
//	POST /v1/skip   skip the longest-running site ({"url": ...} to pick one)
//	POST /v1/stop   stop admitting sites, drain, and save
//	GET  /v1/stats  live counters and throttle state
//	GET  /v1/sites  sites in flight, oldest first
//	GET  /metrics   Prometheus metrics
//
// Set api.key to require an X-API-Key header on the /v1 routes.
//
// Admissions pause while host CPU or process RSS exceed throttle.cpu_percent and
// throttle.max_rss_mb, and the concurrency cap drops by one each time.
package main
