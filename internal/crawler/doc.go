// Package crawler defines the core types shared by the site email discovery
// pipeline: tasks, fetch results, candidates, page classifications, outcomes,
// and the collaborator interfaces the orchestrator and runner depend on.
package crawler
