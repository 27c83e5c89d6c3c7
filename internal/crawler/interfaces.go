package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves a page. Implementations must honor ctx cancellation and
// release the underlying connection on every exit path.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// Renderer fetches a page through a JavaScript-capable browser.
type Renderer interface {
	Render(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// CheckpointStore persists outcomes. Upsert is keyed by RowKey and must be
// idempotent regardless of the order outcomes arrive in.
type CheckpointStore interface {
	Upsert(ctx context.Context, outcomes []Outcome) error
	Load(ctx context.Context) ([]Outcome, error)
	Close() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher digests page bodies so identical pages are extracted once.
type Hasher interface {
	Hash(data []byte) (string, error)
}
