// Package checkpoint persists site outcomes so interrupted batches can
// resume. Every store upserts by row key and keeps the outcome that finished
// last, so flush order does not matter.
package checkpoint

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

const defaultTable = "site_outcomes"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config selects and configures a store.
type Config struct {
	Driver string
	DSN    string
	Table  string
}

// Open builds the store named by cfg.Driver: "memory", "sqlite", or "postgres".
func Open(ctx context.Context, cfg Config) (crawler.CheckpointStore, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "":
		return NewSQLiteStore(ctx, cfg.DSN, cfg.Table)
	case "postgres":
		return NewPostgresStore(ctx, PostgresConfig{DSN: cfg.DSN, Table: cfg.Table})
	default:
		return nil, fmt.Errorf("unknown checkpoint driver %q", cfg.Driver)
	}
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Index keys outcomes by row for resume lookups.
func Index(outcomes []crawler.Outcome) map[crawler.RowKey]crawler.Outcome {
	out := make(map[crawler.RowKey]crawler.Outcome, len(outcomes))
	for _, o := range outcomes {
		if prev, ok := out[o.Key]; ok && newer(prev, o) {
			continue
		}
		out[o.Key] = o
	}
	return out
}

// newer reports whether a finished strictly after b.
func newer(a, b crawler.Outcome) bool {
	return a.FinishedAt.After(b.FinishedAt)
}

func sortOutcomes(outcomes []crawler.Outcome) {
	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].Key.Sheet != outcomes[j].Key.Sheet {
			return outcomes[i].Key.Sheet < outcomes[j].Key.Sheet
		}
		return outcomes[i].Key.Row < outcomes[j].Key.Row
	})
}

// Memory keeps outcomes in process. It is the store used when no
// persistence is configured and in tests.
type Memory struct {
	mu      sync.Mutex
	rows    map[crawler.RowKey]crawler.Outcome
	upserts int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[crawler.RowKey]crawler.Outcome)}
}

// Upsert implements crawler.CheckpointStore.
func (m *Memory) Upsert(ctx context.Context, outcomes []crawler.Outcome) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("upsert outcomes: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range outcomes {
		if prev, ok := m.rows[o.Key]; ok && newer(prev, o) {
			continue
		}
		m.rows[o.Key] = o
	}
	m.upserts++
	return nil
}

// Load implements crawler.CheckpointStore.
func (m *Memory) Load(context.Context) ([]crawler.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]crawler.Outcome, 0, len(m.rows))
	for _, o := range m.rows {
		out = append(out, o)
	}
	sortOutcomes(out)
	return out, nil
}

// Flushes returns how many Upsert calls were applied.
func (m *Memory) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

// Close implements crawler.CheckpointStore.
func (m *Memory) Close() error {
	return nil
}

// row is the flattened persistent form shared by the SQL stores.
type row struct {
	Sheet      string `db:"sheet"`
	RowNum     int    `db:"row_num"`
	URL        string `db:"url"`
	Kind       string `db:"kind"`
	Email      string `db:"email"`
	Source     string `db:"source"`
	ErrorKind  string `db:"error_kind"`
	Detail     string `db:"detail"`
	Attempts   int    `db:"attempts"`
	StartedNS  int64  `db:"started_ns"`
	FinishedNS int64  `db:"finished_ns"`
	ElapsedMS  int64  `db:"elapsed_ms"`
}

func toRow(o crawler.Outcome) row {
	return row{
		Sheet:      o.Key.Sheet,
		RowNum:     o.Key.Row,
		URL:        o.URL,
		Kind:       string(o.Kind),
		Email:      o.Email,
		Source:     string(o.Source),
		ErrorKind:  string(o.ErrorKind),
		Detail:     o.Detail,
		Attempts:   o.Attempts,
		StartedNS:  unixNano(o.StartedAt),
		FinishedNS: unixNano(o.FinishedAt),
		ElapsedMS:  o.Elapsed.Milliseconds(),
	}
}

func (r row) outcome() crawler.Outcome {
	return crawler.Outcome{
		Key:        crawler.RowKey{Sheet: r.Sheet, Row: r.RowNum},
		URL:        r.URL,
		Kind:       crawler.OutcomeKind(r.Kind),
		Email:      r.Email,
		Source:     crawler.Source(r.Source),
		ErrorKind:  crawler.ErrorKind(r.ErrorKind),
		Detail:     r.Detail,
		Attempts:   r.Attempts,
		StartedAt:  fromUnixNano(r.StartedNS),
		FinishedAt: fromUnixNano(r.FinishedNS),
		Elapsed:    time.Duration(r.ElapsedMS) * time.Millisecond,
	}
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
