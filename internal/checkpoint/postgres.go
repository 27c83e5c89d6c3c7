package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

// PostgresConfig controls the Postgres connection pool used for outcomes.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pgPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// PostgresStore keeps outcomes in a shared Postgres table.
type PostgresStore struct {
	pool  pgPool
	table string
}

// NewPostgresStore connects and ensures the outcome table exists.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("checkpoint.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewPostgresStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPostgresStoreWithPool(pool pgPool, table string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the outcome table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	sheet       TEXT        NOT NULL,
	row_num     INTEGER     NOT NULL,
	url         TEXT        NOT NULL,
	kind        TEXT        NOT NULL,
	email       TEXT        NOT NULL DEFAULT '',
	source      TEXT        NOT NULL DEFAULT '',
	error_kind  TEXT        NOT NULL DEFAULT '',
	detail      TEXT        NOT NULL DEFAULT '',
	attempts    INTEGER     NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	elapsed_ms  BIGINT      NOT NULL DEFAULT 0,
	PRIMARY KEY (sheet, row_num)
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

// Upsert implements crawler.CheckpointStore.
func (s *PostgresStore) Upsert(ctx context.Context, outcomes []crawler.Outcome) (err error) {
	if len(outcomes) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (
	sheet, row_num, url, kind, email, source, error_kind, detail,
	attempts, started_at, finished_at, elapsed_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (sheet, row_num) DO UPDATE SET
	url = EXCLUDED.url,
	kind = EXCLUDED.kind,
	email = EXCLUDED.email,
	source = EXCLUDED.source,
	error_kind = EXCLUDED.error_kind,
	detail = EXCLUDED.detail,
	attempts = EXCLUDED.attempts,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at,
	elapsed_ms = EXCLUDED.elapsed_ms
WHERE %[1]s.finished_at IS NULL OR EXCLUDED.finished_at >= %[1]s.finished_at`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback(ctx))
		}
	}()
	for _, o := range outcomes {
		r := toRow(o)
		if _, err = tx.Exec(ctx, query,
			r.Sheet,
			r.RowNum,
			r.URL,
			r.Kind,
			r.Email,
			r.Source,
			r.ErrorKind,
			r.Detail,
			r.Attempts,
			nullableTime(o.StartedAt),
			nullableTime(o.FinishedAt),
			r.ElapsedMS,
		); err != nil {
			return fmt.Errorf("upsert outcome %s: %w", o.Key, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit checkpoint tx: %w", err)
	}
	return nil
}

// Load implements crawler.CheckpointStore.
func (s *PostgresStore) Load(ctx context.Context) ([]crawler.Outcome, error) {
	query := fmt.Sprintf(`
SELECT sheet, row_num, url, kind, email, source, error_kind, detail,
	attempts, started_at, finished_at, elapsed_ms
FROM %s
ORDER BY sheet, row_num`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	defer rows.Close()

	var out []crawler.Outcome
	for rows.Next() {
		var (
			r                 row
			started, finished *time.Time
		)
		if err := rows.Scan(
			&r.Sheet, &r.RowNum, &r.URL, &r.Kind, &r.Email, &r.Source, &r.ErrorKind, &r.Detail,
			&r.Attempts, &started, &finished, &r.ElapsedMS,
		); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		o := r.outcome()
		if started != nil {
			o.StartedAt = started.UTC()
		}
		if finished != nil {
			o.FinishedAt = finished.UTC()
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}
	return out, nil
}

// Close implements crawler.CheckpointStore.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
