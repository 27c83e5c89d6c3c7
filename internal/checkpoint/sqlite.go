package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

const defaultSQLiteDSN = "emailfinder-checkpoint.db"

// SQLiteStore keeps outcomes in a local SQLite file.
type SQLiteStore struct {
	db     *sqlx.DB
	table  string
	upsert string
	load   string
}

// NewSQLiteStore opens (creating if needed) the database at dsn and ensures
// the outcome table exists.
func NewSQLiteStore(ctx context.Context, dsn, table string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = defaultSQLiteDSN
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite checkpoint: %w", err)
	}
	// One writer; also keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStoreWithDB(db, table)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return s, nil
}

// NewSQLiteStoreWithDB wraps an existing handle (primarily for testing).
// It does not create the table.
func NewSQLiteStoreWithDB(db *sqlx.DB, table string) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{
		db:    db,
		table: table,
		upsert: fmt.Sprintf(`
INSERT INTO %[1]s (
	sheet, row_num, url, kind, email, source, error_kind, detail,
	attempts, started_ns, finished_ns, elapsed_ms
) VALUES (
	:sheet, :row_num, :url, :kind, :email, :source, :error_kind, :detail,
	:attempts, :started_ns, :finished_ns, :elapsed_ms
)
ON CONFLICT (sheet, row_num) DO UPDATE SET
	url = excluded.url,
	kind = excluded.kind,
	email = excluded.email,
	source = excluded.source,
	error_kind = excluded.error_kind,
	detail = excluded.detail,
	attempts = excluded.attempts,
	started_ns = excluded.started_ns,
	finished_ns = excluded.finished_ns,
	elapsed_ms = excluded.elapsed_ms
WHERE excluded.finished_ns >= %[1]s.finished_ns`, table),
		load: fmt.Sprintf(`
SELECT sheet, row_num, url, kind, email, source, error_kind, detail,
	attempts, started_ns, finished_ns, elapsed_ms
FROM %s
ORDER BY sheet, row_num`, table),
	}, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	sheet       TEXT    NOT NULL,
	row_num     INTEGER NOT NULL,
	url         TEXT    NOT NULL,
	kind        TEXT    NOT NULL,
	email       TEXT    NOT NULL DEFAULT '',
	source      TEXT    NOT NULL DEFAULT '',
	error_kind  TEXT    NOT NULL DEFAULT '',
	detail      TEXT    NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 0,
	started_ns  INTEGER NOT NULL DEFAULT 0,
	finished_ns INTEGER NOT NULL DEFAULT 0,
	elapsed_ms  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (sheet, row_num)
)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

// Upsert implements crawler.CheckpointStore. The batch is written in one
// transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, outcomes []crawler.Outcome) (err error) {
	if len(outcomes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()
	for _, o := range outcomes {
		if _, err = tx.NamedExecContext(ctx, s.upsert, toRow(o)); err != nil {
			return fmt.Errorf("upsert outcome %s: %w", o.Key, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint tx: %w", err)
	}
	return nil
}

// Load implements crawler.CheckpointStore.
func (s *SQLiteStore) Load(ctx context.Context) ([]crawler.Outcome, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, s.load); err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	out := make([]crawler.Outcome, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.outcome())
	}
	return out, nil
}

// Close implements crawler.CheckpointStore.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite checkpoint: %w", err)
	}
	return nil
}
