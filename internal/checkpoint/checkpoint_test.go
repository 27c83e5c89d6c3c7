package checkpoint

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func outcome(sheet string, row int, kind crawler.OutcomeKind, finishedAfter time.Duration) crawler.Outcome {
	o := crawler.Outcome{
		Key:        crawler.RowKey{Sheet: sheet, Row: row},
		URL:        "https://acme.com",
		Kind:       kind,
		Attempts:   1,
		StartedAt:  base,
		FinishedAt: base.Add(finishedAfter),
		Elapsed:    finishedAfter,
	}
	switch kind {
	case crawler.OutcomeFound:
		o.Email = "info@acme.com"
		o.Source = crawler.SourceMailto
	case crawler.OutcomeError:
		o.ErrorKind = crawler.ErrorInterrupted
		o.Detail = "context canceled"
	}
	return o
}

type storeCase struct {
	name string
	open func(t *testing.T) crawler.CheckpointStore
}

func stores() []storeCase {
	return []storeCase{
		{"memory", func(*testing.T) crawler.CheckpointStore { return NewMemory() }},
		{"sqlite", func(t *testing.T) crawler.CheckpointStore {
			s, err := NewSQLiteStore(context.Background(), ":memory:", "")
			require.NoError(t, err)
			return s
		}},
	}
}

func TestStoresUpsertIsIdempotentAndOrderIndependent(t *testing.T) {
	t.Parallel()

	older := outcome("Leads", 2, crawler.OutcomeError, time.Second)
	newer := outcome("Leads", 2, crawler.OutcomeFound, 3*time.Second)
	other := outcome("Leads", 3, crawler.OutcomeNotFound, 2*time.Second)

	for _, tc := range stores() {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s := tc.open(t)
			defer func() { require.NoError(t, s.Close()) }()

			require.NoError(t, s.Upsert(ctx, []crawler.Outcome{newer, other}))
			require.NoError(t, s.Upsert(ctx, []crawler.Outcome{older}))
			require.NoError(t, s.Upsert(ctx, []crawler.Outcome{newer}))
			require.NoError(t, s.Upsert(ctx, nil))

			got, err := s.Load(ctx)
			require.NoError(t, err)
			require.Len(t, got, 2)
			require.Equal(t, newer, got[0])
			require.Equal(t, other, got[1])
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := t.TempDir() + "/checkpoint.db"
	s, err := NewSQLiteStore(ctx, dsn, "outcomes")
	require.NoError(t, err)
	found := outcome("Sheet1", 5, crawler.OutcomeFound, 2*time.Second)
	require.NoError(t, s.Upsert(ctx, []crawler.Outcome{found}))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(ctx, dsn, "outcomes")
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, []crawler.Outcome{found}, got)
}

func TestSQLiteStoreRollsBackFailedBatch(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s, err := NewSQLiteStoreWithDB(sqlx.NewDb(db, "sqlite3"), "")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO site_outcomes")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO site_outcomes")).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = s.Upsert(context.Background(), []crawler.Outcome{
		outcome("Leads", 2, crawler.OutcomeFound, time.Second),
		outcome("Leads", 3, crawler.OutcomeFound, time.Second),
	})
	require.ErrorContains(t, err, "upsert outcome Leads!3")
	require.ErrorContains(t, err, "disk I/O error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStoreRejectsBadTable(t *testing.T) {
	t.Parallel()

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	_, err = NewSQLiteStoreWithDB(sqlx.NewDb(db, "sqlite3"), "outcomes; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewSQLiteStoreWithDB(nil, "")
	require.EqualError(t, err, "db is required")
}

func TestPostgresStoreUpsertsInTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresStoreWithPool(mock, "site_outcomes")
	require.NoError(t, err)

	o := outcome("Leads", 7, crawler.OutcomeFound, 1500*time.Millisecond)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO site_outcomes").
		WithArgs(
			"Leads",
			7,
			o.URL,
			"found",
			"info@acme.com",
			"mailto",
			"",
			"",
			1,
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			int64(1500),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.Upsert(context.Background(), []crawler.Outcome{o}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO site_outcomes").WillReturnError(errors.New("conn reset"))
	mock.ExpectRollback()

	err = s.Upsert(context.Background(), []crawler.Outcome{outcome("Leads", 2, crawler.OutcomeNotFound, time.Second)})
	require.ErrorContains(t, err, "conn reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoad(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresStoreWithPool(mock, "")
	require.NoError(t, err)

	started := base
	finished := base.Add(2 * time.Second)
	mock.ExpectQuery("SELECT sheet, row_num").
		WillReturnRows(pgxmock.NewRows([]string{
			"sheet", "row_num", "url", "kind", "email", "source", "error_kind", "detail",
			"attempts", "started_at", "finished_at", "elapsed_ms",
		}).
			AddRow("Leads", 2, "https://acme.com", "found", "info@acme.com", "mailto", "", "",
				1, &started, &finished, int64(2000)).
			AddRow("Leads", 3, "https://beta.com", "skipped", "", "", "", "manual skip",
				0, nil, nil, int64(0)))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "found(info@acme.com, mailto)", got[0].String())
	require.Equal(t, finished, got[0].FinishedAt)
	require.Equal(t, 2*time.Second, got[0].Elapsed)
	require.Equal(t, crawler.OutcomeSkipped, got[1].Kind)
	require.True(t, got[1].StartedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresStoreWithPool(mock, "outcomes")
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS outcomes").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = NewPostgresStoreWithPool(nil, "")
	require.EqualError(t, err, "pool is required")
}

func TestOpen(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), Config{Driver: "memory"})
	require.NoError(t, err)
	require.IsType(t, &Memory{}, s)

	_, err = Open(context.Background(), Config{Driver: "mongo"})
	require.EqualError(t, err, `unknown checkpoint driver "mongo"`)

	_, err = Open(context.Background(), Config{Driver: "postgres"})
	require.EqualError(t, err, "checkpoint.dsn is required")
}

func TestIndexKeepsLatest(t *testing.T) {
	t.Parallel()

	first := outcome("Leads", 2, crawler.OutcomeError, time.Second)
	second := outcome("Leads", 2, crawler.OutcomeFound, 2*time.Second)
	idx := Index([]crawler.Outcome{second, first})
	require.Len(t, idx, 1)
	require.Equal(t, second, idx[crawler.RowKey{Sheet: "Leads", Row: 2}])
}

func TestMemoryCountsFlushes(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	require.NoError(t, m.Upsert(context.Background(), []crawler.Outcome{outcome("S", 1, crawler.OutcomeNotFound, 0)}))
	require.Equal(t, 1, m.Flushes())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, m.Upsert(ctx, nil))
	require.Equal(t, 1, m.Flushes())
}
