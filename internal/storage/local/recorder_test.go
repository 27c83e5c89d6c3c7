package local_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/storage/local"
)

type stubFetcher struct {
	res crawler.FetchResult
	err error
}

func (s stubFetcher) Fetch(context.Context, crawler.FetchRequest) (crawler.FetchResult, error) {
	return s.res, s.err
}

func TestSnapshotName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want string
	}{
		{"https://acme.com/", "acme.com/001-index.html"},
		{"https://Acme.com/fr/Contact-Us?x=1", "acme.com/001-fr_contact-us.html"},
		{"http://127.0.0.1:8080/a%20b", "127.0.0.1_8080/001-a_20b.html"},
		{"::not a url", "unknown/001-index.html"},
	}
	for _, tt := range tests {
		if got := local.SnapshotName(1, tt.url); got != tt.want {
			t.Errorf("SnapshotName(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestRecorderSavesBodiesInOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	home := stubFetcher{res: crawler.FetchResult{URL: "https://acme.com/", StatusCode: http.StatusOK, Body: []byte("home")}}
	rec := local.NewRecorder(home, store, nil)
	res, err := rec.Fetch(context.Background(), crawler.FetchRequest{URL: "https://acme.com"})
	require.NoError(t, err)
	require.Equal(t, "home", string(res.Body))

	rec2 := local.NewRecorder(stubFetcher{
		res: crawler.FetchResult{StatusCode: http.StatusNotFound, Body: []byte("gone")},
		err: errors.New("boom"),
	}, store, nil)
	_, err = rec2.Fetch(context.Background(), crawler.FetchRequest{URL: "https://acme.com/contact"})
	require.EqualError(t, err, "boom", "fetch errors pass through")

	// #nosec G304 -- test reads from the controlled temp directory.
	got, err := os.ReadFile(filepath.Join(dir, "acme.com", "001-index.html"))
	require.NoError(t, err)
	require.Equal(t, "home", string(got))
	got, err = os.ReadFile(filepath.Join(dir, "acme.com", "001-contact.html"))
	require.NoError(t, err)
	require.Equal(t, "gone", string(got))
}

func TestRecorderSkipsEmptyBodiesAndLogsFailures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	core, logs := observer.New(zap.WarnLevel)

	empty := local.NewRecorder(stubFetcher{err: errors.New("dial")}, store, zap.New(core))
	_, err = empty.Fetch(context.Background(), crawler.FetchRequest{URL: "https://acme.com"})
	require.Error(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)

	// A file where the host directory should be makes the write fail.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocked.example"), nil, 0o600))
	blocked := local.NewRecorder(stubFetcher{
		res: crawler.FetchResult{URL: "https://blocked.example/", Body: []byte("x")},
	}, store, zap.New(core))
	res, err := blocked.Fetch(context.Background(), crawler.FetchRequest{URL: "https://blocked.example"})
	require.NoError(t, err)
	require.Equal(t, "x", string(res.Body))
	require.Equal(t, 1, logs.FilterMessage("page snapshot failed").Len())
}
