package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
	"github.com/gorkemkurban/email-scraper/internal/progress"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeController{}, Config{}), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeController{}, Config{}), http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	unwired := NewServer(nil, nil, nil, zap.NewNop(), Config{})
	rec = serve(unwired, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_SkipLongestRunning(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	task := ctrl.add(t, "acme.com", 3, time.Unix(90, 0))
	server := newTestServer(ctrl, Config{})

	rec := serve(server, http.MethodPost, "/v1/skip", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, task.SkipRequested())
	var body struct {
		Skipped siteDTO `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "https://acme.com", body.Skipped.URL)
	require.Equal(t, "Leads!3", body.Skipped.Row)
	require.Equal(t, int64(10_000), body.Skipped.RunningMs)
}

func TestServer_SkipByURL(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	first := ctrl.add(t, "acme.com", 2, time.Unix(90, 0))
	second := ctrl.add(t, "beta.com", 3, time.Unix(95, 0))
	server := newTestServer(ctrl, Config{})

	rec := serve(server, http.MethodPost, "/v1/skip", bytes.NewBufferString(`{"url":"https://beta.com/"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, second.SkipRequested())
	require.False(t, first.SkipRequested())

	rec = serve(server, http.MethodPost, "/v1/skip?url=acme.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, first.SkipRequested())
}

func TestServer_SkipErrors(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeController{}, Config{})

	rec := serve(server, http.MethodPost, "/v1/skip", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(server, http.MethodPost, "/v1/skip", bytes.NewBufferString("{invalid"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid JSON")
}

func TestServer_Stop(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{running: true}
	server := newTestServer(ctrl, Config{})

	rec := serve(server, http.MethodPost, "/v1/stop", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, ctrl.stops)

	rec = serve(server, http.MethodPost, "/v1/stop", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_Stats(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{load: progress.Load{Cap: 3, InFlight: 2, CPUPercent: 41.5, Paused: true}}
	stats := &fakeStats{stats: progress.Stats{
		StartedAt:    time.Unix(40, 0),
		FoundScraped: 4,
		FoundPattern: 2,
		NotFound:     1,
		Skipped:      1,
	}}
	server := NewServer(ctrl, stats, &fakeClock{now: time.Unix(100, 0)}, zap.NewNop(), Config{})

	rec := serve(server, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Stats   progress.Stats `json:"stats"`
		Found   int            `json:"found"`
		Settled int            `json:"settled"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 6, body.Found)
	require.Equal(t, 8, body.Settled)
	require.Equal(t, time.Minute, body.Stats.Elapsed)
	require.Equal(t, 2, body.Stats.InFlight)
	require.True(t, body.Stats.Load.Paused)
	require.Equal(t, 3, body.Stats.Load.Cap)
}

func TestServer_ListSitesOrdersByStart(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	ctrl.add(t, "late.com", 4, time.Unix(99, 0))
	ctrl.add(t, "early.com", 2, time.Unix(80, 0))
	server := newTestServer(ctrl, Config{})

	rec := serve(server, http.MethodGet, "/v1/sites", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sites []siteDTO `json:"sites"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sites, 2)
	require.Equal(t, "https://early.com", body.Sites[0].URL)
	require.Equal(t, "https://late.com", body.Sites[1].URL)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeController{running: true}, Config{APIKey: "secret"})

	rec := serve(server, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code, "probes stay open")

	rec = serve(server, http.MethodPost, "/v1/stop", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/stop", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(server, http.MethodGet, "/v1/stats?api_key=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsRoute(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeController{}, Config{}), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(newTestServer(&fakeController{}, Config{MetricsEnabled: true}), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeController{}, Config{})
	rec := serve(server, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeController{}, Config{})
	handler := server.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

// --- helpers/fakes ---

type fakeController struct {
	mu      sync.Mutex
	tasks   []*crawler.SiteTask
	running bool
	stops   int
	load    progress.Load
}

func (c *fakeController) add(t *testing.T, rawURL string, row int, started time.Time) *crawler.SiteTask {
	t.Helper()
	task, err := crawler.NewSiteTask(crawler.RowKey{Sheet: "Leads", Row: row}, rawURL, "")
	require.NoError(t, err)
	task.MarkStarted(started)
	c.mu.Lock()
	c.tasks = append(c.tasks, task)
	c.mu.Unlock()
	return task
}

func (c *fakeController) Skip() (*crawler.SiteTask, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var oldest *crawler.SiteTask
	for _, task := range c.tasks {
		if task.SkipRequested() {
			continue
		}
		if oldest == nil || task.StartedAt().Before(oldest.StartedAt()) {
			oldest = task
		}
	}
	if oldest == nil {
		return nil, false
	}
	oldest.RequestSkip()
	return oldest, true
}

func (c *fakeController) SkipURL(rawURL string) (*crawler.SiteTask, bool) {
	target, err := crawler.NormalizeSiteURL(rawURL)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, task := range c.tasks {
		if task.URL == target {
			task.RequestSkip()
			return task, true
		}
	}
	return nil, false
}

func (c *fakeController) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return false
	}
	c.running = false
	c.stops++
	return true
}

func (c *fakeController) Running() []*crawler.SiteTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*crawler.SiteTask(nil), c.tasks...)
}

func (c *fakeController) Load() progress.Load {
	return c.load
}

type fakeStats struct {
	stats progress.Stats
}

func (f *fakeStats) Snapshot() progress.Stats {
	return f.stats
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func newTestServer(ctrl Controller, cfg Config) *Server {
	return NewServer(ctrl, &fakeStats{}, &fakeClock{now: time.Unix(100, 0)}, zap.NewNop(), cfg)
}

func serve(s *Server, method, target string, body *bytes.Buffer) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}
