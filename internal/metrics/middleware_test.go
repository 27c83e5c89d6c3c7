package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsControlRoutes(t *testing.T) {
	Init()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/v1/skip", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	r.Get("/v1/stats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	conflictBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "409"))
	missingBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404"))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/v1/stats", nil),
		httptest.NewRequest(http.MethodPost, "/v1/skip", strings.NewReader(`{}`)),
		httptest.NewRequest(http.MethodGet, "/v1/nope", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Equal(t, okBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200")),
		"a handler that never calls WriteHeader counts as 200")
	require.Equal(t, conflictBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "409")))
	require.Equal(t, missingBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404")))

	require.GreaterOrEqual(t, testutil.CollectAndCount(httpRequestDurationSeconds), 3,
		"stats, skip, and the unmatched route each get a latency series")
}

func TestRouteOfOutsideRouter(t *testing.T) {
	t.Parallel()

	require.Equal(t, unmatchedRoute, routeOf(httptest.NewRequest(http.MethodGet, "/anything", nil)))
}
