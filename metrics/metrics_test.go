package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/waypoint/core"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{core.ErrEmptyQuery, "invalid_query"},
		{fmt.Errorf("%w: timeout", core.ErrUpstreamService), "upstream_error"},
		{fmt.Errorf("%w: 3 vs 4", core.ErrDimension), "dimension_error"},
		{context.Canceled, "cancelled"},
		{io.ErrUnexpectedEOF, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(tt.err))
		})
	}
}

func TestSearchMonitor(t *testing.T) {
	m := New()

	mon := m.SearchMonitor()
	mon.Start("castles")
	mon.AfterExpansion([]core.Candidate{{Location: "Blarney", Reason: "castle"}})
	mon.EmbeddingCacheLookup(true)
	mon.EmbeddingCacheLookup(false)
	mon.AfterCandidateSearch(0, core.Candidate{}, make([]core.Match, 5))
	mon.Finish(make([]core.ScoredResult, 5))

	failed := m.SearchMonitor()
	failed.Start("castles")
	failed.Failed(fmt.Errorf("%w: boom", core.ErrUpstreamService))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchesTotal.WithLabelValues("upstream_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.CandidatesPerQuery))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SearchDuration))
}

func TestMiddleware(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/search/{query}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	for _, path := range []string{"/search/cliffs", "/search/lakes", "/broken"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/search/{query}", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/broken", "5xx")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.SearchesTotal.WithLabelValues("ok").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `waypoint_searches_total{outcome="ok"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
