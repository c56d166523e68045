package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/waypoint/core"
	"github.com/poiesic/waypoint/metrics"
	"github.com/poiesic/waypoint/search"
)

type stubSearcher struct {
	results []core.ScoredResult
	err     error
	queries []string
	monitor search.SearchMonitor
}

func (s *stubSearcher) SearchWithMonitor(_ context.Context, query string, monitor search.SearchMonitor) ([]core.ScoredResult, error) {
	s.queries = append(s.queries, query)
	s.monitor = monitor
	if monitor != nil {
		monitor.Start(query)
		if s.err != nil {
			monitor.Failed(s.err)
		} else {
			monitor.Finish(s.results)
		}
	}
	return s.results, s.err
}

func sampleResults() []core.ScoredResult {
	return []core.ScoredResult{
		{Record: core.CatalogRecord{Name: "Dún Aonghasa", URL: "https://example.ie/dun", Telephone: "+353 99 61008", Address: "Inis Mór", Tags: "fort,cliffs"}, Score: 0.91},
		{Record: core.CatalogRecord{Name: "Kilronan", Tags: "harbour"}, Score: math.NaN(), Rank: 1},
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSearch(t *testing.T) {
	stub := &stubSearcher{results: sampleResults()}
	h := New(stub).Handler()

	rec := do(t, h, http.MethodGet, "/search/"+url.PathEscape("forts on islands"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{"forts on islands"}, stub.queries)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Dún Aonghasa", got[0]["Name"])
	assert.Equal(t, "https://example.ie/dun", got[0]["Url"])
	assert.Equal(t, "fort,cliffs", got[0]["Tags"])
	assert.InDelta(t, 0.91, got[0]["score"], 1e-9)

	score, ok := got[1]["score"]
	assert.True(t, ok, "score key present")
	assert.Nil(t, score)

	assert.Equal(t, "Kilronan", got[1]["Name"])
	for _, key := range []string{"Url", "Telephone", "Address"} {
		v, ok := got[1][key]
		assert.True(t, ok, "%s key present", key)
		assert.Nil(t, v, "empty %s cell encodes as null", key)
	}
}

func TestSearch_EmptyResults(t *testing.T) {
	h := New(&stubSearcher{results: []core.ScoredResult{}}).Handler()

	rec := do(t, h, http.MethodGet, "/search/nothing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestSearch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"upstream", fmt.Errorf("%w: timeout", core.ErrUpstreamService), http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusBadGateway},
		{"dimension", fmt.Errorf("%w: 3 vs 4", core.ErrDimension), http.StatusInternalServerError},
		{"empty", core.ErrEmptyQuery, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(&stubSearcher{err: tt.err}).Handler()
			rec := do(t, h, http.MethodGet, "/search/lakes", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRecommend(t *testing.T) {
	stub := &stubSearcher{results: sampleResults()}
	h := New(stub).Handler()

	t.Run("ok", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/recommend", `{"query":"  sea stacks "}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "sea stacks", stub.queries[len(stub.queries)-1])
	})

	t.Run("blank query", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/recommend", `{"query":"   "}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"detail":"query is required"}`, rec.Body.String())
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/recommend", `{"query":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealthAndCORS(t *testing.T) {
	h := New(&stubSearcher{}, WithCORSOrigin("https://waypoint.example")).Handler()

	rec := do(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://waypoint.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodOptions, "/api/recommend", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMetricsWiring(t *testing.T) {
	m := metrics.New()
	stub := &stubSearcher{results: sampleResults()}
	h := New(stub, WithMetrics(m)).Handler()

	do(t, h, http.MethodGet, "/search/bogs", "")
	require.NotNil(t, stub.monitor)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `waypoint_searches_total{outcome="ok"} 1`)
	assert.Contains(t, rec.Body.String(), `route="/search/{query}"`)
}

func TestRecoverer(t *testing.T) {
	h := recoverer(New(nil).logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
