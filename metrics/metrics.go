// Package metrics exposes Prometheus metrics for searches and HTTP traffic.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/poiesic/waypoint/core"
	"github.com/poiesic/waypoint/search"
)

const namespace = "waypoint"

// LLMBuckets covers query latencies dominated by expansion calls,
// from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	SearchesTotal      *prometheus.CounterVec
	SearchDuration     prometheus.Histogram
	CandidatesPerQuery prometheus.Histogram
	ResultsPerQuery    prometheus.Histogram
	CandidateMatches   prometheus.Histogram
	CacheLookups       *prometheus.CounterVec
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

// New creates and registers every collector, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "searches_total",
				Help:      "Searches by outcome",
			},
			[]string{"outcome"},
		),
		SearchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_duration_seconds",
				Help:      "End-to-end search duration",
				Buckets:   LLMBuckets,
			},
		),
		CandidatesPerQuery: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "expansion_candidates",
				Help:      "Candidates produced by query expansion",
				Buckets:   prometheus.LinearBuckets(0, 1, 11),
			},
		),
		ResultsPerQuery: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_results",
				Help:      "Results returned per search",
				Buckets:   prometheus.LinearBuckets(0, 5, 11),
			},
		),
		CandidateMatches: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "candidate_matches",
				Help:      "Index matches per candidate",
				Buckets:   prometheus.LinearBuckets(0, 1, 11),
			},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_cache_lookups_total",
				Help:      "Query embedding cache lookups",
			},
			[]string{"result"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   LLMBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SearchesTotal,
		m.SearchDuration,
		m.CandidatesPerQuery,
		m.ResultsPerQuery,
		m.CandidateMatches,
		m.CacheLookups,
		m.RequestsTotal,
		m.RequestDuration,
	)
	return m
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Outcome classifies a search error into a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrEmptyQuery):
		return "invalid_query"
	case errors.Is(err, core.ErrUpstreamService):
		return "upstream_error"
	case errors.Is(err, core.ErrDimension):
		return "dimension_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

// SearchMonitor returns a monitor for one search call.
func (m *Metrics) SearchMonitor() search.SearchMonitor {
	return &searchMonitor{metrics: m}
}

type searchMonitor struct {
	metrics *Metrics
	mu      sync.Mutex
	start   time.Time
}

var _ search.SearchMonitor = (*searchMonitor)(nil)

func (s *searchMonitor) Start(_ string) {
	s.mu.Lock()
	s.start = time.Now()
	s.mu.Unlock()
}

func (s *searchMonitor) AfterExpansion(candidates []core.Candidate) {
	s.metrics.CandidatesPerQuery.Observe(float64(len(candidates)))
}

func (s *searchMonitor) EmbeddingCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	s.metrics.CacheLookups.WithLabelValues(result).Inc()
}

func (s *searchMonitor) AfterCandidateSearch(_ int, _ core.Candidate, matches []core.Match) {
	s.metrics.CandidateMatches.Observe(float64(len(matches)))
}

func (s *searchMonitor) Finish(results []core.ScoredResult) {
	s.metrics.ResultsPerQuery.Observe(float64(len(results)))
	s.done(nil)
}

func (s *searchMonitor) Failed(err error) {
	s.done(err)
}

func (s *searchMonitor) done(err error) {
	s.metrics.SearchesTotal.WithLabelValues(Outcome(err)).Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.start.IsZero() {
		s.metrics.SearchDuration.Observe(time.Since(s.start).Seconds())
	}
}
