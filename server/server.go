package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/poiesic/waypoint/core"
	"github.com/poiesic/waypoint/events"
	"github.com/poiesic/waypoint/metrics"
	"github.com/poiesic/waypoint/search"
)

const (
	defaultSearchTimeout   = 90 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	maxBodyBytes           = 1 << 16
)

// Searcher answers queries. *waypoint.Engine satisfies it.
type Searcher interface {
	SearchWithMonitor(ctx context.Context, query string, monitor search.SearchMonitor) ([]core.ScoredResult, error)
}

// Server serves the search, recommend and image-search endpoints.
type Server struct {
	searcher      Searcher
	images        *ImageSearcher
	metrics       *metrics.Metrics
	events        *events.Publisher
	corsOrigin    string
	searchTimeout time.Duration
	logger        *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithImageSearcher enables /api/image-search. Without it the endpoint
// answers 500 as if unconfigured.
func WithImageSearcher(images *ImageSearcher) Option {
	return func(s *Server) {
		s.images = images
	}
}

// WithMetrics records request and search metrics and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithEvents publishes an event for every search.
func WithEvents(p *events.Publisher) Option {
	return func(s *Server) {
		s.events = p
	}
}

// WithCORSOrigin sets the allowed origin. Default is "*".
func WithCORSOrigin(origin string) Option {
	return func(s *Server) {
		s.corsOrigin = origin
	}
}

// WithSearchTimeout bounds each search request.
func WithSearchTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.searchTimeout = d
	}
}

// WithLogger sets the request and error logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server around searcher.
func New(searcher Searcher, opts ...Option) *Server {
	s := &Server{
		searcher:      searcher,
		images:        NewImageSearcher("", ""),
		corsOrigin:    "*",
		searchTimeout: defaultSearchTimeout,
		logger:        slog.Default().With("component", "http"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(recoverer(s.logger))
	r.Use(cors(s.corsOrigin))
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	r.Get("/search/{query}", s.handleSearch)
	r.Post("/api/recommend", s.handleRecommend)
	r.Get("/api/image-search", s.handleImageSearch)
	r.Get("/api/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	return otelhttp.NewHandler(r, "waypoint-api")
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.runSearch(w, r, chi.URLParam(r, "query"))
}

type recommendRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.runSearch(w, r, req.Query)
}

func (s *Server) runSearch(w http.ResponseWriter, r *http.Request, query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		respondDetail(w, http.StatusBadRequest, "query is required")
		return
	}

	ctx := r.Context()
	if s.searchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.searchTimeout)
		defer cancel()
	}

	results, err := s.searcher.SearchWithMonitor(ctx, query, s.monitor(ctx))
	if err != nil {
		status := statusFor(err)
		s.logger.Error("search failed", "query", query, "status", status, "err", err)
		respondDetail(w, status, http.StatusText(status))
		return
	}
	respondJSON(w, http.StatusOK, toResults(results))
}

func (s *Server) monitor(ctx context.Context) search.SearchMonitor {
	var mons search.Monitors
	if s.metrics != nil {
		mons = append(mons, s.metrics.SearchMonitor())
	}
	if s.events != nil {
		mons = append(mons, s.events.SearchMonitor(ctx))
	}
	if len(mons) == 0 {
		return nil
	}
	return mons
}

// statusFor maps pipeline errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUpstreamService), errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type imageResponse struct {
	ImageURL *string `json:"image_url"`
}

func (s *Server) handleImageSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		respondDetail(w, http.StatusUnprocessableEntity, "query is required")
		return
	}
	if s.images == nil || !s.images.Configured() {
		respondJSON(w, http.StatusInternalServerError, upstreamErrorBody{Error: ErrImageSearchNotConfigured.Error()})
		return
	}

	link, err := s.images.Lookup(r.Context(), query)
	if err != nil {
		s.logger.Warn("image search failed", "query", query, "err", err)
		respondJSON(w, http.StatusBadGateway, upstreamErrorBody{Error: "Image search failed", Detail: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, imageResponse{ImageURL: link})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
