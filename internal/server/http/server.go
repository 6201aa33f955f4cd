// Package httpserver provides the HTTP API of the clinical-trial extractor.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
	"github.com/helixir/clinical-trial-extractor/internal/extraction"
	"github.com/helixir/clinical-trial-extractor/internal/observability"
	"github.com/helixir/clinical-trial-extractor/internal/outbox"
	"github.com/helixir/clinical-trial-extractor/internal/repository"
)

// PubMedClient is the subset of *pubmed.Client used by the handlers.
type PubMedClient interface {
	Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error)
	FetchAbstract(ctx context.Context, externalID string) (*domain.AbstractRecord, error)
	FetchArticle(ctx context.Context, externalID string) (*domain.ArticleDetail, error)
}

// Extractor turns an abstract into a clinical-trial record. *extraction.Service implements it.
type Extractor interface {
	Extract(ctx context.Context, in extraction.Input) (*domain.Article, error)
	Model() string
}

// SaveFunc stores a record by PMCID and reports whether it was created.
type SaveFunc func(ctx context.Context, article *domain.Article) (*domain.Article, bool, error)

// ReadinessFunc reports whether the record store can serve requests.
type ReadinessFunc func(ctx context.Context) error

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	pubmed     PubMedClient
	extractor  Extractor
	articles   repository.ArticleRepository
	save       SaveFunc
	ready      ReadinessFunc
	notifier   *outbox.Notifier
	metrics    *observability.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// Config holds HTTP server configuration.
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger.With().Str("component", "http-server").Logger() }
}

// WithMetrics records request and save metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithNotifier publishes article events after saves and extractions.
func WithNotifier(n *outbox.Notifier) Option {
	return func(s *Server) { s.notifier = n }
}

// WithSaveFunc replaces the default repository.Upsert save path, e.g. with a
// transactional upsert for PostgreSQL.
func WithSaveFunc(fn SaveFunc) Option {
	return func(s *Server) { s.save = fn }
}

// WithReadinessCheck sets the check behind /readyz.
func WithReadinessCheck(fn ReadinessFunc) Option {
	return func(s *Server) { s.ready = fn }
}

// WithClock overrides the clock used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(cfg Config, pubmed PubMedClient, extractor Extractor, articles repository.ArticleRepository, opts ...Option) *Server {
	s := &Server{
		pubmed:    pubmed,
		extractor: extractor,
		articles:  articles,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	s.save = func(ctx context.Context, article *domain.Article) (*domain.Article, bool, error) {
		return repository.Upsert(ctx, s.articles, article)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestContextMiddleware)
	r.Use(s.accessLogMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/search", s.searchArticles)
		r.Get("/article/{id}", s.getArticle)
		r.Post("/articles", s.saveArticle)
		r.Get("/articles", s.listArticles)
		r.Get("/abstract/{id}", s.getAbstract)
		r.Post("/extract", s.extractArticle)
		r.Get("/export/{id}", s.exportArticle)
		r.Get("/report/{id}", s.reportArticle)
	})

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports whether the record store is reachable.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"store":  "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"store":  "healthy",
	})
}
