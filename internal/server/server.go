// Package server provides the HTTP API for mnemo.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/mnemo/internal/config"
	"github.com/hyperjump/mnemo/internal/metrics"
	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/pkg/utils"
)

// Ingester owns document writes.
type Ingester interface {
	Ingest(ctx context.Context, input *models.DocumentInput) (*models.Document, error)
	Remove(ctx context.Context, id string) error
	Rebuild(ctx context.Context) error
}

// DocumentReader reads stored documents.
type DocumentReader interface {
	Get(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, offset, limit int) ([]*models.Document, error)
}

// Searcher answers hybrid search queries.
type Searcher interface {
	Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error)
}

// Router resolves queries through the routing cascade.
type Router interface {
	Route(ctx context.Context, q *models.RouteQuery) (*models.RoutingDecision, error)
}

// OutcomeRecorder accepts judgements on past routing decisions.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, decisionID string, success bool) error
}

// StatusReporter summarizes engine state.
type StatusReporter interface {
	Status(ctx context.Context) (*models.Status, error)
}

// Deps are the services the API exposes. Feedback and Status may be nil.
type Deps struct {
	Ingester  Ingester
	Documents DocumentReader
	Searcher  Searcher
	Router    Router
	Feedback  OutcomeRecorder
	Status    StatusReporter
}

// Server is the HTTP server for the mnemo API.
type Server struct {
	deps    Deps
	cfg     config.ServerConfig
	metrics config.MetricsConfig
	logger  *zap.Logger
	server  *http.Server
}

// New creates a server with the given dependencies.
func New(deps Deps, cfg config.ServerConfig, metricsCfg config.MetricsConfig, logger *zap.Logger) *Server {
	return &Server{
		deps:    deps,
		cfg:     cfg,
		metrics: metricsCfg,
		logger:  utils.OrNop(logger),
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(jsonRecoverer(s.logger))
	r.Use(metrics.Middleware())
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	if s.metrics.Enabled {
		r.Handle(s.metrics.Path, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", s.handleIngest)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Post("/search", s.handleSearch)
		r.Post("/route", s.handleRoute)
		r.Post("/feedback", s.handleFeedback)
		r.Post("/index/rebuild", s.handleRebuild)
		r.Get("/status", s.handleStatus)
	})
	return r
}

// Start serves until Stop is called. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
