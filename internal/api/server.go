package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feedback"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/routing"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(
	cfg domain.ServerConfig,
	repo domain.Repository,
	cache domain.Cache,
	pipe *pipeline.Pipeline,
	reg *registry.Registry,
	router *routing.Engine,
	store *feedback.Store,
	version string,
) *Server {
	handler := NewHandler(repo, cache, pipe, reg, router, store, version)
	mux := chi.NewRouter()

	// Global middleware stack
	mux.Use(CORSMiddleware)         // CORS for browser clients
	mux.Use(RecoverMiddleware)      // Recover from panics
	mux.Use(TracingMiddleware)      // OpenTelemetry tracing
	mux.Use(LoggingMiddleware)      // Request logging
	mux.Use(middleware.RealIP)      // Extract real IP
	mux.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	mux.Get("/health", handler.Health)
	mux.Get("/ready", handler.Ready)

	// API routes (tenant required)
	mux.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Batch lifecycle
		r.Post("/batches", handler.IngestBatch)
		r.Get("/batches", handler.ListBatches)
		r.Get("/batches/{id}", handler.GetBatch)
		r.Post("/batches/{id}/anonymize", handler.AnonymizeBatch)
		r.Post("/batches/{id}/verify", handler.VerifyBatch)
		r.Post("/batches/{id}/score", handler.ScoreBatch)
		r.Get("/batches/{id}/cases", handler.ListBatchCases)

		// Case retrieval
		r.Get("/cases/pending", handler.ListPendingReview)
		r.Get("/cases/{id}", handler.GetCase)
		r.Get("/cases/{id}/assessment", handler.GetAssessment)
		r.Get("/cases/{id}/reviews", handler.ListCaseReviews)

		// Reviewer feedback
		r.Get("/feedback", handler.ListFeedback)
		r.Put("/feedback", handler.SaveFeedback)
		r.Get("/feedback/table", handler.BuildFeedbackTable)
		r.Post("/reviews", handler.LogReview)

		// Model lifecycle
		r.Post("/train", handler.Train)
		r.Get("/models", handler.ListModels)
		r.Post("/models/promote", handler.Promote)
		r.Get("/models/promotion", handler.PromotionMeta)

		// Routing rule management
		r.Get("/routing/rules", handler.ListRoutingRules)
		r.Post("/routing/rules", handler.CreateRoutingRule)
		r.Delete("/routing/rules/{id}", handler.DeleteRoutingRule)
		r.Post("/routing/rules/reload", handler.ReloadRoutingRules)
	})

	return &Server{
		router:  mux,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
