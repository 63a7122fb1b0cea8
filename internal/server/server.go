// Package server provides the HTTP API for Kensaku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/indexer"
	"github.com/hyperjump/kensaku/internal/search"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/syncer"
)

// Server is the HTTP server for the Kensaku API.
type Server struct {
	engine      *search.Engine
	indexer     *indexer.Indexer
	store       storage.Store
	coordinator *syncer.Coordinator
	config      *config.Config
	logger      *zap.Logger
	server      *http.Server
}

// NewServer creates a server with the given dependencies. coordinator may be
// nil when sync is not enabled; the sync endpoints then return 501.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	store storage.Store,
	coordinator *syncer.Coordinator,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:      engine,
		indexer:     idx,
		store:       store,
		coordinator: coordinator,
		config:      cfg,
		logger:      logger,
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/search", s.handleSearch)
	r.Get("/api/v1/suggest", s.handleSuggest)
	r.Post("/api/v1/documents", s.handleIndexDocument)
	r.Get("/api/v1/documents/{id}", s.handleGetDocument)
	r.Delete("/api/v1/documents/{id}", s.handleDeleteDocument)
	r.Get("/api/v1/analytics", s.handleAnalytics)
	r.Get("/api/v1/sync/status", s.handleSyncStatus)
	r.Post("/api/v1/sync/{provider}/{kind}", s.handleForceSync)
	r.Post("/api/v1/sync/{provider}/{kind}/reset", s.handleSyncReset)
	r.Post("/api/v1/notify", s.handleNotify)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
