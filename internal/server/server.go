// Package server provides the HTTP API for Miwake.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/miwake/internal/config"
	"github.com/hyperjump/miwake/internal/indexer"
	"github.com/hyperjump/miwake/internal/search"
	"github.com/hyperjump/miwake/internal/snapshot"
)

// Server is the HTTP server for the Miwake API.
type Server struct {
	engine  *search.Engine
	builder *indexer.Builder
	manager *snapshot.Manager
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	builder *indexer.Builder,
	manager *snapshot.Manager,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:  engine,
		builder: builder,
		manager: manager,
		config:  cfg,
		logger:  logger,
	}
}

// routes builds the router. Split from Start so tests can serve requests
// without binding a port.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/search", s.handleSearch)
	r.Post("/api/v1/search/url", s.handleSearchURL)
	r.Get("/api/v1/items", s.handleListItems)
	r.Get("/api/v1/items/search", s.handleSearchItems)
	r.Get("/api/v1/items/{id}", s.handleGetItem)
	r.Get("/api/v1/stats", s.handleStats)
	r.Post("/api/v1/admin/rebuild", s.handleRebuild)
	r.Get("/api/v1/admin/rebuild/{jobID}", s.handleRebuildStatus)
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
