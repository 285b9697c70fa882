// Package server provides the HTTP API for DeptKB.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/deptkb/deptkb/internal/config"
	"github.com/deptkb/deptkb/internal/metastore"
	"github.com/deptkb/deptkb/internal/pipeline"
	"github.com/deptkb/deptkb/internal/rawstore"
	"github.com/deptkb/deptkb/internal/retrieval"
)

// Server is the HTTP server for the DeptKB API.
type Server struct {
	coord  *pipeline.Coordinator
	engine *retrieval.Engine
	store  metastore.Store
	raw    rawstore.Store
	config *config.Config
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	coord *pipeline.Coordinator,
	engine *retrieval.Engine,
	store metastore.Store,
	raw rawstore.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		coord:  coord,
		engine: engine,
		store:  store,
		raw:    raw,
		config: cfg,
		logger: logger,
	}
}

// Router builds the chi router with all API routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/tenants/{tenant_id}/files", s.handleUpload)
	r.Post("/api/v1/tenants/{tenant_id}/retrieve", s.handleRetrieve)
	r.Get("/api/v1/files/{file_id}/status", s.handleFileStatus)
	r.Post("/api/v1/files/{file_id}/reindex", s.handleReindex)
	r.Delete("/api/v1/files/{file_id}", s.handleDeleteFile)
	r.Get("/api/v1/stats", s.handleStats)
	r.Get("/api/v1/deadletters", s.handleDeadLetters)
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
