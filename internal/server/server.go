// Package server provides the HTTP API for Omokage.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/okabe/omokage/internal/config"
	"github.com/okabe/omokage/internal/search"
	"github.com/okabe/omokage/internal/store"
)

// Version is the API version reported by the root endpoint.
const Version = "1.0"

// Server is the HTTP server for the Omokage API.
type Server struct {
	orchestrator *search.Orchestrator
	store        store.Store
	config       *config.Config
	logger       *zap.Logger
	server       *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	orchestrator *search.Orchestrator,
	recordStore store.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		orchestrator: orchestrator,
		store:        recordStore,
		config:       cfg,
		logger:       logger,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))
	if s.config.Server.AllowedOrigin != "" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{s.config.Server.AllowedOrigin},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}))
	}

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/api/ping", s.handlePing)
	r.Post("/api/search", s.handleSearch)
	r.Post("/api/search-by-file", s.handleSearchByFile)
	r.Post("/api/search-by-url", s.handleSearchByURL)
	r.Post("/api/upload-image", s.handleUploadImage)
	r.Get("/api/products/{id}", s.handleGetProduct)
	r.Delete("/api/products/{id}", s.handleDeleteProduct)
	r.Get("/api/status", s.handleStatus)

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
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
