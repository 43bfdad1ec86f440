// Package server provides the HTTP API for gramaudit.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/gramaudit/internal/audit"
	"github.com/hyperjump/gramaudit/internal/config"
)

// WatchService manages watched grammar directories. *watcher.Watcher satisfies it.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the gramaudit API.
type Server struct {
	svc    *audit.Service
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server

	watch      WatchService // nil when watching is disabled
	configPath string       // where watch changes are persisted; empty to skip
	appConfig  *config.Config
	appMu      sync.Mutex
}

// NewServer creates a server over svc. watch, configPath and appConfig are optional.
func NewServer(
	svc *audit.Service,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	watch WatchService,
	configPath string,
	appConfig *config.Config,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:        svc,
		config:     cfg,
		logger:     logger,
		watch:      watch,
		configPath: configPath,
		appConfig:  appConfig,
	}
}

// Router builds the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Get("/files", s.handleListFiles)
		r.Post("/files", s.handleIngest)
		r.Get("/files/{id}", s.handleGetFile)
		r.Delete("/files/{id}", s.handleDeleteFile)

		r.Get("/cohorts", s.handleListCohorts)
		r.Get("/cohorts/{id}", s.handleGetCohort)

		r.Get("/taxonomies", s.handleTaxonomies)
		r.Post("/reconcile", s.handleReconcile)
		r.Post("/similar", s.handleSimilar)
		r.Get("/duplicates", s.handleDuplicates)
		r.Post("/projection", s.handleProject)
		r.Get("/points", s.handlePoints)
		r.Post("/labels/search", s.handleLabelSearch)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
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
