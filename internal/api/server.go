// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/trail-importer/internal/job"
	"github.com/trail-importer/internal/logging"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/types"
)

// Service interfaces for dependency injection and testing

// ImportServiceInterface defines the import operations exposed over HTTP
type ImportServiceInterface interface {
	StartImport(ctx context.Context, cfg models.ImportConfig) (*job.StartImportResult, error)
	GetJobStatus(ctx context.Context, jobID string) (*models.ImportJob, error)
	Cancel(ctx context.Context, jobID string) (*job.CancelImportResult, error)
	ListJobs(ctx context.Context, status types.JobStatus, limit int) ([]*models.ImportJob, error)
}

// TrailReader reads stored trails
type TrailReader interface {
	Count(ctx context.Context, filter models.TrailFilter) (int64, error)
	GetByID(ctx context.Context, id string) (*models.PersistedTrail, error)
}

// DuplicateLister lists the duplicates a job rejected
type DuplicateLister interface {
	ListByJob(ctx context.Context, jobID string) ([]*models.DuplicateRecord, error)
}

// SourceCatalog lists the sources an import can use
type SourceCatalog interface {
	Types() []types.SourceType
}

// HealthCheck pings one backing service
type HealthCheck func(ctx context.Context) error

// RuntimeStats reports in-process state such as queue depth and breaker states
type RuntimeStats func() map[string]interface{}

// Server represents the HTTP API server.
type Server struct {
	router        *mux.Router
	httpServer    *http.Server
	importService ImportServiceInterface
	trails        TrailReader
	duplicates    DuplicateLister
	sources       SourceCatalog
	checks        map[string]HealthCheck
	runtime       RuntimeStats
	config        *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond int // per client
	Burst             int
}

// NewServer creates a new API server instance. checks may be nil.
func NewServer(
	config *ServerConfig,
	importService ImportServiceInterface,
	trails TrailReader,
	duplicates DuplicateLister,
	sources SourceCatalog,
	checks map[string]HealthCheck,
) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		importService: importService,
		trails:        trails,
		duplicates:    duplicates,
		sources:       sources,
		checks:        checks,
		config:        config,
	}

	s.setupRouter()

	return s
}

// WithRuntimeStats adds fn's output to the health response
func (s *Server) WithRuntimeStats(fn RuntimeStats) *Server {
	s.runtime = fn
	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Import endpoints
	api.HandleFunc("/imports", s.handleStartImport).Methods("POST")
	api.HandleFunc("/imports", s.handleListImports).Methods("GET")
	api.HandleFunc("/imports/{id}", s.handleGetImport).Methods("GET")
	api.HandleFunc("/imports/{id}/cancel", s.handleCancelImport).Methods("POST")
	api.HandleFunc("/imports/{id}/duplicates", s.handleListDuplicates).Methods("GET")

	// Catalog endpoints
	api.HandleFunc("/trails/count", s.handleCountTrails).Methods("GET")
	api.HandleFunc("/trails/{id}", s.handleGetTrail).Methods("GET")
	api.HandleFunc("/sources", s.handleListSources).Methods("GET")
}

// handleHealth reports healthy only when every backing service answers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	services := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			services[name] = "unavailable"
			status = http.StatusServiceUnavailable
			logging.FromContext(ctx).WithError(err).WithField("service", name).Warn("Health check failed")
			continue
		}
		services[name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}
	resp := map[string]interface{}{
		"status":   overall,
		"service":  "trail-importer",
		"services": services,
	}
	if s.runtime != nil {
		resp["runtime"] = s.runtime()
	}
	respondJSON(w, status, resp)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
