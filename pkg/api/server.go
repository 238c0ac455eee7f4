// Package api exposes stack operations over REST. Requests pass through
// identity resolution and an allow-list gate before reaching the handlers,
// which delegate the actual work to a Deployer.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/zalando-incubator/lizzy/internal/version"
	"github.com/zalando-incubator/lizzy/pkg/config"
	"github.com/zalando-incubator/lizzy/pkg/telemetry"
)

// shutdownTimeout bounds graceful shutdown once Start's context is cancelled.
const shutdownTimeout = 10 * time.Second

// Server is the Lizzy HTTP server.
type Server struct {
	cfg        *config.Config
	deployer   Deployer
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server
	stopOnce   sync.Once
}

// NewServer assembles the router and middleware chain. A nil metrics
// disables the /metrics endpoint and per-request instrumentation; a nil
// logger falls back to slog.Default.
func NewServer(cfg *config.Config, deployer Deployer, metrics *telemetry.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		deployer: deployer,
		metrics:  metrics,
		logger:   logger,
	}
	s.handler = s.buildRouter()
	return s
}

// Handler returns the fully assembled HTTP handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildRouter() http.Handler {
	auth := NewAuthenticator(s.cfg.Security.TokenInfoURL, s.logger)
	gate := NewAccessGate(s.cfg.Security.AllowedUsers, s.logger)

	r := chi.NewRouter()
	r.Use(RequestID)
	if s.metrics != nil {
		r.Use(s.metrics.MetricsMiddleware)
	}
	r.Use(RequestLogger(s.logger))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(auth.Wrap)
		api.Use(gate.Wrap)

		api.Get("/stacks", s.handleListStacks)
		api.Post("/stacks", s.handleCreateStack)
		api.Post("/stacks/render", s.handleRenderDefinition)
		api.Get("/stacks/{stackName}/{stackVersion}", s.handleGetStack)
		api.Patch("/stacks/{stackName}/{stackVersion}", s.handlePatchStack)
		api.Delete("/stacks/{stackName}/{stackVersion}", s.handleDeleteStack)
		api.Get("/domains", s.handleListDomains)
	})

	return otelhttp.NewHandler(r, "lizzy")
}

// Start runs the HTTP server until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting Lizzy API", "listen_address", s.cfg.Server.ListenAddress)

	// Senza runs synchronously inside handlers and a create can take
	// minutes, so the write timeout has to outlast CloudFormation.
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.ListenAddress,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      15 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		return s.Stop(context.Background())
	}
}

// Stop gracefully drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping Lizzy API")

		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if stopErr := s.httpServer.Shutdown(shutdownCtx); stopErr != nil {
				s.logger.Error("Failed to shut down HTTP server", "error", stopErr)
				err = stopErr
			}
		}
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version.Version,
	})
}
