// Package server exposes the session operations over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/security"
	"github.com/raaihank/pii-sentinel/internal/session"
	"github.com/raaihank/pii-sentinel/internal/websocket"
)

// Version is reported by /info; set at build time by the binary.
var Version = "dev"

// Server represents the HTTP API server
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	sessions  *session.Orchestrator
	limiter   *security.RateLimiter
	wsHub     *websocket.Hub
	router    *mux.Router
	server    *http.Server
	startedAt time.Time
}

// New creates a new server. hub may be nil when the event stream is disabled.
func New(cfg *config.Config, log *logger.Logger, sessions *session.Orchestrator, hub *websocket.Hub) *Server {
	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		sessions:  sessions,
		limiter:   security.NewRateLimiter(cfg.RateLimit),
		wsHub:     hub,
		router:    mux.NewRouter(),
		startedAt: time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, metrics.Handler()).Methods(http.MethodGet)
	}

	if s.wsHub != nil && s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.Use(s.bodyLimitMiddleware)

	api.HandleFunc("/sanitize_input", s.handleSanitize).Methods(http.MethodPost)
	api.HandleFunc("/restore_pii", s.handleRestore).Methods(http.MethodPost)
	api.HandleFunc("/process_with_pii", s.handleProcess).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/mappings", s.handleListMappings).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleClearSession).Methods(http.MethodDelete)
	api.HandleFunc("/mappings", s.handlePurge).Methods(http.MethodDelete)
}

// Handler returns the root handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs background workers and serves HTTP until Stop is called
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting PII Sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.String("store_backend", s.config.Store.Backend),
		zap.Bool("websocket", s.wsHub != nil && s.config.WebSocket.Enabled),
		zap.String("upstream", s.config.Upstream.URL),
	)

	if s.wsHub != nil {
		go s.wsHub.Run(ctx)
	}
	s.limiter.StartCleanupRoutine(ctx)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PII Sentinel server")
	return s.server.Shutdown(ctx)
}
