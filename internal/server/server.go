// Package server exposes the redactor and the anonymous token service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/lead-sentinel/internal/config"
	"github.com/raaihank/lead-sentinel/internal/logger"
	"github.com/raaihank/lead-sentinel/internal/metrics"
	"github.com/raaihank/lead-sentinel/internal/privacy"
	"github.com/raaihank/lead-sentinel/internal/tokens"
	"github.com/raaihank/lead-sentinel/internal/websocket"
	"go.uber.org/zap"
)

// Version is reported by /info
const Version = "0.1.0"

// TokenService issues anonymous tokens and files sanitized messages
type TokenService interface {
	GetOrCreate(ctx context.Context, leadID string) (string, bool, error)
	StoreMessage(ctx context.Context, msg tokens.Message) error
	Health(ctx context.Context) tokens.Health
	Stats(ctx context.Context) (*tokens.Stats, error)
}

// Server represents the HTTP API server
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	detector *privacy.Detector
	tokens   TokenService
	metrics  *metrics.Metrics
	limiter  *RateLimiter
	router   *mux.Router
	server   *http.Server
	wsHub    *websocket.Hub
	ctx      context.Context
	cancel   context.CancelFunc
	started  time.Time
}

// New creates a new server instance. tokens may be nil, in which case the
// token service routes are not mounted.
func New(cfg *config.Config, log *logger.Logger, m *metrics.Metrics, svc TokenService) (*Server, error) {
	detector, err := privacy.New(cfg.Privacy, log.WithComponent("privacy"))
	if err != nil {
		return nil, fmt.Errorf("failed to create privacy detector: %w", err)
	}

	if m == nil {
		m = metrics.New("sentinel")
	}

	ctx, cancel := context.WithCancel(context.Background())
	server := &Server{
		config:   cfg,
		logger:   log.WithComponent("server"),
		detector: detector,
		tokens:   svc,
		metrics:  m,
		limiter:  NewRateLimiter(cfg.RateLimit),
		router:   mux.NewRouter(),
		wsHub:    websocket.NewHub(cfg.WebSocket, log.WithComponent("websocket").Logger),
		ctx:      ctx,
		cancel:   cancel,
		started:  time.Now(),
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/sanitize", s.handleSanitize).Methods(http.MethodPost)
	api.HandleFunc("/restore", s.handleRestore).Methods(http.MethodPost)

	if s.tokens != nil {
		api.HandleFunc("/tokens/anonymous", s.handleAnonymousToken).Methods(http.MethodPost)
		api.HandleFunc("/messages/sanitized", s.handleSanitizedMessage).Methods(http.MethodPost)
	}
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Detector returns the detector so config reloads can reconfigure it
func (s *Server) Detector() *privacy.Detector {
	return s.detector
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("Starting lead-sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("token_service", s.tokens != nil),
		zap.Bool("websocket", s.config.WebSocket.Enabled),
		zap.Strings("detectors", s.config.Privacy.Detectors),
	)

	if s.config.WebSocket.Enabled {
		go s.wsHub.Run(s.ctx)
	}
	if s.config.RateLimit.Enabled {
		s.limiter.StartCleanupRoutine(s.ctx, 10*time.Minute)
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping lead-sentinel server")
	s.cancel()
	return s.server.Shutdown(ctx)
}
