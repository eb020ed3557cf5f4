// Package http exposes the learning engine over a JSON REST API built on gin:
// lesson submissions, recommendation lifecycle, progress overview, plus
// health and metrics endpoints for operators.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lingvohub/lingvo-engine/internal/application/command"
	"github.com/lingvohub/lingvo-engine/internal/application/query"
	"github.com/lingvohub/lingvo-engine/internal/interface/http/handlers"
	"github.com/lingvohub/lingvo-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds the context of every API call.
	RequestTimeout time.Duration

	// MaxRequestBytes limits submission bodies.
	MaxRequestBytes int64

	// AllowedOrigins for CORS; "*" allows any.
	AllowedOrigins []string

	// RateLimitPerMinute - requests per minute per IP (0 = disabled).
	RateLimitPerMinute int

	// EnableMetrics exposes GET /metrics.
	EnableMetrics bool

	Auth handlers.AuthConfig
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		RequestTimeout:     10 * time.Second,
		MaxRequestBytes:    1 << 20,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 120,
		EnableMetrics:      true,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Command Handlers (CQRS Write Side)
	SubmitLesson         *command.SubmitLessonHandler
	RecordRecommendation *command.RecordRecommendationHandler

	// Query Handlers (CQRS Read Side)
	ListRecommendations *query.ListRecommendationsHandler
	GetProgress         *query.GetProgressHandler

	// HealthChecker backs /health and /ready.
	HealthChecker handlers.HealthChecker

	// MetricsSources are rendered under their key by GET /metrics.
	MetricsSources map[string]func() any

	Logger *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger

	auth        *handlers.Authenticator
	rateLimiter *handlers.RateLimiter

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config: config,
		deps:   deps,
		engine: gin.New(),
		logger: logger.OrDefault(deps.Logger).With(logger.Component("http")),
		auth:   handlers.NewAuthenticator(config.Auth),
	}
	if s.deps.HealthChecker == nil {
		s.deps.HealthChecker = handlers.NewCompositeHealthChecker("")
	}
	if config.RateLimitPerMinute > 0 {
		s.rateLimiter = handlers.NewRateLimiter(config.RateLimitPerMinute, time.Minute)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              config.Address(),
		Handler:           s.engine,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupMiddleware() {
	s.engine.Use(
		handlers.RequestID(s.logger),
		handlers.Recovery(s.logger),
		handlers.Logging(s.logger),
		handlers.CORS(s.config.AllowedOrigins),
		handlers.SecurityHeaders(),
	)
	if s.rateLimiter != nil {
		s.engine.Use(s.rateLimiter.Middleware())
	}
	s.engine.NoRoute(func(c *gin.Context) {
		handlers.AbortWithError(c, http.StatusNotFound, "not_found", "Route not found")
	})
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)
	s.engine.GET("/live", s.handleLive)
	if s.config.EnableMetrics {
		s.engine.GET("/metrics", s.handleMetrics)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Authenticated Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	v1 := s.engine.Group("/api/v1",
		handlers.Timeout(s.config.RequestTimeout),
		handlers.RequestSizeLimit(s.config.MaxRequestBytes),
		s.auth.Middleware(),
	)
	{
		v1.POST("/lessons/:lessonId/submissions", s.handleSubmitLesson)
		v1.GET("/recommendations", s.handleListRecommendations)
		v1.POST("/recommendations/:id/:transition", s.handleRecordRecommendation)
		v1.GET("/progress", s.handleGetProgress)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	if s.rateLimiter != nil {
		go s.sweepRateLimiter()
	}

	s.logger.Info("starting HTTP server", slog.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

func (s *Server) sweepRateLimiter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		if !s.IsRunning() {
			return
		}
		s.rateLimiter.Sweep()
	}
}
