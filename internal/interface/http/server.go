// Package http implements the REST API of the progression hub on gin.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/alem-hub/progression-hub/internal/application/command"
	"github.com/alem-hub/progression-hub/internal/application/query"
	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr - address to bind (default: ":8080").
	Addr string

	// ReadTimeout - maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout - maximum duration for writing the response.
	WriteTimeout time.Duration

	// IdleTimeout - maximum duration for idle connections.
	IdleTimeout time.Duration

	// AllowedOrigins - allowed origins for CORS. "*" allows any.
	AllowedOrigins []string

	// JWTSecret - HMAC secret for bearer tokens.
	JWTSecret string

	// JWTIssuer - expected "iss" claim.
	JWTIssuer string

	// BaseRulePoints - base used to describe the aura on the progression screen.
	BaseRulePoints float64

	// Version reported by /healthz.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		AllowedOrigins: []string{"*"},
		JWTIssuer:      "progression-hub",
		BaseRulePoints: 1,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// CurveReader returns the current settings and threshold table.
type CurveReader interface {
	Current(ctx context.Context) (progression.Settings, progression.Table, error)
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Query Handlers
	GetProgression *query.GetProgressionHandler

	// Command Handlers
	PurchaseUnlock      *command.PurchaseUnlockHandler
	SetAvatarSettings   *command.SetAvatarSettingsHandler
	ClaimDailyBonus     *command.ClaimDailyBonusHandler
	AwardRulePoints     *command.AwardRulePointsHandler
	UpdateLevelSettings *command.UpdateLevelSettingsHandler
	CatalogItems        *command.CatalogItemHandler

	// Direct reads
	Curve   CurveReader
	Catalog cosmetic.CatalogRepository
	Unlocks cosmetic.UnlockRepository

	// Health Check Dependencies
	Health *HealthChecker

	// Logger
	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	tokens     *TokenIssuer
	engine     *gin.Engine
	httpServer *http.Server
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Health == nil {
		deps.Health = NewHealthChecker(config.Version)
	}
	if config.BaseRulePoints <= 0 {
		config.BaseRulePoints = 1
	}
	if config.JWTIssuer == "" {
		config.JWTIssuer = DefaultConfig().JWTIssuer
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		config: config,
		deps:   deps,
		tokens: NewTokenIssuer(config.JWTSecret, config.JWTIssuer),
		engine: gin.New(),
		logger: deps.Logger.With(logger.Component("http")),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      s.engine,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Tokens returns the issuer bound to the server's secret.
func (s *Server) Tokens() *TokenIssuer {
	return s.tokens
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	r := s.engine
	r.Use(s.recoveryMiddleware(), s.requestIDMiddleware(), s.loggingMiddleware())
	r.Use(cors.New(s.corsConfig()))

	// ─────────────────────────────────────────────────────────────────────────
	// Health
	// ─────────────────────────────────────────────────────────────────────────
	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api/v1")
	api.Use(requireAuth(s.tokens))

	// ─────────────────────────────────────────────────────────────────────────
	// Curve & catalog
	// ─────────────────────────────────────────────────────────────────────────
	api.GET("/levels/thresholds", s.handleGetThresholds)
	api.GET("/catalog/:category", s.handleGetCatalog)

	// ─────────────────────────────────────────────────────────────────────────
	// Student
	// ─────────────────────────────────────────────────────────────────────────
	students := api.Group("/students/:id", requireSelf())
	{
		students.GET("/progression", s.handleGetProgression)
		students.GET("/unlocks", s.handleGetUnlocks)
		students.PATCH("/selection", s.handleSetSelection)
		students.POST("/unlocks", s.handlePurchaseUnlock)
		students.POST("/daily-bonus", s.handleClaimDailyBonus)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Admin
	// ─────────────────────────────────────────────────────────────────────────
	admin := api.Group("", requireAdmin())
	{
		admin.PUT("/admin/levels/settings", s.handleUpdateLevelSettings)
		admin.PUT("/admin/catalog/:category/:key", s.handleUpsertCatalogItem)
		admin.DELETE("/admin/catalog/:category/:key", s.handleDeleteCatalogItem)
		admin.POST("/students/:id/rule-points", s.handleAwardRulePoints)
	}
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID", "Idempotency-Key"}
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	cfg.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	cfg.MaxAge = 24 * time.Hour

	origins := s.config.AllowedOrigins
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

const requestIDKey = "request_id"

// requestIDMiddleware adds a unique request ID to each request and a request
// scoped logger to its context.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		ctx := logger.WithContext(c.Request.Context(), s.logger.WithRequestID(id))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// loggingMiddleware logs all HTTP requests.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("http request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Latency(time.Since(start)),
			logger.String("ip", c.ClientIP()),
			logger.String("request_id", requestID(c)),
		)
	}
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("panic recovered",
					logger.Any("error", p),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", c.Request.URL.Path),
				)
				abortWithError(c, fmt.Errorf("panic: %v", p))
			}
		}()
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
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

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Addr))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
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

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
}

func newMeta() *ResponseMeta {
	return &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1"}
}

// writeJSON writes a success response.
func writeJSON(c *gin.Context, status int, data any) {
	c.JSON(status, JSONResponse{
		Success:   true,
		Data:      data,
		Meta:      newMeta(),
		RequestID: requestID(c),
	})
}

// writeList writes a success response carrying a total count.
func writeList[T any](c *gin.Context, items []T) {
	meta := newMeta()
	meta.TotalCount = len(items)
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, JSONResponse{
		Success:   true,
		Data:      items,
		Meta:      meta,
		RequestID: requestID(c),
	})
}
