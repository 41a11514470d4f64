// Package server exposes the deal knowledge store over HTTP: ingestion,
// querying, reviewer corrections, document and contradiction inspection,
// stats, and parquet export, behind per-client rate limiting.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/harborstone/dealgraph"
	"github.com/harborstone/dealgraph/pkg/config"
	"github.com/harborstone/dealgraph/pkg/server/dto"
	"github.com/harborstone/dealgraph/pkg/server/handlers"
)

// Server is the HTTP front of a dealgraph client.
type Server struct {
	config *config.Config
	client dealgraph.DealGraph
	logger *slog.Logger
	router *gin.Engine
	server *http.Server
}

// New creates a server over client.
func New(cfg *config.Config, client dealgraph.DealGraph, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config: cfg,
		client: client,
		logger: logger,
	}
}

// Setup builds the router, middleware, and routes. Call before Start.
func (s *Server) Setup() {
	if s.config.Server.Mode != "" {
		gin.SetMode(s.config.Server.Mode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(requestLogger(s.logger))
	s.router.Use(corsMiddleware())
	s.router.Use(rateLimitMiddleware(s.config.Server))

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.client)
	ingestHandler := handlers.NewIngestHandler(s.client, s.logger)
	queryHandler := handlers.NewQueryHandler(s.client)
	correctionsHandler := handlers.NewCorrectionsHandler(s.client, s.logger)
	dealsHandler := handlers.NewDealsHandler(s.client)

	// Health endpoints
	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/ready", healthHandler.ReadinessCheck)
	s.router.GET("/live", healthHandler.LivenessCheck)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/ingest", ingestHandler.Ingest)
		v1.POST("/query", queryHandler.Query)

		corrections := v1.Group("/corrections")
		{
			corrections.POST("/merge-entities", correctionsHandler.MergeEntities)
			corrections.POST("/invalidate-fact", correctionsHandler.InvalidateFact)
			corrections.POST("/resolve-contradiction", correctionsHandler.ResolveContradiction)
		}

		deals := v1.Group("/deals/:deal_id")
		{
			deals.GET("/documents", dealsHandler.ListDocuments)
			deals.GET("/documents/:document_id", dealsHandler.GetDocument)
			deals.GET("/contradictions", dealsHandler.ListContradictions)
			deals.GET("/stats", dealsHandler.Stats)
			deals.GET("/facts/as-of", queryHandler.ReadAsOf)
			deals.GET("/facts/history", queryHandler.History)
			deals.POST("/export", dealsHandler.Export)
			deals.POST("/recover", ingestHandler.RecoverOrphans)
		}
	}
}

// Start serves until Stop or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully, letting in-flight requests finish
// until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("http server stopping")
	return s.server.Shutdown(ctx)
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client", c.ClientIP())
	}
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// clientLimiters holds one token bucket per client IP.
type clientLimiters struct {
	mu    sync.Mutex
	perIP map[string]*rate.Limiter
	rps   rate.Limit
	burst int
}

func (l *clientLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Crude bound on tracked clients; a reset re-admits everyone at full
	// burst, which is acceptable for this limiter's purpose.
	if len(l.perIP) > 10000 {
		l.perIP = make(map[string]*rate.Limiter)
	}
	lim := l.perIP[ip]
	if lim == nil {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.perIP[ip] = lim
	}
	return lim
}

// rateLimitMiddleware rejects clients exceeding the configured request
// rate with 429. A zero rate disables limiting.
func rateLimitMiddleware(cfg config.ServerConfig) gin.HandlerFunc {
	if cfg.RateLimitRPS <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	limiters := &clientLimiters{
		perIP: make(map[string]*rate.Limiter),
		rps:   rate.Limit(cfg.RateLimitRPS),
		burst: burst,
	}
	return func(c *gin.Context) {
		if !limiters.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.ErrorResponse{
				Error:   "rate_limited",
				Message: "request rate exceeded, slow down",
			})
			return
		}
		c.Next()
	}
}
