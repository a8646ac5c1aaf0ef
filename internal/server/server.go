// Package server sets up the HTTP server with all routes.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/vigilhq/vigil/internal/assessor"
	"github.com/vigilhq/vigil/internal/compliance"
	"github.com/vigilhq/vigil/internal/config"
	"github.com/vigilhq/vigil/internal/health"
	"github.com/vigilhq/vigil/internal/idgen"
	"github.com/vigilhq/vigil/internal/investigator"
	"github.com/vigilhq/vigil/internal/logging"
	"github.com/vigilhq/vigil/internal/metrics"
	"github.com/vigilhq/vigil/internal/ratelimit"
	"github.com/vigilhq/vigil/internal/realtime"
	"github.com/vigilhq/vigil/internal/reasoning"
	"github.com/vigilhq/vigil/internal/security"
	"github.com/vigilhq/vigil/internal/transaction"
	"github.com/vigilhq/vigil/internal/validation"
	"github.com/vigilhq/vigil/internal/workflow"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies.
type Server struct {
	cfg         *config.Config
	store       transaction.Store
	generator   *transaction.Generator
	engine      *workflow.Engine
	runLog      *workflow.RunLog
	reviewer    *compliance.Reviewer
	realtimeHub *realtime.Hub
	healthReg   *health.Registry
	rateLimiter *ratelimit.Limiter

	reasoningClient reasoning.Client

	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	cancelRun   context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithReasoningClient injects a reasoning client (for testing).
func WithReasoningClient(client reasoning.Client) Option {
	return func(s *Server) {
		s.reasoningClient = client
	}
}

// New creates a new server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set logger or reasoning client)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		pgStore := transaction.NewPostgresStore(db)
		if err := pgStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate transaction store", "error", err)
		}

		s.db = db
		s.store = pgStore
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.store = transaction.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Reasoning client (agent narratives, investigations, compliance drafts)
	if s.reasoningClient == nil {
		if cfg.ReasoningAPIKey == "" {
			s.reasoningClient = reasoning.Disabled{}
			s.logger.Info("reasoning disabled (no ANTHROPIC_API_KEY set), heuristic-only screening")
		} else {
			client, err := reasoning.NewAnthropic(reasoning.AnthropicConfig{
				APIKey:  cfg.ReasoningAPIKey,
				Model:   cfg.ReasoningModel,
				BaseURL: cfg.ReasoningBaseURL,
				Timeout: cfg.ReasoningTimeout,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create reasoning client: %w", err)
			}
			s.reasoningClient = client
			s.logger.Info("reasoning enabled", "model", cfg.ReasoningModel)
		}
	}

	// Screening pipeline
	s.runLog = workflow.NewRunLog()
	s.reviewer = compliance.New(s.reasoningClient)
	s.engine = workflow.New(
		assessor.New(s.reasoningClient, nil, cfg.EscalationThreshold),
		investigator.New(s.reasoningClient),
		s.reviewer,
		s.runLog,
	)
	s.logger.Info("screening engine ready", "escalation_threshold", cfg.EscalationThreshold)

	// Synthetic transaction feed
	s.generator = transaction.NewGenerator(time.Now().UnixNano(), 0.15)

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.realtimeHub.OnInvestigate = func(ctx context.Context, tx *transaction.Transaction) {
		s.screen(ctx, tx)
	}
	s.logger.Info("realtime streaming enabled")

	// Health checks
	s.healthReg = health.NewRegistry()
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// screen runs the workflow for one transaction, fanning events out to the
// realtime hub.
func (s *Server) screen(ctx context.Context, tx *transaction.Transaction) *workflow.Run {
	return s.engine.Run(ctx, tx, s.realtimeHub.BroadcastEvent)
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(16)
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/", s.infoHandler)

	// API group
	api := s.router.Group("/api")

	// Transaction store endpoints
	txHandler := transaction.NewHandler(s.store)
	txHandler.RegisterRoutes(api)

	// Screening endpoints
	api.POST("/investigate", s.investigateHandler)
	api.GET("/investigations", s.listInvestigationsHandler)
	api.GET("/investigations/:id", s.getInvestigationHandler)
	api.POST("/investigations/:id/sar", s.generateSARHandler)

	// Realtime hub stats
	api.GET("/stats/realtime", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Vigil",
		"description": "Real-time transaction fraud screening platform",
		"version":     "0.1.0",
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// investigateHandler runs a screening for a stored transaction (by ID) or an
// inline one, synchronously, and returns the full run.
func (s *Server) investigateHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req struct {
		TransactionID string                   `json:"transaction_id"`
		Transaction   *transaction.Transaction `json:"transaction"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	var tx *transaction.Transaction
	switch {
	case req.Transaction != nil:
		if err := validation.ValidateTransaction(req.Transaction); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_transaction",
				"message": err.Error(),
			})
			return
		}
		tx = req.Transaction
		// Persist inline transactions so later lookups and SAR drafts work.
		if _, err := s.store.Get(ctx, tx.ID); errors.Is(err, transaction.ErrNotFound) {
			if err := s.store.Create(ctx, tx); err != nil {
				logging.L(ctx).Warn("failed to persist inline transaction",
					"transaction_id", tx.ID, "error", err)
			}
		}
	case req.TransactionID != "":
		stored, err := s.store.Get(ctx, req.TransactionID)
		if err != nil {
			if errors.Is(err, transaction.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error":   "not_found",
					"message": "Transaction not found",
				})
				return
			}
			logging.L(ctx).Error("failed to load transaction", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to load transaction",
			})
			return
		}
		tx = stored
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Provide transaction_id or an inline transaction",
		})
		return
	}

	run := s.screen(ctx, tx)
	c.JSON(http.StatusOK, run)
}

func (s *Server) listInvestigationsHandler(c *gin.Context) {
	runs := s.runLog.Runs()
	c.JSON(http.StatusOK, gin.H{
		"investigations": runs,
		"count":          len(runs),
	})
}

func (s *Server) getInvestigationHandler(c *gin.Context) {
	run, ok := s.runLog.Find(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No investigation found for this transaction",
		})
		return
	}
	c.JSON(http.StatusOK, run)
}

// generateSARHandler drafts a SAR for a screened transaction.
func (s *Server) generateSARHandler(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	run, ok := s.runLog.Find(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No investigation found for this transaction",
		})
		return
	}

	tx, err := s.store.Get(ctx, id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Transaction not found",
		})
		return
	}

	report, err := s.reviewer.GenerateSAR(ctx, tx, run.Finding)
	if err != nil {
		logging.L(ctx).Error("SAR generation failed", "transaction_id", id, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "sar_generation_failed",
			"message": "Could not draft the SAR report",
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start synthetic transaction feed
	go s.runFeed(runCtx)

	// DB pool stats for Prometheus
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// runFeed emits synthetic transactions on an interval while clients are
// connected, persisting each one so it can be screened later. A non-positive
// interval disables the feed.
func (s *Server) runFeed(ctx context.Context) {
	if s.cfg.FeedInterval <= 0 {
		s.logger.Info("transaction feed disabled")
		return
	}
	ticker := time.NewTicker(s.cfg.FeedInterval)
	defer ticker.Stop()

	s.logger.Info("transaction feed started", "interval", s.cfg.FeedInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("transaction feed stopped")
			return
		case <-ticker.C:
			if !s.realtimeHub.HasClients() {
				continue
			}
			tx := s.generator.Next()
			if err := s.store.Create(ctx, tx); err != nil {
				s.logger.Warn("failed to persist feed transaction", "error", err)
				continue
			}
			s.realtimeHub.BroadcastTransaction(tx)
		}
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, feed)
	if s.cancelRun != nil {
		s.cancelRun()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}
