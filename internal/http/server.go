// Package http provides the API server, its middleware, and the metrics server.
package http

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	checkoutHTTP "github.com/tidywork/tidywork/internal/checkout/http"
	"github.com/tidywork/tidywork/internal/config"
	idempotencyHTTP "github.com/tidywork/tidywork/internal/idempotency/http"
	idempotencyUsecase "github.com/tidywork/tidywork/internal/idempotency/usecase"
	outboxHTTP "github.com/tidywork/tidywork/internal/outbox/http"
	paymentHTTP "github.com/tidywork/tidywork/internal/payment/http"
)

// CheckoutOperation scopes idempotency keys on the checkout session endpoint.
const CheckoutOperation = "checkout.create"

// Server represents the API HTTP server.
type Server struct {
	server *http.Server
	db     *sql.DB
	logger *slog.Logger
	config *config.Config

	checkoutHandler    *checkoutHTTP.Handler
	adminHandler       *outboxHTTP.AdminHandler
	webhookHandler     *paymentHTTP.WebhookHandler
	idempotencyUseCase idempotencyUsecase.UseCase
}

// NewServer creates a new API server. The database handle is used only by the
// readiness endpoint.
func NewServer(
	cfg *config.Config,
	db *sql.DB,
	logger *slog.Logger,
	checkoutHandler *checkoutHTTP.Handler,
	adminHandler *outboxHTTP.AdminHandler,
	webhookHandler *paymentHTTP.WebhookHandler,
	idempotencyUseCase idempotencyUsecase.UseCase,
) *Server {
	return &Server{
		logger: logger,
		db:     db,
		config: cfg,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		checkoutHandler:    checkoutHandler,
		adminHandler:       adminHandler,
		webhookHandler:     webhookHandler,
		idempotencyUseCase: idempotencyUseCase,
	}
}

// SetupRouter builds the gin engine with all middleware and routes.
func (s *Server) SetupRouter() *gin.Engine {
	gin.SetMode(s.config.GetGinMode())

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(s.logger))

	if corsMiddleware := createCORSMiddleware(s.config.CORSEnabled, s.config.CORSAllowOrigins, s.logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	tenantRequired := []gin.HandlerFunc{TenantMiddleware(s.logger)}
	if s.config.RateLimitEnabled {
		tenantRequired = append(tenantRequired,
			RateLimitMiddleware(s.config.RateLimitRequestsPerSec, s.config.RateLimitBurst, s.logger))
	}

	v1 := router.Group("/v1")

	checkout := v1.Group("/checkout", tenantRequired...)
	checkout.POST("/sessions",
		idempotencyHTTP.Middleware(s.idempotencyUseCase, CheckoutOperation, s.logger),
		s.checkoutHandler.CreateSession)

	admin := v1.Group("/admin", tenantRequired...)
	admin.GET("/outbox/dead", s.adminHandler.ListDead)
	admin.POST("/outbox/replay/:event_id", s.adminHandler.Replay)

	// Webhooks authenticate via HMAC signature, not tenant header.
	v1.POST("/webhooks/payment", s.webhookHandler.Receive)

	return router
}

// healthHandler reports liveness.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessHandler reports readiness, checking the database connection.
func (s *Server) readinessHandler(c *gin.Context) {
	components := gin.H{"database": "ok"}
	status := http.StatusOK
	overall := "ready"

	if s.db == nil {
		components["database"] = "error"
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	} else {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			components["database"] = "error"
			status = http.StatusServiceUnavailable
			overall = "not_ready"
		}
	}

	c.JSON(status, gin.H{"status": overall, "components": components})
}

// Start starts the API HTTP server.
func (s *Server) Start(ctx context.Context) error {
	s.server.Handler = s.SetupRouter()

	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the API HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}
