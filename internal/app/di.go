// Package app provides dependency injection container for assembling application components.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	bookingRepository "github.com/tidywork/tidywork/internal/booking/repository"
	"github.com/tidywork/tidywork/internal/breaker"
	checkoutHTTP "github.com/tidywork/tidywork/internal/checkout/http"
	checkoutService "github.com/tidywork/tidywork/internal/checkout/service"
	checkoutUsecase "github.com/tidywork/tidywork/internal/checkout/usecase"
	"github.com/tidywork/tidywork/internal/config"
	"github.com/tidywork/tidywork/internal/database"
	"github.com/tidywork/tidywork/internal/http"
	idempotencyUsecase "github.com/tidywork/tidywork/internal/idempotency/usecase"
	"github.com/tidywork/tidywork/internal/mailer"
	"github.com/tidywork/tidywork/internal/metrics"
	outboxHTTP "github.com/tidywork/tidywork/internal/outbox/http"
	outboxService "github.com/tidywork/tidywork/internal/outbox/service"
	outboxUsecase "github.com/tidywork/tidywork/internal/outbox/usecase"
	paymentHTTP "github.com/tidywork/tidywork/internal/payment/http"
	paymentService "github.com/tidywork/tidywork/internal/payment/service"
	paymentUsecase "github.com/tidywork/tidywork/internal/payment/usecase"
)

// Container holds all application dependencies and provides methods to access them.
// It follows the lazy initialization pattern - components are created on first access.
type Container struct {
	// Configuration
	config *config.Config

	// Infrastructure
	logger *slog.Logger
	db     *sql.DB

	// Managers
	txManager database.TxManager

	// Metrics
	metricsProvider *metrics.Provider
	businessMetrics metrics.BusinessMetrics
	queueMetrics    metrics.QueueMetrics

	// Repositories
	bookingRepo     *bookingRepository.PostgreSQLBookingRepository
	outboxRepo      outboxUsecase.OutboxEventRepository
	idempotencyRepo idempotencyUsecase.IdempotencyRepository
	attemptRepo     checkoutUsecase.AttemptRepository
	receiptRepo     paymentUsecase.ReceiptRepository
	paymentRepo     paymentUsecase.PaymentRepository

	// Services
	mailerClient      mailer.Mailer
	destinationPolicy *outboxService.DestinationPolicy
	paymentProvider   checkoutService.PaymentProvider
	paymentBreaker    *breaker.Breaker
	signatureVerifier paymentService.SignatureVerifier

	// Use Cases
	outboxUseCase      outboxUsecase.UseCase
	idempotencyUseCase idempotencyUsecase.UseCase
	checkoutUseCase    checkoutUsecase.UseCase
	reconcileUseCase   paymentUsecase.UseCase

	// Handlers
	checkoutHandler *checkoutHTTP.Handler
	adminHandler    *outboxHTTP.AdminHandler
	webhookHandler  *paymentHTTP.WebhookHandler

	// Servers
	httpServer    *http.Server
	metricsServer *http.MetricsServer

	// Initialization flags and mutex for thread-safety
	mu                     sync.Mutex
	loggerInit             sync.Once
	dbInit                 sync.Once
	txManagerInit          sync.Once
	metricsProviderInit    sync.Once
	businessMetricsInit    sync.Once
	queueMetricsInit       sync.Once
	bookingRepoInit        sync.Once
	outboxRepoInit         sync.Once
	idempotencyRepoInit    sync.Once
	attemptRepoInit        sync.Once
	receiptRepoInit        sync.Once
	paymentRepoInit        sync.Once
	mailerInit             sync.Once
	destinationPolicyInit  sync.Once
	paymentProviderInit    sync.Once
	paymentBreakerInit     sync.Once
	signatureVerifierInit  sync.Once
	outboxUseCaseInit      sync.Once
	idempotencyUseCaseInit sync.Once
	checkoutUseCaseInit    sync.Once
	reconcileUseCaseInit   sync.Once
	checkoutHandlerInit    sync.Once
	adminHandlerInit       sync.Once
	webhookHandlerInit     sync.Once
	httpServerInit         sync.Once
	metricsServerInit      sync.Once
	initErrors             map[string]error
}

// NewContainer creates a new dependency injection container with the provided configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
// It creates a new logger on first access based on the log level in configuration.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// DB returns the database connection.
// It creates and configures the database connection on first access.
func (c *Container) DB() (*sql.DB, error) {
	var err error
	c.dbInit.Do(func() {
		c.db, err = c.initDB()
		if err != nil {
			c.initErrors["db"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["db"]; exists {
		return nil, storedErr
	}
	return c.db, nil
}

// TxManager returns the transaction manager.
// It requires a database connection to be initialized first.
func (c *Container) TxManager() (database.TxManager, error) {
	var err error
	c.txManagerInit.Do(func() {
		c.txManager, err = c.initTxManager()
		if err != nil {
			c.initErrors["txManager"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["txManager"]; exists {
		return nil, storedErr
	}
	return c.txManager, nil
}

// MetricsProvider returns the OpenTelemetry metrics provider.
// Returns nil when metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	var err error
	c.metricsProviderInit.Do(func() {
		if !c.config.MetricsEnabled {
			return
		}
		c.metricsProvider, err = metrics.NewProvider(c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["metricsProvider"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// BusinessMetrics returns the business operation metrics recorder.
// Returns a no-op recorder when metrics are disabled.
func (c *Container) BusinessMetrics() (metrics.BusinessMetrics, error) {
	var err error
	c.businessMetricsInit.Do(func() {
		c.businessMetrics, err = c.initBusinessMetrics()
		if err != nil {
			c.initErrors["businessMetrics"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["businessMetrics"]; exists {
		return nil, storedErr
	}
	return c.businessMetrics, nil
}

// QueueMetrics returns the outbox queue depth metrics recorder.
// Returns a no-op recorder when metrics are disabled.
func (c *Container) QueueMetrics() (metrics.QueueMetrics, error) {
	var err error
	c.queueMetricsInit.Do(func() {
		c.queueMetrics, err = c.initQueueMetrics()
		if err != nil {
			c.initErrors["queueMetrics"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["queueMetrics"]; exists {
		return nil, storedErr
	}
	return c.queueMetrics, nil
}

// HTTPServer returns the API HTTP server instance.
func (c *Container) HTTPServer() (*http.Server, error) {
	var err error
	c.httpServerInit.Do(func() {
		c.httpServer, err = c.initHTTPServer()
		if err != nil {
			c.initErrors["httpServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

// MetricsServer returns the metrics HTTP server instance.
// Returns nil when metrics are disabled.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	var err error
	c.metricsServerInit.Do(func() {
		c.metricsServer, err = c.initMetricsServer()
		if err != nil {
			c.initErrors["metricsServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

// Shutdown performs cleanup of all initialized resources.
// It should be called when the application is shutting down.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	// Shutdown HTTP server if initialized
	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	// Shutdown metrics server if initialized
	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	// Shutdown metrics provider if initialized
	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	// Close database connection if initialized
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	// Return combined errors if any occurred
	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}

	return nil
}

// initLogger creates and configures a structured logger based on the log level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

// initDB creates and configures the database connection.
func (c *Container) initDB() (*sql.DB, error) {
	db, err := database.Connect(database.Config{
		Driver:             c.config.DBDriver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// initTxManager creates the transaction manager using the database connection.
func (c *Container) initTxManager() (database.TxManager, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for tx manager: %w", err)
	}
	return database.NewTxManager(db), nil
}

// initBusinessMetrics creates the business metrics recorder.
func (c *Container) initBusinessMetrics() (metrics.BusinessMetrics, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for business metrics: %w", err)
	}
	if provider == nil {
		return metrics.NewNoOpBusinessMetrics(), nil
	}
	return metrics.NewBusinessMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
}

// initQueueMetrics creates the outbox queue metrics recorder.
func (c *Container) initQueueMetrics() (metrics.QueueMetrics, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for queue metrics: %w", err)
	}
	if provider == nil {
		return metrics.NewNoOpQueueMetrics(), nil
	}
	return metrics.NewQueueMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
}

// initHTTPServer creates the API HTTP server with all its dependencies.
func (c *Container) initHTTPServer() (*http.Server, error) {
	logger := c.Logger()

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for http server: %w", err)
	}

	checkoutHandler, err := c.CheckoutHandler()
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout handler for http server: %w", err)
	}

	adminHandler, err := c.OutboxAdminHandler()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox admin handler for http server: %w", err)
	}

	webhookHandler, err := c.WebhookHandler()
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook handler for http server: %w", err)
	}

	idempotencyUseCase, err := c.IdempotencyUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency use case for http server: %w", err)
	}

	server := http.NewServer(
		c.config,
		db,
		logger,
		checkoutHandler,
		adminHandler,
		webhookHandler,
		idempotencyUseCase,
	)

	return server, nil
}

// initMetricsServer creates the metrics HTTP server. Returns nil when
// metrics are disabled.
func (c *Container) initMetricsServer() (*http.MetricsServer, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for metrics server: %w", err)
	}
	if provider == nil {
		return nil, nil
	}

	return http.NewMetricsServer(
		c.config.ServerHost,
		c.config.MetricsPort,
		c.Logger(),
		provider,
	), nil
}
