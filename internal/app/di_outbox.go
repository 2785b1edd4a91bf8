package app

import (
	"fmt"

	"github.com/tidywork/tidywork/internal/breaker"
	"github.com/tidywork/tidywork/internal/mailer"
	outboxDomain "github.com/tidywork/tidywork/internal/outbox/domain"
	outboxHTTP "github.com/tidywork/tidywork/internal/outbox/http"
	outboxRepository "github.com/tidywork/tidywork/internal/outbox/repository"
	outboxService "github.com/tidywork/tidywork/internal/outbox/service"
	outboxUsecase "github.com/tidywork/tidywork/internal/outbox/usecase"
)

// OutboxRepository returns the outbox event repository based on database driver.
func (c *Container) OutboxRepository() (outboxUsecase.OutboxEventRepository, error) {
	var err error
	c.outboxRepoInit.Do(func() {
		c.outboxRepo, err = c.initOutboxRepository()
		if err != nil {
			c.initErrors["outboxRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["outboxRepo"]; exists {
		return nil, storedErr
	}
	return c.outboxRepo, nil
}

// Mailer returns the transactional email client.
func (c *Container) Mailer() mailer.Mailer {
	c.mailerInit.Do(func() {
		c.mailerClient = mailer.NewHTTPMailer(mailer.Config{
			Endpoint: c.config.MailerEndpoint,
			APIKey:   c.config.MailerAPIKey,
			Timeout:  c.config.MailerTimeout,
		})
	})
	return c.mailerClient
}

// DestinationPolicy returns the outbound destination policy shared by the
// webhook and export deliverers.
func (c *Container) DestinationPolicy() *outboxService.DestinationPolicy {
	c.destinationPolicyInit.Do(func() {
		c.destinationPolicy = outboxService.NewDestinationPolicy(c.config.OutboxAllowPrivateDestinations)
	})
	return c.destinationPolicy
}

// OutboxUseCase returns the outbox use case instance.
func (c *Container) OutboxUseCase() (outboxUsecase.UseCase, error) {
	var err error
	c.outboxUseCaseInit.Do(func() {
		c.outboxUseCase, err = c.initOutboxUseCase()
		if err != nil {
			c.initErrors["outboxUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["outboxUseCase"]; exists {
		return nil, storedErr
	}
	return c.outboxUseCase, nil
}

// OutboxAdminHandler returns the dead letter admin handler.
func (c *Container) OutboxAdminHandler() (*outboxHTTP.AdminHandler, error) {
	var err error
	c.adminHandlerInit.Do(func() {
		c.adminHandler, err = c.initOutboxAdminHandler()
		if err != nil {
			c.initErrors["adminHandler"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["adminHandler"]; exists {
		return nil, storedErr
	}
	return c.adminHandler, nil
}

// initOutboxAdminHandler creates the dead letter admin handler.
func (c *Container) initOutboxAdminHandler() (*outboxHTTP.AdminHandler, error) {
	useCase, err := c.OutboxUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox use case for admin handler: %w", err)
	}
	return outboxHTTP.NewAdminHandler(useCase, c.Logger()), nil
}

// initOutboxRepository creates the outbox event repository instance.
func (c *Container) initOutboxRepository() (outboxUsecase.OutboxEventRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for outbox repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return outboxRepository.NewPostgreSQLOutboxEventRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initOutboxUseCase creates the outbox use case with all its dependencies.
func (c *Container) initOutboxUseCase() (outboxUsecase.UseCase, error) {
	logger := c.Logger()

	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for outbox use case: %w", err)
	}

	outboxRepo, err := c.OutboxRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox repository for outbox use case: %w", err)
	}

	queueMetrics, err := c.QueueMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get queue metrics for outbox use case: %w", err)
	}

	policy := c.DestinationPolicy()
	breakerConfig := breaker.Config{
		FailureThreshold: c.config.BreakerFailureThreshold,
		RecoveryTime:     c.config.BreakerRecoveryTime,
	}
	deliverers := map[outboxDomain.Kind]outboxUsecase.Deliverer{
		outboxDomain.KindEmail: outboxService.NewEmailDeliverer(c.Mailer(),
			breaker.New("mail-gateway", breakerConfig, nil)),
		outboxDomain.KindWebhook: outboxService.NewWebhookDeliverer(policy,
			breaker.New("tenant-webhooks", breakerConfig, nil), c.config.OutboxDeliveryTimeout),
		outboxDomain.KindExport: outboxService.NewExportDeliverer(policy,
			breaker.New("export-destinations", breakerConfig, nil), c.config.OutboxDeliveryTimeout),
	}

	useCaseConfig := outboxUsecase.Config{
		Interval:    c.config.OutboxInterval,
		BatchSize:   c.config.OutboxBatchSize,
		MaxAttempts: c.config.OutboxMaxAttempts,
		BackoffBase: c.config.OutboxBackoffBase,
	}

	useCase := outboxUsecase.NewOutboxUseCase(useCaseConfig, txManager, outboxRepo, deliverers, queueMetrics, nil, logger)

	return useCase, nil
}
