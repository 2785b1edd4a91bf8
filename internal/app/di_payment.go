package app

import (
	"fmt"

	paymentHTTP "github.com/tidywork/tidywork/internal/payment/http"
	paymentRepository "github.com/tidywork/tidywork/internal/payment/repository"
	paymentService "github.com/tidywork/tidywork/internal/payment/service"
	paymentUsecase "github.com/tidywork/tidywork/internal/payment/usecase"
)

// ReceiptRepository returns the provider event receipt repository based on database driver.
func (c *Container) ReceiptRepository() (paymentUsecase.ReceiptRepository, error) {
	var err error
	c.receiptRepoInit.Do(func() {
		c.receiptRepo, err = c.initReceiptRepository()
		if err != nil {
			c.initErrors["receiptRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["receiptRepo"]; exists {
		return nil, storedErr
	}
	return c.receiptRepo, nil
}

// PaymentRepository returns the payment repository based on database driver.
func (c *Container) PaymentRepository() (paymentUsecase.PaymentRepository, error) {
	var err error
	c.paymentRepoInit.Do(func() {
		c.paymentRepo, err = c.initPaymentRepository()
		if err != nil {
			c.initErrors["paymentRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["paymentRepo"]; exists {
		return nil, storedErr
	}
	return c.paymentRepo, nil
}

// SignatureVerifier returns the webhook signature verifier.
func (c *Container) SignatureVerifier() paymentService.SignatureVerifier {
	c.signatureVerifierInit.Do(func() {
		c.signatureVerifier = paymentService.NewHMACVerifier(c.config.PaymentWebhookSecret)
	})
	return c.signatureVerifier
}

// ReconcileUseCase returns the webhook reconciliation use case instance.
func (c *Container) ReconcileUseCase() (paymentUsecase.UseCase, error) {
	var err error
	c.reconcileUseCaseInit.Do(func() {
		c.reconcileUseCase, err = c.initReconcileUseCase()
		if err != nil {
			c.initErrors["reconcileUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["reconcileUseCase"]; exists {
		return nil, storedErr
	}
	return c.reconcileUseCase, nil
}

// WebhookHandler returns the payment webhook HTTP handler.
func (c *Container) WebhookHandler() (*paymentHTTP.WebhookHandler, error) {
	var err error
	c.webhookHandlerInit.Do(func() {
		c.webhookHandler, err = c.initWebhookHandler()
		if err != nil {
			c.initErrors["webhookHandler"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["webhookHandler"]; exists {
		return nil, storedErr
	}
	return c.webhookHandler, nil
}

// initReceiptRepository creates the provider event receipt repository instance.
func (c *Container) initReceiptRepository() (paymentUsecase.ReceiptRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for receipt repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return paymentRepository.NewPostgreSQLReceiptRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initPaymentRepository creates the payment repository instance.
func (c *Container) initPaymentRepository() (paymentUsecase.PaymentRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for payment repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return paymentRepository.NewPostgreSQLPaymentRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initReconcileUseCase creates the reconciliation use case with all its dependencies.
func (c *Container) initReconcileUseCase() (paymentUsecase.UseCase, error) {
	logger := c.Logger()

	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for reconcile use case: %w", err)
	}

	receiptRepo, err := c.ReceiptRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt repository for reconcile use case: %w", err)
	}

	paymentRepo, err := c.PaymentRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get payment repository for reconcile use case: %w", err)
	}

	bookingRepo, err := c.BookingRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get booking repository for reconcile use case: %w", err)
	}

	outboxUseCase, err := c.OutboxUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox use case for reconcile use case: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for reconcile use case: %w", err)
	}

	useCase := paymentUsecase.NewReconcileUseCase(
		txManager,
		c.SignatureVerifier(),
		receiptRepo,
		paymentRepo,
		bookingRepo,
		outboxUseCase,
		logger,
	)

	return paymentUsecase.NewMetricsDecorator(useCase, businessMetrics), nil
}

// initWebhookHandler creates the payment webhook HTTP handler.
func (c *Container) initWebhookHandler() (*paymentHTTP.WebhookHandler, error) {
	useCase, err := c.ReconcileUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get reconcile use case for webhook handler: %w", err)
	}
	return paymentHTTP.NewWebhookHandler(useCase, c.Logger()), nil
}
