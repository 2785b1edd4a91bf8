package app

import (
	"fmt"

	"github.com/tidywork/tidywork/internal/breaker"
	checkoutHTTP "github.com/tidywork/tidywork/internal/checkout/http"
	checkoutRepository "github.com/tidywork/tidywork/internal/checkout/repository"
	checkoutService "github.com/tidywork/tidywork/internal/checkout/service"
	checkoutUsecase "github.com/tidywork/tidywork/internal/checkout/usecase"
)

// AttemptRepository returns the external call attempt repository based on database driver.
func (c *Container) AttemptRepository() (checkoutUsecase.AttemptRepository, error) {
	var err error
	c.attemptRepoInit.Do(func() {
		c.attemptRepo, err = c.initAttemptRepository()
		if err != nil {
			c.initErrors["attemptRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["attemptRepo"]; exists {
		return nil, storedErr
	}
	return c.attemptRepo, nil
}

// PaymentProvider returns the payment provider client.
func (c *Container) PaymentProvider() checkoutService.PaymentProvider {
	c.paymentProviderInit.Do(func() {
		c.paymentProvider = checkoutService.NewHTTPPaymentProvider(
			c.config.PaymentProviderBaseURL,
			c.config.PaymentProviderAPIKey,
			c.config.PaymentProviderTimeout,
		)
	})
	return c.paymentProvider
}

// PaymentBreaker returns the circuit breaker guarding payment provider calls.
func (c *Container) PaymentBreaker() *breaker.Breaker {
	c.paymentBreakerInit.Do(func() {
		c.paymentBreaker = breaker.New("payment-provider", breaker.Config{
			FailureThreshold: c.config.BreakerFailureThreshold,
			RecoveryTime:     c.config.BreakerRecoveryTime,
		}, nil)
	})
	return c.paymentBreaker
}

// CheckoutUseCase returns the checkout use case instance.
func (c *Container) CheckoutUseCase() (checkoutUsecase.UseCase, error) {
	var err error
	c.checkoutUseCaseInit.Do(func() {
		c.checkoutUseCase, err = c.initCheckoutUseCase()
		if err != nil {
			c.initErrors["checkoutUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["checkoutUseCase"]; exists {
		return nil, storedErr
	}
	return c.checkoutUseCase, nil
}

// CheckoutHandler returns the checkout HTTP handler.
func (c *Container) CheckoutHandler() (*checkoutHTTP.Handler, error) {
	var err error
	c.checkoutHandlerInit.Do(func() {
		c.checkoutHandler, err = c.initCheckoutHandler()
		if err != nil {
			c.initErrors["checkoutHandler"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["checkoutHandler"]; exists {
		return nil, storedErr
	}
	return c.checkoutHandler, nil
}

// initAttemptRepository creates the external call attempt repository instance.
func (c *Container) initAttemptRepository() (checkoutUsecase.AttemptRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for attempt repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return checkoutRepository.NewPostgreSQLAttemptRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initCheckoutUseCase creates the checkout use case with all its dependencies.
func (c *Container) initCheckoutUseCase() (checkoutUsecase.UseCase, error) {
	logger := c.Logger()

	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for checkout use case: %w", err)
	}

	attemptRepo, err := c.AttemptRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt repository for checkout use case: %w", err)
	}

	bookingRepo, err := c.BookingRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get booking repository for checkout use case: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for checkout use case: %w", err)
	}

	useCase := checkoutUsecase.NewCheckoutUseCase(
		txManager,
		attemptRepo,
		bookingRepo,
		c.PaymentProvider(),
		c.PaymentBreaker(),
		logger,
	)

	return checkoutUsecase.NewMetricsDecorator(useCase, businessMetrics), nil
}

// initCheckoutHandler creates the checkout HTTP handler.
func (c *Container) initCheckoutHandler() (*checkoutHTTP.Handler, error) {
	useCase, err := c.CheckoutUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout use case for checkout handler: %w", err)
	}
	return checkoutHTTP.NewHandler(useCase, c.Logger()), nil
}
