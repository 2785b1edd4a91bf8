// Package usecase implements the two-phase checkout protocol against the
// payment provider.
package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	bookingdomain "github.com/tidywork/tidywork/internal/booking/domain"
	"github.com/tidywork/tidywork/internal/breaker"
	"github.com/tidywork/tidywork/internal/checkout/domain"
	"github.com/tidywork/tidywork/internal/checkout/service"
	"github.com/tidywork/tidywork/internal/database"
	apperrors "github.com/tidywork/tidywork/internal/errors"
)

// DepositPurpose is the attempt purpose for booking deposit checkouts.
const DepositPurpose = "booking_deposit"

// AttemptRepository defines external call attempt repository operations.
type AttemptRepository interface {
	UpsertPending(ctx context.Context, attempt *domain.ExternalCallAttempt) (*domain.ExternalCallAttempt, error)
	GetBySubject(ctx context.Context, tenantID, subjectID uuid.UUID, purpose string) (*domain.ExternalCallAttempt, error)
	Finalize(ctx context.Context, id uuid.UUID, providerSessionID, redirectURL string) error
	Fail(ctx context.Context, id uuid.UUID, errorType string) error
}

// BookingRepository defines the booking operations the checkout flow needs.
type BookingRepository interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*bookingdomain.Booking, error)
	UpdateDeposit(ctx context.Context, booking *bookingdomain.Booking) error
}

// CircuitBreaker guards calls to the payment provider.
type CircuitBreaker interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// UseCase defines the interface for checkout use cases.
type UseCase interface {
	StartCheckout(ctx context.Context, input StartCheckoutInput) (*domain.ExternalCallAttempt, error)
}

// StartCheckoutInput identifies the booking to collect a deposit for.
type StartCheckoutInput struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	BookingID uuid.UUID `json:"booking_id"`
}

// CheckoutUseCase implements UseCase.
type CheckoutUseCase struct {
	txManager   database.TxManager
	attemptRepo AttemptRepository
	bookingRepo BookingRepository
	provider    service.PaymentProvider
	breaker     CircuitBreaker
	logger      *slog.Logger
}

// NewCheckoutUseCase creates a new CheckoutUseCase.
func NewCheckoutUseCase(
	txManager database.TxManager,
	attemptRepo AttemptRepository,
	bookingRepo BookingRepository,
	provider service.PaymentProvider,
	cb CircuitBreaker,
	logger *slog.Logger,
) *CheckoutUseCase {
	return &CheckoutUseCase{
		txManager:   txManager,
		attemptRepo: attemptRepo,
		bookingRepo: bookingRepo,
		provider:    provider,
		breaker:     cb,
		logger:      logger,
	}
}

// StartCheckout runs the two-phase protocol:
//
// Phase 0 commits a pending attempt before the provider is contacted, so a
// crash between phases leaves durable evidence that a session may exist.
// Phase 1 calls the provider with no transaction open, presenting the
// deterministic idempotency key. Phase 2 finalizes the attempt and marks the
// booking deposit processing.
//
// A booking whose attempt already reached created returns the existing
// session without calling the provider again.
func (uc *CheckoutUseCase) StartCheckout(
	ctx context.Context,
	input StartCheckoutInput,
) (*domain.ExternalCallAttempt, error) {
	booking, err := uc.bookingRepo.GetByID(ctx, input.TenantID, input.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.DepositStatus == bookingdomain.DepositPaid {
		return nil, domain.ErrDepositPaid
	}

	key := domain.IdempotencyKey(DepositPurpose, booking.ID, booking.DepositAmount, booking.DepositCurrency)

	// Phase 0: durable intent.
	var attempt *domain.ExternalCallAttempt
	err = uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		var err error
		attempt, err = uc.attemptRepo.UpsertPending(ctx, &domain.ExternalCallAttempt{
			ID:             uuid.Must(uuid.NewV7()),
			TenantID:       input.TenantID,
			SubjectID:      booking.ID,
			Purpose:        DepositPurpose,
			IdempotencyKey: key,
			Amount:         booking.DepositAmount,
			Currency:       booking.DepositCurrency,
			Status:         domain.StatusPending,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if attempt.Status == domain.StatusCreated {
		if uc.logger != nil {
			uc.logger.Info("reusing existing checkout session",
				slog.String("booking_id", booking.ID.String()),
				slog.String("attempt_id", attempt.ID.String()),
			)
		}
		return attempt, nil
	}

	// Phase 1: provider call with no open transaction, behind the breaker.
	var session *service.Session
	err = uc.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		session, err = uc.provider.CreateSession(ctx, service.CreateSessionRequest{
			IdempotencyKey: attempt.IdempotencyKey,
			TenantID:       attempt.TenantID,
			SubjectID:      attempt.SubjectID,
			Purpose:        attempt.Purpose,
			Amount:         attempt.Amount,
			Currency:       attempt.Currency,
		})
		return err
	})
	if err != nil {
		return nil, uc.recordFailure(ctx, attempt, err)
	}

	// Phase 2: finalize.
	err = uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		if err := uc.attemptRepo.Finalize(ctx, attempt.ID, session.ID, session.RedirectURL); err != nil {
			return err
		}
		booking.DepositStatus = bookingdomain.DepositProcessing
		booking.ProviderSessionID = &session.ID
		return uc.bookingRepo.UpdateDeposit(ctx, booking)
	})
	if err != nil {
		// The session exists remotely but could not be recorded locally. The
		// attempt goes failed so the ledger reflects the broken state; the
		// deterministic key makes the retried provider call a no-op.
		uc.failAttempt(ctx, attempt, domain.ErrorFinalize)
		return nil, apperrors.Wrap(err, "failed to finalize checkout session")
	}

	attempt.Status = domain.StatusCreated
	attempt.ProviderSessionID = &session.ID
	attempt.RedirectURL = &session.RedirectURL

	if uc.logger != nil {
		uc.logger.Info("created checkout session",
			slog.String("booking_id", booking.ID.String()),
			slog.String("attempt_id", attempt.ID.String()),
		)
	}

	return attempt, nil
}

// recordFailure persists the error category on the attempt and maps the
// provider error onto the API error surface. Breaker rejections skip the
// attempt update: no call was made, so the pending record stays pending and
// the deterministic key makes a later retry safe.
func (uc *CheckoutUseCase) recordFailure(
	ctx context.Context,
	attempt *domain.ExternalCallAttempt,
	callErr error,
) error {
	if errors.Is(callErr, breaker.ErrOpen) {
		return callErr
	}

	category := domain.ErrorUnavailable
	var provErr *service.ProviderError
	if errors.As(callErr, &provErr) {
		category = provErr.Category
	}

	uc.failAttempt(ctx, attempt, category)

	if category == domain.ErrorRejected {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "payment provider rejected the request")
	}
	return apperrors.Wrap(apperrors.ErrUnavailable, "payment provider unavailable")
}

// failAttempt marks the attempt failed with the category. The update runs in
// its own transaction so it survives the rollback that triggered it.
func (uc *CheckoutUseCase) failAttempt(
	ctx context.Context,
	attempt *domain.ExternalCallAttempt,
	category string,
) {
	if err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		return uc.attemptRepo.Fail(ctx, attempt.ID, category)
	}); err != nil && uc.logger != nil {
		uc.logger.Error("failed to record checkout failure",
			slog.String("attempt_id", attempt.ID.String()),
			slog.Any("error", err),
		)
	}

	if uc.logger != nil {
		uc.logger.Warn("checkout session creation failed",
			slog.String("attempt_id", attempt.ID.String()),
			slog.String("category", category),
		)
	}
}
