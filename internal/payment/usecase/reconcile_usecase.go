// Package usecase implements provider webhook reconciliation.
package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	bookingdomain "github.com/tidywork/tidywork/internal/booking/domain"
	"github.com/tidywork/tidywork/internal/database"
	apperrors "github.com/tidywork/tidywork/internal/errors"
	outboxdomain "github.com/tidywork/tidywork/internal/outbox/domain"
	outboxusecase "github.com/tidywork/tidywork/internal/outbox/usecase"
	"github.com/tidywork/tidywork/internal/payment/domain"
	"github.com/tidywork/tidywork/internal/payment/service"
)

// ReceiptRepository defines provider event receipt repository operations.
type ReceiptRepository interface {
	Claim(ctx context.Context, receipt *domain.ProviderEventReceipt) (*domain.ProviderEventReceipt, bool, error)
	MarkSucceeded(ctx context.Context, providerEventID string) error
}

// PaymentRepository defines payment repository operations.
type PaymentRepository interface {
	Record(ctx context.Context, payment *domain.Payment) (bool, error)
}

// BookingRepository defines the booking operations reconciliation needs.
type BookingRepository interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*bookingdomain.Booking, error)
	UpdateDeposit(ctx context.Context, booking *bookingdomain.Booking) error
}

// OutboxEnqueuer records side effects in the reconciliation transaction.
type OutboxEnqueuer interface {
	Enqueue(ctx context.Context, input outboxusecase.EnqueueInput) (*outboxdomain.OutboxEvent, error)
}

// UseCase defines the interface for webhook reconciliation.
type UseCase interface {
	ProcessWebhook(ctx context.Context, payload []byte, signature string) (bool, error)
}

// ReconcileUseCase implements UseCase.
type ReconcileUseCase struct {
	txManager   database.TxManager
	verifier    service.SignatureVerifier
	receiptRepo ReceiptRepository
	paymentRepo PaymentRepository
	bookingRepo BookingRepository
	outbox      OutboxEnqueuer
	logger      *slog.Logger
}

// NewReconcileUseCase creates a new ReconcileUseCase.
func NewReconcileUseCase(
	txManager database.TxManager,
	verifier service.SignatureVerifier,
	receiptRepo ReceiptRepository,
	paymentRepo PaymentRepository,
	bookingRepo BookingRepository,
	outbox OutboxEnqueuer,
	logger *slog.Logger,
) *ReconcileUseCase {
	return &ReconcileUseCase{
		txManager:   txManager,
		verifier:    verifier,
		receiptRepo: receiptRepo,
		paymentRepo: paymentRepo,
		bookingRepo: bookingRepo,
		outbox:      outbox,
		logger:      logger,
	}
}

// ProcessWebhook verifies, deduplicates, and applies one provider event. The
// returned boolean reports whether domain effects were applied by this call;
// duplicates and unknown event types return false with no error so the
// provider stops redelivering.
func (uc *ReconcileUseCase) ProcessWebhook(
	ctx context.Context,
	payload []byte,
	signature string,
) (bool, error) {
	if !uc.verifier.Verify(payload, signature) {
		return false, domain.ErrInvalidSignature
	}

	var event domain.ProviderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return false, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed webhook payload")
	}
	if event.ID == "" || event.Type == "" || event.TenantID == uuid.Nil {
		return false, apperrors.Wrap(apperrors.ErrInvalidInput, "incomplete webhook payload")
	}

	// Claim the receipt in its own transaction so the claim survives a crash
	// during processing. The initial status is error: only fully applied
	// effects flip it to succeeded.
	hash := sha256.Sum256(payload)
	var receipt *domain.ProviderEventReceipt
	var won bool
	err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		var err error
		receipt, won, err = uc.receiptRepo.Claim(ctx, &domain.ProviderEventReceipt{
			ProviderEventID: event.ID,
			TenantID:        event.TenantID,
			EventType:       event.Type,
			PayloadHash:     hex.EncodeToString(hash[:]),
			Status:          domain.ReceiptStatusError,
		})
		return err
	})
	if err != nil {
		return false, err
	}

	if !won && receipt.Status == domain.ReceiptStatusSucceeded {
		if uc.logger != nil {
			uc.logger.Info("skipping duplicate provider event",
				slog.String("provider_event_id", event.ID),
				slog.String("event_type", event.Type),
			)
		}
		return false, nil
	}

	switch event.Type {
	case domain.EventCheckoutCompleted, domain.EventPaymentConfirmed:
		return uc.applyPayment(ctx, &event)
	default:
		// Unknown types are acknowledged so the provider stops retrying, but
		// the receipt keeps them auditable.
		if uc.logger != nil {
			uc.logger.Warn("ignoring unknown provider event type",
				slog.String("provider_event_id", event.ID),
				slog.String("event_type", event.Type),
			)
		}
		err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
			return uc.receiptRepo.MarkSucceeded(ctx, event.ID)
		})
		return false, err
	}
}

// applyPayment records the payment, marks the booking deposit paid, and queues
// the confirmation email. All of it commits atomically with the receipt flip
// to succeeded, so a crash re-runs the whole step on redelivery.
func (uc *ReconcileUseCase) applyPayment(ctx context.Context, event *domain.ProviderEvent) (bool, error) {
	if event.Transaction.ID == "" {
		return false, apperrors.Wrap(apperrors.ErrInvalidInput, "webhook event has no transaction")
	}

	var applied bool
	err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		recorded, err := uc.paymentRepo.Record(ctx, &domain.Payment{
			ID:                    uuid.Must(uuid.NewV7()),
			TenantID:              event.TenantID,
			BookingID:             event.BookingID,
			ProviderTransactionID: event.Transaction.ID,
			Amount:                event.Transaction.Amount,
			Currency:              event.Transaction.Currency,
		})
		if err != nil {
			return err
		}

		if recorded {
			booking, err := uc.bookingRepo.GetByID(ctx, event.TenantID, event.BookingID)
			if err != nil {
				return err
			}
			booking.DepositStatus = bookingdomain.DepositPaid
			if err := uc.bookingRepo.UpdateDeposit(ctx, booking); err != nil {
				return err
			}

			_, err = uc.outbox.Enqueue(ctx, outboxusecase.EnqueueInput{
				TenantID: event.TenantID,
				Kind:     outboxdomain.KindEmail,
				Payload: map[string]any{
					"recipient": booking.CustomerEmail,
					"subject":   "Payment received",
					"body": fmt.Sprintf("We received your deposit of %s %s.",
						event.Transaction.Amount.StringFixed(2), event.Transaction.Currency),
				},
				DedupeKey: "payment-confirmed:" + event.Transaction.ID,
			})
			if err != nil {
				return err
			}
		}

		applied = recorded
		return uc.receiptRepo.MarkSucceeded(ctx, event.ID)
	})
	if err != nil {
		return false, err
	}

	if uc.logger != nil {
		uc.logger.Info("reconciled provider event",
			slog.String("provider_event_id", event.ID),
			slog.String("event_type", event.Type),
			slog.Bool("applied", applied),
		)
	}

	return applied, nil
}
