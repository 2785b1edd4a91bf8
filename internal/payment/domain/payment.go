// Package domain contains payment entities produced by provider webhook
// reconciliation.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/tidywork/tidywork/internal/errors"
)

// Receipt status values.
const (
	ReceiptStatusError     = "error"
	ReceiptStatusSucceeded = "succeeded"
)

// Provider event types the reconciler acts on.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventPaymentConfirmed  = "payment.confirmed"
)

// Payment errors.
var (
	// ErrInvalidSignature marks a webhook whose signature check failed.
	ErrInvalidSignature = apperrors.Wrap(apperrors.ErrUnauthorized, "invalid webhook signature")
)

// ProviderEventReceipt tracks processing of one provider event. The receipt is
// claimed with status error before any work happens, so a crash mid-processing
// leaves a row that a redelivery can pick up, while a completed row dedupes
// repeat deliveries of the same event id.
type ProviderEventReceipt struct {
	ProviderEventID string    `json:"provider_event_id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	EventType       string    `json:"event_type"`
	PayloadHash     string    `json:"payload_hash"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Payment is the domain effect of a confirmed provider transaction. The
// (tenant, provider transaction) pair is unique, so replaying the same
// transaction through different events cannot double-record it.
type Payment struct {
	ID                    uuid.UUID       `json:"id"`
	TenantID              uuid.UUID       `json:"tenant_id"`
	BookingID             uuid.UUID       `json:"booking_id"`
	ProviderTransactionID string          `json:"provider_transaction_id"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	CreatedAt             time.Time       `json:"created_at"`
}

// ProviderTransaction is the money movement reported by a provider event.
type ProviderTransaction struct {
	ID       string          `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// ProviderEvent is the decoded webhook envelope.
type ProviderEvent struct {
	ID          string              `json:"id"`
	Type        string              `json:"type"`
	TenantID    uuid.UUID           `json:"tenant_id"`
	BookingID   uuid.UUID           `json:"booking_id"`
	Transaction ProviderTransaction `json:"transaction"`
}
