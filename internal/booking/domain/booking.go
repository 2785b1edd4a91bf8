// Package domain contains booking entities used by the checkout and
// reconciliation flows.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/tidywork/tidywork/internal/errors"
)

// DepositStatus tracks the customer's deposit on a booking.
type DepositStatus string

// Deposit status values.
const (
	DepositUnpaid     DepositStatus = "unpaid"
	DepositProcessing DepositStatus = "processing"
	DepositPaid       DepositStatus = "paid"
)

// Booking errors.
var (
	ErrBookingNotFound = apperrors.Wrap(apperrors.ErrNotFound, "booking not found")
)

// Booking is a scheduled service appointment with an optional deposit.
type Booking struct {
	ID                uuid.UUID       `json:"id"`
	TenantID          uuid.UUID       `json:"tenant_id"`
	CustomerEmail     string          `json:"customer_email"`
	DepositAmount     decimal.Decimal `json:"deposit_amount"`
	DepositCurrency   string          `json:"deposit_currency"`
	DepositStatus     DepositStatus   `json:"deposit_status"`
	ProviderSessionID *string         `json:"provider_session_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
