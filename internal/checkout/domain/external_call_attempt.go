// Package domain contains the external call attempt entity that anchors the
// two-phase checkout protocol.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/tidywork/tidywork/internal/errors"
)

// Status of an external call attempt.
type Status string

// Attempt status values.
const (
	// StatusPending is recorded durably before the provider is contacted, so
	// a crash mid-call leaves evidence that a session may exist remotely.
	StatusPending Status = "pending"
	StatusCreated Status = "created"
	StatusFailed  Status = "failed"
)

// Error categories stored on failed attempts. Raw provider messages are kept
// out of the table; only the category is persisted.
const (
	ErrorTimeout     = "timeout"
	ErrorUnavailable = "provider_unavailable"
	ErrorRejected    = "provider_rejected"
	ErrorFinalize    = "finalize_failed"
)

// Checkout errors.
var (
	ErrAttemptNotFound = apperrors.Wrap(apperrors.ErrNotFound, "checkout attempt not found")
	ErrDepositPaid     = apperrors.Wrap(apperrors.ErrConflict, "deposit already paid")
)

// ExternalCallAttempt records one logical checkout session request against the
// payment provider. One active attempt exists per (tenant, subject, purpose).
type ExternalCallAttempt struct {
	ID                uuid.UUID       `json:"id"`
	TenantID          uuid.UUID       `json:"tenant_id"`
	SubjectID         uuid.UUID       `json:"subject_id"`
	Purpose           string          `json:"purpose"`
	IdempotencyKey    string          `json:"idempotency_key"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            Status          `json:"status"`
	ProviderSessionID *string         `json:"provider_session_id,omitempty"`
	RedirectURL       *string         `json:"redirect_url,omitempty"`
	ErrorType         *string         `json:"error_type,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IdempotencyKey derives the provider-facing idempotency key from the
// attempt's identity. The key is deterministic: retrying the same logical
// request always presents the same key, so the provider deduplicates sessions
// even when our pending record was written by a crashed process.
func IdempotencyKey(purpose string, subjectID uuid.UUID, amount decimal.Decimal, currency string) string {
	h := sha256.New()
	h.Write([]byte(purpose))
	h.Write([]byte{'|'})
	h.Write([]byte(subjectID.String()))
	h.Write([]byte{'|'})
	h.Write([]byte(amount.String()))
	h.Write([]byte{'|'})
	h.Write([]byte(currency))
	return hex.EncodeToString(h.Sum(nil))
}
