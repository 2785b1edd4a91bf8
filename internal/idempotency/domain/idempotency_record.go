// Package domain contains idempotency-key entities and decisions.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/tidywork/tidywork/internal/errors"
)

// Record status values.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Idempotency errors.
var (
	// ErrKeyReuse marks an idempotency key reused with a different request body.
	ErrKeyReuse = apperrors.Wrap(apperrors.ErrConflict, "idempotency key reused with a different request")
	// ErrStillRunning marks a retry that arrived while the first attempt is in flight.
	ErrStillRunning = apperrors.Wrap(apperrors.ErrInProgress, "original request still in progress")
)

// Record tracks one idempotent request attempt. The (tenant, key, operation)
// triple is unique; the fingerprint binds the key to one request body so a
// reused key with different content is rejected instead of silently replayed.
type Record struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	Key            string    `json:"key"`
	Operation      string    `json:"operation"`
	Fingerprint    string    `json:"fingerprint"`
	Status         string    `json:"status"`
	ResponseStatus *int      `json:"response_status,omitempty"`
	ResponseBody   *string   `json:"response_body,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DecisionCode classifies what the caller should do with the request.
type DecisionCode string

// Decision codes.
const (
	// DecisionProceed means this is the first time the key was seen: execute.
	DecisionProceed DecisionCode = "proceed"
	// DecisionServeCache means the operation already completed: replay the
	// stored response without re-executing.
	DecisionServeCache DecisionCode = "serve_cache"
	// DecisionConflict means the key was reused with a different request.
	DecisionConflict DecisionCode = "conflict"
	// DecisionInProgress means the first attempt has not finished yet.
	DecisionInProgress DecisionCode = "in_progress"
)

// Decision is the outcome of starting an idempotent request.
type Decision struct {
	Code   DecisionCode
	Record *Record
}

// Fingerprint derives the request fingerprint from the method, path, and body.
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
