// Package domain defines the core outbox domain entities and types.
package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/tidywork/tidywork/internal/errors"
)

// Kind selects the delivery function for an outbox event.
type Kind string

const (
	KindEmail   Kind = "email"
	KindWebhook Kind = "webhook"
	KindExport  Kind = "export"
)

// Kinds lists every supported event kind.
var Kinds = []Kind{KindEmail, KindWebhook, KindExport}

// Status represents the status of an outbox event. Sent and dead are terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusRetry   Status = "retry"
	StatusSent    Status = "sent"
	StatusDead    Status = "dead"
)

// OutboxEvent represents an intended external side effect recorded in the same
// transaction as the domain write that triggered it.
type OutboxEvent struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Kind          Kind
	Payload       string
	DedupeKey     string
	Status        Status
	Attempts      int
	NextAttemptAt *time.Time
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Terminal reports whether the event is in a terminal status.
func (e *OutboxEvent) Terminal() bool {
	return e.Status == StatusSent || e.Status == StatusDead
}

// DeadLetter is the denormalized operator-facing record created when an event
// exhausts its retry budget. The payload is kept for replay; the target host is
// stored without path or query so the record stays free of payload data.
type DeadLetter struct {
	ID         uuid.UUID
	EventID    uuid.UUID
	TenantID   uuid.UUID
	Kind       Kind
	Attempts   int
	LastError  string
	TargetHost string
	Payload    string
	FailedAt   time.Time
}

// Domain-specific errors for outbox operations.
var (
	// ErrEventNotFound indicates the requested outbox event does not exist.
	ErrEventNotFound = errors.Wrap(errors.ErrNotFound, "outbox event not found")

	// ErrEventAlreadySent indicates a replay was requested for a delivered event.
	ErrEventAlreadySent = errors.Wrap(errors.ErrConflict, "outbox event already sent")

	// ErrUnknownKind indicates the event kind has no registered deliverer.
	ErrUnknownKind = errors.Wrap(errors.ErrInvalidInput, "unknown outbox event kind")

	// ErrNoTransaction indicates enqueue was called outside the caller's transaction.
	ErrNoTransaction = errors.New("outbox enqueue requires an active transaction")
)
