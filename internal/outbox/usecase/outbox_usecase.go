// Package usecase implements the outbox business logic: transactional enqueue
// and the background dispatch loop that performs the recorded side effects.
package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	"github.com/tidywork/tidywork/internal/clock"
	"github.com/tidywork/tidywork/internal/database"
	apperrors "github.com/tidywork/tidywork/internal/errors"
	"github.com/tidywork/tidywork/internal/metrics"
	"github.com/tidywork/tidywork/internal/outbox/domain"
	appValidation "github.com/tidywork/tidywork/internal/validation"
)

// Config holds outbox dispatcher configuration.
type Config struct {
	// Interval is the pause between dispatch cycles.
	Interval time.Duration
	// BatchSize is the maximum number of events claimed per cycle.
	BatchSize int
	// MaxAttempts is the delivery attempt budget before an event goes dead.
	MaxAttempts int
	// BackoffBase is the base delay of the exponential retry backoff.
	BackoffBase time.Duration
}

// OutboxEventRepository defines outbox event repository operations.
type OutboxEventRepository interface {
	Enqueue(ctx context.Context, event *domain.OutboxEvent) (*domain.OutboxEvent, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.OutboxEvent, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.OutboxEvent, error)
	Update(ctx context.Context, event *domain.OutboxEvent) error
	ListDead(ctx context.Context, tenantID uuid.UUID, offset, limit int) ([]*domain.OutboxEvent, error)
	CountByStatus(ctx context.Context) (map[domain.Status]int64, error)
	CreateDeadLetter(ctx context.Context, letter *domain.DeadLetter) error
}

// Deliverer performs the side effect for one event kind.
type Deliverer interface {
	Deliver(ctx context.Context, event *domain.OutboxEvent) domain.Outcome
}

// UseCase defines the interface for outbox use cases.
type UseCase interface {
	Enqueue(ctx context.Context, input EnqueueInput) (*domain.OutboxEvent, error)
	Start(ctx context.Context) error
	DispatchCycle(ctx context.Context) error
	Replay(ctx context.Context, tenantID, eventID uuid.UUID) (*domain.OutboxEvent, error)
	ListDeadEvents(ctx context.Context, tenantID uuid.UUID, offset, limit int) ([]*domain.OutboxEvent, error)
}

// EnqueueInput contains the input data for recording an intended side effect.
type EnqueueInput struct {
	TenantID  uuid.UUID      `json:"tenant_id"`
	Kind      domain.Kind    `json:"kind"`
	Payload   map[string]any `json:"payload"`
	DedupeKey string         `json:"dedupe_key"`
}

// Validate checks the enqueue input.
func (i EnqueueInput) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Kind,
			validation.Required,
			validation.In(domain.KindEmail, domain.KindWebhook, domain.KindExport).
				Error("must be one of: email, webhook, export"),
		),
		validation.Field(&i.DedupeKey,
			validation.Required.Error("dedupe key is required"),
			validation.Length(1, 255).Error("dedupe key must be between 1 and 255 characters"),
		),
		validation.Field(&i.TenantID, validation.Required.Error("tenant id is required")),
	)
}

// OutboxUseCase implements the transactional outbox and its dispatcher.
type OutboxUseCase struct {
	config       Config
	txManager    database.TxManager
	outboxRepo   OutboxEventRepository
	deliverers   map[domain.Kind]Deliverer
	queueMetrics metrics.QueueMetrics
	clock        clock.Clock
	logger       *slog.Logger
}

// NewOutboxUseCase creates a new OutboxUseCase. The deliverers map is the
// static dispatch table from event kind to delivery function.
func NewOutboxUseCase(
	config Config,
	txManager database.TxManager,
	outboxRepo OutboxEventRepository,
	deliverers map[domain.Kind]Deliverer,
	queueMetrics metrics.QueueMetrics,
	clk clock.Clock,
	logger *slog.Logger,
) *OutboxUseCase {
	if clk == nil {
		clk = clock.New()
	}
	if queueMetrics == nil {
		queueMetrics = metrics.NewNoOpQueueMetrics()
	}
	return &OutboxUseCase{
		config:       config,
		txManager:    txManager,
		outboxRepo:   outboxRepo,
		deliverers:   deliverers,
		queueMetrics: queueMetrics,
		clock:        clk,
		logger:       logger,
	}
}

// Enqueue records an intended side effect in the caller's transaction. It must
// be called inside the same transaction as the triggering domain write so the
// intent commits or rolls back atomically with it. Re-enqueueing with the same
// (tenant, dedupe key) returns the existing event.
func (uc *OutboxUseCase) Enqueue(ctx context.Context, input EnqueueInput) (*domain.OutboxEvent, error) {
	if !database.InTx(ctx) {
		return nil, domain.ErrNoTransaction
	}

	if err := input.Validate(); err != nil {
		return nil, appValidation.WrapValidationError(err)
	}

	payloadJSON, err := json.Marshal(input.Payload)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal outbox payload")
	}

	now := uc.clock.Now()
	event := &domain.OutboxEvent{
		ID:            uuid.Must(uuid.NewV7()),
		TenantID:      input.TenantID,
		Kind:          input.Kind,
		Payload:       string(payloadJSON),
		DedupeKey:     input.DedupeKey,
		Status:        domain.StatusPending,
		Attempts:      0,
		NextAttemptAt: &now,
	}

	return uc.outboxRepo.Enqueue(ctx, event)
}

// Start runs dispatch cycles until the context is cancelled.
func (uc *OutboxUseCase) Start(ctx context.Context) error {
	if uc.logger != nil {
		uc.logger.Info("starting outbox dispatcher",
			slog.Duration("interval", uc.config.Interval),
			slog.Int("batch_size", uc.config.BatchSize),
			slog.Int("max_attempts", uc.config.MaxAttempts),
		)
	}

	ticker := time.NewTicker(uc.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if uc.logger != nil {
				uc.logger.Info("stopping outbox dispatcher")
			}
			return ctx.Err()
		case <-ticker.C:
			if err := uc.DispatchCycle(ctx); err != nil {
				if uc.logger != nil {
					uc.logger.Error("dispatch cycle failed", slog.Any("error", err))
				}
			}
		}
	}
}

// DispatchCycle claims due events and delivers them. The claim uses row-level
// locks (SKIP LOCKED) so concurrent workers process disjoint batches.
func (uc *OutboxUseCase) DispatchCycle(ctx context.Context) error {
	err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		events, err := uc.outboxRepo.ClaimDue(ctx, uc.clock.Now(), uc.config.BatchSize)
		if err != nil {
			return err
		}

		for _, event := range events {
			if err := uc.dispatchEvent(ctx, event); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	uc.recordQueueDepth(ctx)
	return nil
}

// dispatchEvent runs one delivery attempt and applies the outcome to the row.
func (uc *OutboxUseCase) dispatchEvent(ctx context.Context, event *domain.OutboxEvent) error {
	event.Attempts++

	outcome := uc.deliver(ctx, event)

	switch outcome.Code {
	case domain.OutcomeDelivered:
		event.Status = domain.StatusSent
		event.NextAttemptAt = nil
		event.LastError = nil

	case domain.OutcomePermanent:
		// Non-retryable failures skip the remaining retry budget.
		if err := uc.markDead(ctx, event, outcome.Reason); err != nil {
			return err
		}

	default:
		if event.Attempts >= uc.config.MaxAttempts {
			if err := uc.markDead(ctx, event, outcome.Reason); err != nil {
				return err
			}
		} else {
			reason := outcome.Reason
			next := uc.clock.Now().Add(uc.backoff(event.Attempts))
			event.Status = domain.StatusRetry
			event.NextAttemptAt = &next
			event.LastError = &reason
		}
	}

	if uc.logger != nil {
		uc.logger.Info("dispatched outbox event",
			slog.String("event_id", event.ID.String()),
			slog.String("kind", string(event.Kind)),
			slog.String("status", string(event.Status)),
			slog.Int("attempts", event.Attempts),
		)
	}

	return uc.outboxRepo.Update(ctx, event)
}

// deliver resolves the delivery function for the event kind.
func (uc *OutboxUseCase) deliver(ctx context.Context, event *domain.OutboxEvent) domain.Outcome {
	deliverer, ok := uc.deliverers[event.Kind]
	if !ok {
		return domain.PermanentFailure("unknown_kind")
	}
	return deliverer.Deliver(ctx, event)
}

// markDead transitions the event to dead and materializes the dead-letter
// record. Every kind gets a dead letter so operators have one place to look.
func (uc *OutboxUseCase) markDead(ctx context.Context, event *domain.OutboxEvent, reason string) error {
	event.Status = domain.StatusDead
	event.NextAttemptAt = nil
	event.LastError = &reason

	letter := &domain.DeadLetter{
		ID:         uuid.Must(uuid.NewV7()),
		EventID:    event.ID,
		TenantID:   event.TenantID,
		Kind:       event.Kind,
		Attempts:   event.Attempts,
		LastError:  reason,
		TargetHost: redactedTargetHost(event.Payload),
		Payload:    event.Payload,
		FailedAt:   uc.clock.Now(),
	}

	if err := uc.outboxRepo.CreateDeadLetter(ctx, letter); err != nil {
		return apperrors.Wrap(err, "failed to create dead letter")
	}

	return nil
}

// backoff computes the exponential retry delay: base * 2^(attempts-1).
func (uc *OutboxUseCase) backoff(attempts int) time.Duration {
	delay := uc.config.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}

// Replay resets an event so it re-enters the normal dispatch cycle. Sent
// events cannot be replayed; the dispatcher re-checks destination policy on
// the replayed attempt like any other. Events belonging to another tenant
// read as not found.
func (uc *OutboxUseCase) Replay(ctx context.Context, tenantID, eventID uuid.UUID) (*domain.OutboxEvent, error) {
	var replayed *domain.OutboxEvent

	err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		event, err := uc.outboxRepo.GetByID(ctx, eventID)
		if err != nil {
			return err
		}

		if event.TenantID != tenantID {
			return domain.ErrEventNotFound
		}

		if event.Status == domain.StatusSent {
			return domain.ErrEventAlreadySent
		}

		now := uc.clock.Now()
		event.Status = domain.StatusPending
		event.Attempts = 0
		event.NextAttemptAt = &now
		event.LastError = nil

		if err := uc.outboxRepo.Update(ctx, event); err != nil {
			return err
		}

		replayed = event
		return nil
	})
	if err != nil {
		return nil, err
	}

	if uc.logger != nil {
		uc.logger.Info("replayed outbox event", slog.String("event_id", eventID.String()))
	}

	return replayed, nil
}

// ListDeadEvents returns a tenant's dead events for the admin surface.
func (uc *OutboxUseCase) ListDeadEvents(
	ctx context.Context,
	tenantID uuid.UUID,
	offset, limit int,
) ([]*domain.OutboxEvent, error) {
	return uc.outboxRepo.ListDead(ctx, tenantID, offset, limit)
}

// recordQueueDepth refreshes the per-status queue gauge after a cycle.
func (uc *OutboxUseCase) recordQueueDepth(ctx context.Context) {
	counts, err := uc.outboxRepo.CountByStatus(ctx)
	if err != nil {
		if uc.logger != nil {
			uc.logger.Warn("failed to record outbox queue depth", slog.Any("error", err))
		}
		return
	}

	for _, status := range []domain.Status{
		domain.StatusPending, domain.StatusRetry, domain.StatusSent, domain.StatusDead,
	} {
		uc.queueMetrics.RecordQueueDepth(ctx, string(status), counts[status])
	}
}

// redactedTargetHost extracts only the destination host from a payload for the
// dead-letter record, keeping paths, queries, and credentials out of it.
func redactedTargetHost(payload string) string {
	var doc struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil || doc.URL == "" {
		return ""
	}
	u, err := url.Parse(doc.URL)
	if err != nil {
		return ""
	}
	return u.Host
}
