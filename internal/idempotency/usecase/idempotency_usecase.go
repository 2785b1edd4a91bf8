// Package usecase implements the idempotency-key decision logic.
package usecase

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tidywork/tidywork/internal/idempotency/domain"
)

// IdempotencyRepository defines idempotency record repository operations.
type IdempotencyRepository interface {
	Claim(ctx context.Context, record *domain.Record) (*domain.Record, bool, error)
	Complete(ctx context.Context, id uuid.UUID, responseStatus int, responseBody string) error
	Release(ctx context.Context, id uuid.UUID) error
}

// UseCase defines the interface for idempotency use cases.
type UseCase interface {
	Begin(ctx context.Context, input BeginInput) (*domain.Decision, error)
	Complete(ctx context.Context, recordID uuid.UUID, responseStatus int, responseBody string) error
	Release(ctx context.Context, recordID uuid.UUID) error
}

// BeginInput identifies one idempotent request attempt.
type BeginInput struct {
	TenantID    uuid.UUID
	Key         string
	Operation   string
	Fingerprint string
}

// IdempotencyUseCase implements UseCase.
type IdempotencyUseCase struct {
	repo   IdempotencyRepository
	logger *slog.Logger
}

// NewIdempotencyUseCase creates a new IdempotencyUseCase.
func NewIdempotencyUseCase(repo IdempotencyRepository, logger *slog.Logger) *IdempotencyUseCase {
	return &IdempotencyUseCase{repo: repo, logger: logger}
}

// Begin claims the idempotency key. Claiming first, before any work happens,
// closes the race where two identical requests interleave: exactly one caller
// gets Proceed, everyone else observes that claim.
func (uc *IdempotencyUseCase) Begin(ctx context.Context, input BeginInput) (*domain.Decision, error) {
	candidate := &domain.Record{
		ID:          uuid.Must(uuid.NewV7()),
		TenantID:    input.TenantID,
		Key:         input.Key,
		Operation:   input.Operation,
		Fingerprint: input.Fingerprint,
		Status:      domain.StatusInProgress,
	}

	record, won, err := uc.repo.Claim(ctx, candidate)
	if err != nil {
		return nil, err
	}

	if won {
		return &domain.Decision{Code: domain.DecisionProceed, Record: record}, nil
	}

	if record.Fingerprint != input.Fingerprint {
		return &domain.Decision{Code: domain.DecisionConflict, Record: record}, nil
	}

	if record.Status == domain.StatusInProgress {
		return &domain.Decision{Code: domain.DecisionInProgress, Record: record}, nil
	}

	if uc.logger != nil {
		uc.logger.Info("serving cached idempotent response",
			slog.String("tenant_id", input.TenantID.String()),
			slog.String("operation", input.Operation),
		)
	}

	return &domain.Decision{Code: domain.DecisionServeCache, Record: record}, nil
}

// Complete stores the response so later retries replay it.
func (uc *IdempotencyUseCase) Complete(
	ctx context.Context,
	recordID uuid.UUID,
	responseStatus int,
	responseBody string,
) error {
	return uc.repo.Complete(ctx, recordID, responseStatus, responseBody)
}

// Release abandons a claim whose handler crashed before producing a response.
func (uc *IdempotencyUseCase) Release(ctx context.Context, recordID uuid.UUID) error {
	return uc.repo.Release(ctx, recordID)
}
