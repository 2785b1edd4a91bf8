// Package repository provides data persistence implementations for checkout attempts.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/tidywork/tidywork/internal/checkout/domain"
	"github.com/tidywork/tidywork/internal/database"
	apperrors "github.com/tidywork/tidywork/internal/errors"
)

// PostgreSQLAttemptRepository handles external call attempt persistence for PostgreSQL.
type PostgreSQLAttemptRepository struct {
	db *sql.DB
}

// NewPostgreSQLAttemptRepository creates a new PostgreSQLAttemptRepository.
func NewPostgreSQLAttemptRepository(db *sql.DB) *PostgreSQLAttemptRepository {
	return &PostgreSQLAttemptRepository{
		db: db,
	}
}

const attemptColumns = `id, tenant_id, subject_id, purpose, idempotency_key, amount, currency,
			status, provider_session_id, redirect_url, error_type, created_at, updated_at`

// UpsertPending writes the durable pending intent. A previous failed or
// pending attempt for the same (tenant, subject, purpose) is reset; an
// attempt that already reached created is left untouched and returned as-is
// so the caller can short-circuit to the existing session.
func (r *PostgreSQLAttemptRepository) UpsertPending(
	ctx context.Context,
	attempt *domain.ExternalCallAttempt,
) (*domain.ExternalCallAttempt, error) {
	querier := database.GetTx(ctx, r.db)

	upsert := `INSERT INTO external_call_attempts (id, tenant_id, subject_id, purpose,
			idempotency_key, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (tenant_id, subject_id, purpose) DO UPDATE
		SET idempotency_key = EXCLUDED.idempotency_key,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			provider_session_id = NULL,
			redirect_url = NULL,
			error_type = NULL,
			updated_at = NOW()
		WHERE external_call_attempts.status <> 'created'
		RETURNING ` + attemptColumns

	row := querier.QueryRowContext(ctx, upsert, attempt.ID, attempt.TenantID, attempt.SubjectID,
		attempt.Purpose, attempt.IdempotencyKey, attempt.Amount, attempt.Currency, attempt.Status)

	written, err := scanAttempt(row)
	if err == nil {
		return written, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Wrap(err, "failed to upsert checkout attempt")
	}

	// The upsert was a no-op: an attempt already reached created.
	existing, err := r.GetBySubject(ctx, attempt.TenantID, attempt.SubjectID, attempt.Purpose)
	if err != nil {
		return nil, err
	}

	return existing, nil
}

// GetBySubject retrieves the attempt for a (tenant, subject, purpose).
func (r *PostgreSQLAttemptRepository) GetBySubject(
	ctx context.Context,
	tenantID, subjectID uuid.UUID,
	purpose string,
) (*domain.ExternalCallAttempt, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + attemptColumns + `
		FROM external_call_attempts
		WHERE tenant_id = $1 AND subject_id = $2 AND purpose = $3`

	attempt, err := scanAttempt(querier.QueryRowContext(ctx, query, tenantID, subjectID, purpose))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAttemptNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get checkout attempt")
	}

	return attempt, nil
}

// Finalize marks the attempt created and stores the provider session.
func (r *PostgreSQLAttemptRepository) Finalize(
	ctx context.Context,
	id uuid.UUID,
	providerSessionID, redirectURL string,
) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE external_call_attempts
		SET status = $1, provider_session_id = $2, redirect_url = $3, error_type = NULL, updated_at = NOW()
		WHERE id = $4`

	_, err := querier.ExecContext(ctx, query, domain.StatusCreated, providerSessionID, redirectURL, id)
	if err != nil {
		return apperrors.Wrap(err, "failed to finalize checkout attempt")
	}

	return nil
}

// Fail marks the attempt failed with an error category.
func (r *PostgreSQLAttemptRepository) Fail(ctx context.Context, id uuid.UUID, errorType string) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE external_call_attempts
		SET status = $1, error_type = $2, updated_at = NOW()
		WHERE id = $3`

	_, err := querier.ExecContext(ctx, query, domain.StatusFailed, errorType, id)
	if err != nil {
		return apperrors.Wrap(err, "failed to mark checkout attempt failed")
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(s scanner) (*domain.ExternalCallAttempt, error) {
	var attempt domain.ExternalCallAttempt

	err := s.Scan(&attempt.ID, &attempt.TenantID, &attempt.SubjectID, &attempt.Purpose,
		&attempt.IdempotencyKey, &attempt.Amount, &attempt.Currency, &attempt.Status,
		&attempt.ProviderSessionID, &attempt.RedirectURL, &attempt.ErrorType,
		&attempt.CreatedAt, &attempt.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &attempt, nil
}
