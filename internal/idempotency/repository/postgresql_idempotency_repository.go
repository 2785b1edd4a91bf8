// Package repository provides data persistence implementations for idempotency records.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/tidywork/tidywork/internal/database"
	apperrors "github.com/tidywork/tidywork/internal/errors"
	"github.com/tidywork/tidywork/internal/idempotency/domain"
)

// PostgreSQLIdempotencyRepository handles idempotency record persistence for PostgreSQL.
type PostgreSQLIdempotencyRepository struct {
	db *sql.DB
}

// NewPostgreSQLIdempotencyRepository creates a new PostgreSQLIdempotencyRepository.
func NewPostgreSQLIdempotencyRepository(db *sql.DB) *PostgreSQLIdempotencyRepository {
	return &PostgreSQLIdempotencyRepository{
		db: db,
	}
}

const recordColumns = `id, tenant_id, key, operation, fingerprint, status,
			response_status, response_body, created_at, updated_at`

// Claim inserts an in-progress record, or returns the existing one when the
// (tenant_id, key, operation) triple is already taken. The boolean reports
// whether this call won the claim.
func (r *PostgreSQLIdempotencyRepository) Claim(
	ctx context.Context,
	record *domain.Record,
) (*domain.Record, bool, error) {
	querier := database.GetTx(ctx, r.db)

	insert := `INSERT INTO idempotency_records (id, tenant_id, key, operation, fingerprint, status,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (tenant_id, key, operation) DO NOTHING
		RETURNING ` + recordColumns

	row := querier.QueryRowContext(ctx, insert, record.ID, record.TenantID, record.Key,
		record.Operation, record.Fingerprint, record.Status)

	claimed, err := scanRecord(row)
	if err == nil {
		return claimed, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, apperrors.Wrap(err, "failed to claim idempotency record")
	}

	query := `SELECT ` + recordColumns + `
		FROM idempotency_records
		WHERE tenant_id = $1 AND key = $2 AND operation = $3`

	existing, err := scanRecord(querier.QueryRowContext(ctx, query,
		record.TenantID, record.Key, record.Operation))
	if err != nil {
		return nil, false, apperrors.Wrap(err, "failed to fetch existing idempotency record")
	}

	return existing, false, nil
}

// Complete stores the final response against the record.
func (r *PostgreSQLIdempotencyRepository) Complete(
	ctx context.Context,
	id uuid.UUID,
	responseStatus int,
	responseBody string,
) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE idempotency_records
		SET status = $1, response_status = $2, response_body = $3, updated_at = NOW()
		WHERE id = $4`

	_, err := querier.ExecContext(ctx, query, domain.StatusCompleted, responseStatus, responseBody, id)
	if err != nil {
		return apperrors.Wrap(err, "failed to complete idempotency record")
	}

	return nil
}

// Release deletes an in-progress record so the client can retry after a
// failure that produced no response worth caching.
func (r *PostgreSQLIdempotencyRepository) Release(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	query := `DELETE FROM idempotency_records WHERE id = $1 AND status = $2`

	_, err := querier.ExecContext(ctx, query, id, domain.StatusInProgress)
	if err != nil {
		return apperrors.Wrap(err, "failed to release idempotency record")
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*domain.Record, error) {
	var record domain.Record

	err := s.Scan(&record.ID, &record.TenantID, &record.Key, &record.Operation,
		&record.Fingerprint, &record.Status, &record.ResponseStatus, &record.ResponseBody,
		&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &record, nil
}
