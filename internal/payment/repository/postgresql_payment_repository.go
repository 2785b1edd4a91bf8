// Package repository provides data persistence implementations for payment entities.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tidywork/tidywork/internal/database"
	apperrors "github.com/tidywork/tidywork/internal/errors"
	"github.com/tidywork/tidywork/internal/payment/domain"
)

// PostgreSQLReceiptRepository handles provider event receipt persistence for PostgreSQL.
type PostgreSQLReceiptRepository struct {
	db *sql.DB
}

// NewPostgreSQLReceiptRepository creates a new PostgreSQLReceiptRepository.
func NewPostgreSQLReceiptRepository(db *sql.DB) *PostgreSQLReceiptRepository {
	return &PostgreSQLReceiptRepository{
		db: db,
	}
}

// Claim inserts the receipt for a provider event, or returns the existing one.
// The boolean reports whether this call created the receipt.
func (r *PostgreSQLReceiptRepository) Claim(
	ctx context.Context,
	receipt *domain.ProviderEventReceipt,
) (*domain.ProviderEventReceipt, bool, error) {
	querier := database.GetTx(ctx, r.db)

	insert := `INSERT INTO provider_event_receipts (provider_event_id, tenant_id, event_type,
			payload_hash, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (provider_event_id) DO NOTHING
		RETURNING provider_event_id, tenant_id, event_type, payload_hash, status, created_at, updated_at`

	row := querier.QueryRowContext(ctx, insert, receipt.ProviderEventID, receipt.TenantID,
		receipt.EventType, receipt.PayloadHash, receipt.Status)

	claimed, err := scanReceipt(row)
	if err == nil {
		return claimed, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, apperrors.Wrap(err, "failed to claim provider event receipt")
	}

	query := `SELECT provider_event_id, tenant_id, event_type, payload_hash, status, created_at, updated_at
		FROM provider_event_receipts
		WHERE provider_event_id = $1`

	existing, err := scanReceipt(querier.QueryRowContext(ctx, query, receipt.ProviderEventID))
	if err != nil {
		return nil, false, apperrors.Wrap(err, "failed to fetch provider event receipt")
	}

	return existing, false, nil
}

// MarkSucceeded records that the event's domain effects are fully applied.
func (r *PostgreSQLReceiptRepository) MarkSucceeded(ctx context.Context, providerEventID string) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE provider_event_receipts
		SET status = $1, updated_at = NOW()
		WHERE provider_event_id = $2`

	_, err := querier.ExecContext(ctx, query, domain.ReceiptStatusSucceeded, providerEventID)
	if err != nil {
		return apperrors.Wrap(err, "failed to mark provider event succeeded")
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReceipt(s scanner) (*domain.ProviderEventReceipt, error) {
	var receipt domain.ProviderEventReceipt

	err := s.Scan(&receipt.ProviderEventID, &receipt.TenantID, &receipt.EventType,
		&receipt.PayloadHash, &receipt.Status, &receipt.CreatedAt, &receipt.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &receipt, nil
}

// PostgreSQLPaymentRepository handles payment persistence for PostgreSQL.
type PostgreSQLPaymentRepository struct {
	db *sql.DB
}

// NewPostgreSQLPaymentRepository creates a new PostgreSQLPaymentRepository.
func NewPostgreSQLPaymentRepository(db *sql.DB) *PostgreSQLPaymentRepository {
	return &PostgreSQLPaymentRepository{
		db: db,
	}
}

// Record inserts the payment unless the provider transaction was already
// recorded for the tenant. The boolean reports whether a row was written.
func (r *PostgreSQLPaymentRepository) Record(ctx context.Context, payment *domain.Payment) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO payments (id, tenant_id, booking_id, provider_transaction_id,
			amount, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (tenant_id, provider_transaction_id) DO NOTHING`

	result, err := querier.ExecContext(ctx, query, payment.ID, payment.TenantID, payment.BookingID,
		payment.ProviderTransactionID, payment.Amount, payment.Currency)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to record payment")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to check payment insert")
	}

	return affected > 0, nil
}
