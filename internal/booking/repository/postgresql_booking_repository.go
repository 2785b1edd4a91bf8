// Package repository provides data persistence implementations for bookings.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/tidywork/tidywork/internal/booking/domain"
	"github.com/tidywork/tidywork/internal/database"
	apperrors "github.com/tidywork/tidywork/internal/errors"
)

// PostgreSQLBookingRepository handles booking persistence for PostgreSQL.
type PostgreSQLBookingRepository struct {
	db *sql.DB
}

// NewPostgreSQLBookingRepository creates a new PostgreSQLBookingRepository.
func NewPostgreSQLBookingRepository(db *sql.DB) *PostgreSQLBookingRepository {
	return &PostgreSQLBookingRepository{
		db: db,
	}
}

const bookingColumns = `id, tenant_id, customer_email, deposit_amount, deposit_currency,
			deposit_status, provider_session_id, created_at, updated_at`

// Create inserts a new booking.
func (r *PostgreSQLBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO bookings (id, tenant_id, customer_email, deposit_amount, deposit_currency,
			deposit_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`

	_, err := querier.ExecContext(ctx, query, booking.ID, booking.TenantID, booking.CustomerEmail,
		booking.DepositAmount, booking.DepositCurrency, booking.DepositStatus)
	if err != nil {
		return apperrors.Wrap(err, "failed to create booking")
	}

	return nil
}

// GetByID retrieves a tenant's booking by id.
func (r *PostgreSQLBookingRepository) GetByID(
	ctx context.Context,
	tenantID, id uuid.UUID,
) (*domain.Booking, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE tenant_id = $1 AND id = $2`

	var booking domain.Booking
	err := querier.QueryRowContext(ctx, query, tenantID, id).Scan(
		&booking.ID, &booking.TenantID, &booking.CustomerEmail, &booking.DepositAmount,
		&booking.DepositCurrency, &booking.DepositStatus, &booking.ProviderSessionID,
		&booking.CreatedAt, &booking.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get booking by id")
	}

	return &booking, nil
}

// UpdateDeposit persists the deposit status and provider session reference.
func (r *PostgreSQLBookingRepository) UpdateDeposit(ctx context.Context, booking *domain.Booking) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE bookings
		SET deposit_status = $1, provider_session_id = $2, updated_at = NOW()
		WHERE tenant_id = $3 AND id = $4`

	result, err := querier.ExecContext(ctx, query, booking.DepositStatus,
		booking.ProviderSessionID, booking.TenantID, booking.ID)
	if err != nil {
		return apperrors.Wrap(err, "failed to update booking deposit")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to check booking update")
	}
	if affected == 0 {
		return domain.ErrBookingNotFound
	}

	return nil
}
