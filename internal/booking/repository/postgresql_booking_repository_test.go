package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidywork/tidywork/internal/booking/domain"
)

func TestPostgreSQLBookingRepository_GetByID(t *testing.T) {
	t.Run("returns the booking", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewPostgreSQLBookingRepository(db)

		tenantID := uuid.Must(uuid.NewV7())
		id := uuid.Must(uuid.NewV7())
		now := time.Now()

		rows := sqlmock.NewRows([]string{
			"id", "tenant_id", "customer_email", "deposit_amount", "deposit_currency",
			"deposit_status", "provider_session_id", "created_at", "updated_at",
		}).AddRow(id.String(), tenantID.String(), "customer@example.com", "45.00", "USD",
			"unpaid", nil, now, now)

		mock.ExpectQuery("SELECT (.+) FROM bookings").
			WithArgs(tenantID, id).
			WillReturnRows(rows)

		booking, err := repo.GetByID(context.Background(), tenantID, id)
		require.NoError(t, err)
		assert.Equal(t, id, booking.ID)
		assert.True(t, booking.DepositAmount.Equal(decimal.RequireFromString("45.00")))
		assert.Equal(t, domain.DepositUnpaid, booking.DepositStatus)
	})

	t.Run("returns not found for unknown id", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewPostgreSQLBookingRepository(db)

		mock.ExpectQuery("SELECT (.+) FROM bookings").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err = repo.GetByID(context.Background(), uuid.Must(uuid.NewV7()), uuid.Must(uuid.NewV7()))
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
	})
}

func TestPostgreSQLBookingRepository_UpdateDeposit(t *testing.T) {
	t.Run("updates the deposit", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewPostgreSQLBookingRepository(db)

		sessionID := "cs_123"
		booking := &domain.Booking{
			ID:                uuid.Must(uuid.NewV7()),
			TenantID:          uuid.Must(uuid.NewV7()),
			DepositStatus:     domain.DepositProcessing,
			ProviderSessionID: &sessionID,
		}

		mock.ExpectExec("UPDATE bookings").
			WithArgs(booking.DepositStatus, booking.ProviderSessionID, booking.TenantID, booking.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.UpdateDeposit(context.Background(), booking))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing booking is not found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewPostgreSQLBookingRepository(db)

		mock.ExpectExec("UPDATE bookings").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err = repo.UpdateDeposit(context.Background(), &domain.Booking{
			ID:       uuid.Must(uuid.NewV7()),
			TenantID: uuid.Must(uuid.NewV7()),
		})
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
	})
}
