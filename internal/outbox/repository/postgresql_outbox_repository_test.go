package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidywork/tidywork/internal/outbox/domain"
)

var outboxTestColumns = []string{
	"id", "tenant_id", "kind", "payload", "dedupe_key", "status", "attempts",
	"next_attempt_at", "last_error", "created_at", "updated_at",
}

func newTestEvent() *domain.OutboxEvent {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.OutboxEvent{
		ID:            uuid.Must(uuid.NewV7()),
		TenantID:      uuid.Must(uuid.NewV7()),
		Kind:          domain.KindEmail,
		Payload:       `{"recipient":"customer@example.com"}`,
		DedupeKey:     "booking-confirmed:b1",
		Status:        domain.StatusPending,
		Attempts:      0,
		NextAttemptAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func eventRow(event *domain.OutboxEvent) *sqlmock.Rows {
	return sqlmock.NewRows(outboxTestColumns).AddRow(
		event.ID.String(), event.TenantID.String(), string(event.Kind), event.Payload,
		event.DedupeKey, string(event.Status), event.Attempts,
		event.NextAttemptAt, nil, event.CreatedAt, event.UpdatedAt,
	)
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestPostgreSQLOutboxEventRepository_Enqueue(t *testing.T) {
	t.Run("inserts a new event", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgreSQLOutboxEventRepository(db)
		event := newTestEvent()

		mock.ExpectQuery("INSERT INTO outbox_events").
			WithArgs(event.ID, event.TenantID, event.Kind, event.Payload, event.DedupeKey,
				event.Status, event.Attempts, event.NextAttemptAt).
			WillReturnRows(eventRow(event))

		created, err := repo.Enqueue(context.Background(), event)
		require.NoError(t, err)
		assert.Equal(t, event.ID, created.ID)
		assert.Equal(t, domain.StatusPending, created.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns the existing event on dedupe conflict", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgreSQLOutboxEventRepository(db)
		event := newTestEvent()

		winner := newTestEvent()
		winner.TenantID = event.TenantID
		winner.DedupeKey = event.DedupeKey

		mock.ExpectQuery("INSERT INTO outbox_events").
			WillReturnRows(sqlmock.NewRows(outboxTestColumns))
		mock.ExpectQuery("SELECT (.+) FROM outbox_events").
			WithArgs(event.TenantID, event.DedupeKey).
			WillReturnRows(eventRow(winner))

		existing, err := repo.Enqueue(context.Background(), event)
		require.NoError(t, err)
		assert.Equal(t, winner.ID, existing.ID)
		assert.NotEqual(t, event.ID, existing.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgreSQLOutboxEventRepository_ClaimDue(t *testing.T) {
	t.Run("claims due events", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgreSQLOutboxEventRepository(db)
		first := newTestEvent()
		second := newTestEvent()
		now := time.Now()

		rows := eventRow(first).AddRow(
			second.ID.String(), second.TenantID.String(), string(second.Kind), second.Payload,
			second.DedupeKey, string(second.Status), second.Attempts,
			second.NextAttemptAt, nil, second.CreatedAt, second.UpdatedAt,
		)
		mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
			WithArgs(domain.StatusPending, domain.StatusRetry, now, 50).
			WillReturnRows(rows)

		events, err := repo.ClaimDue(context.Background(), now, 50)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, first.ID, events[0].ID)
		assert.Equal(t, second.ID, events[1].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns empty batch when nothing is due", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgreSQLOutboxEventRepository(db)
		now := time.Now()

		mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
			WillReturnRows(sqlmock.NewRows(outboxTestColumns))

		events, err := repo.ClaimDue(context.Background(), now, 50)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestPostgreSQLOutboxEventRepository_GetByID(t *testing.T) {
	t.Run("returns the event", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgreSQLOutboxEventRepository(db)
		event := newTestEvent()

		mock.ExpectQuery("SELECT (.+) FROM outbox_events WHERE id").
			WithArgs(event.ID).
			WillReturnRows(eventRow(event))

		found, err := repo.GetByID(context.Background(), event.ID)
		require.NoError(t, err)
		assert.Equal(t, event.ID, found.ID)
	})

	t.Run("returns not found for unknown id", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgreSQLOutboxEventRepository(db)
		id := uuid.Must(uuid.NewV7())

		mock.ExpectQuery("SELECT (.+) FROM outbox_events WHERE id").
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(outboxTestColumns))

		_, err := repo.GetByID(context.Background(), id)
		assert.ErrorIs(t, err, domain.ErrEventNotFound)
	})
}

func TestPostgreSQLOutboxEventRepository_Update(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgreSQLOutboxEventRepository(db)
	event := newTestEvent()
	event.Status = domain.StatusSent
	event.Attempts = 1
	event.NextAttemptAt = nil

	mock.ExpectExec("UPDATE outbox_events").
		WithArgs(event.Status, event.Attempts, event.NextAttemptAt, event.LastError, event.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), event)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLOutboxEventRepository_ListDead(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgreSQLOutboxEventRepository(db)
	event := newTestEvent()
	event.Status = domain.StatusDead

	mock.ExpectQuery("WHERE tenant_id = (.+) AND status").
		WithArgs(event.TenantID, domain.StatusDead, 0, 50).
		WillReturnRows(eventRow(event))

	events, err := repo.ListDead(context.Background(), event.TenantID, 0, 50)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.ID, events[0].ID)
}

func TestPostgreSQLOutboxEventRepository_CountByStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgreSQLOutboxEventRepository(db)

	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("pending", 3).
		AddRow("dead", 1)
	mock.ExpectQuery("GROUP BY status").WillReturnRows(rows)

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[domain.StatusPending])
	assert.Equal(t, int64(1), counts[domain.StatusDead])
}

func TestPostgreSQLOutboxEventRepository_CreateDeadLetter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgreSQLOutboxEventRepository(db)
	letter := &domain.DeadLetter{
		ID:        uuid.Must(uuid.NewV7()),
		EventID:   uuid.Must(uuid.NewV7()),
		TenantID:  uuid.Must(uuid.NewV7()),
		Kind:      domain.KindWebhook,
		Attempts:  8,
		LastError: "destination returned 503",
		Payload:   `{"url":"https://hooks.example.com/x"}`,
		FailedAt:  time.Now(),
	}

	mock.ExpectExec("INSERT INTO outbox_dead_letters").
		WithArgs(letter.ID, letter.EventID, letter.TenantID, letter.Kind, letter.Attempts,
			letter.LastError, letter.TargetHost, letter.Payload, letter.FailedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateDeadLetter(context.Background(), letter)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
