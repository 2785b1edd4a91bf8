// Package repository provides data persistence implementations for outbox entities.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tidywork/tidywork/internal/database"
	apperrors "github.com/tidywork/tidywork/internal/errors"
	"github.com/tidywork/tidywork/internal/outbox/domain"
)

// PostgreSQLOutboxEventRepository handles outbox event persistence for PostgreSQL.
type PostgreSQLOutboxEventRepository struct {
	db *sql.DB
}

// NewPostgreSQLOutboxEventRepository creates a new PostgreSQLOutboxEventRepository.
func NewPostgreSQLOutboxEventRepository(db *sql.DB) *PostgreSQLOutboxEventRepository {
	return &PostgreSQLOutboxEventRepository{
		db: db,
	}
}

const outboxColumns = `id, tenant_id, kind, payload, dedupe_key, status, attempts,
			next_attempt_at, last_error, created_at, updated_at`

// Enqueue inserts a new outbox event, or returns the existing row when the
// (tenant_id, dedupe_key) pair already exists. The conflict-tolerant insert
// makes concurrent enqueues of the same logical effect race-safe.
func (r *PostgreSQLOutboxEventRepository) Enqueue(
	ctx context.Context,
	event *domain.OutboxEvent,
) (*domain.OutboxEvent, error) {
	querier := database.GetTx(ctx, r.db)

	insert := `INSERT INTO outbox_events (id, tenant_id, kind, payload, dedupe_key, status, attempts,
			next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (tenant_id, dedupe_key) DO NOTHING
		RETURNING ` + outboxColumns

	row := querier.QueryRowContext(ctx, insert, event.ID, event.TenantID, event.Kind, event.Payload,
		event.DedupeKey, event.Status, event.Attempts, event.NextAttemptAt)

	created, err := scanEvent(row)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Wrap(err, "failed to enqueue outbox event")
	}

	// Lost the insert: another enqueue with the same dedupe key won. Read the
	// winner back so the caller gets the canonical row.
	query := `SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE tenant_id = $1 AND dedupe_key = $2`

	existing, err := scanEvent(querier.QueryRowContext(ctx, query, event.TenantID, event.DedupeKey))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to fetch existing outbox event")
	}

	return existing, nil
}

// ClaimDue selects up to limit due events, oldest first, locking the rows so
// concurrent dispatcher workers never claim the same event twice.
func (r *PostgreSQLOutboxEventRepository) ClaimDue(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]*domain.OutboxEvent, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE status IN ($1, $2) AND next_attempt_at <= $3
		ORDER BY created_at ASC
		LIMIT $4
		FOR UPDATE SKIP LOCKED`

	rows, err := querier.QueryContext(ctx, query, domain.StatusPending, domain.StatusRetry, now, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to claim due outbox events")
	}
	defer rows.Close() //nolint:errcheck

	var events []*domain.OutboxEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan outbox event")
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate outbox events")
	}

	return events, nil
}

// GetByID retrieves an outbox event by id.
func (r *PostgreSQLOutboxEventRepository) GetByID(
	ctx context.Context,
	id uuid.UUID,
) (*domain.OutboxEvent, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + outboxColumns + ` FROM outbox_events WHERE id = $1`

	event, err := scanEvent(querier.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get outbox event by id")
	}

	return event, nil
}

// Update persists status, attempts, scheduling, and diagnostic changes.
func (r *PostgreSQLOutboxEventRepository) Update(ctx context.Context, event *domain.OutboxEvent) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE outbox_events
		SET status = $1, attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = NOW()
		WHERE id = $5`

	_, err := querier.ExecContext(ctx, query, event.Status, event.Attempts,
		event.NextAttemptAt, event.LastError, event.ID)
	if err != nil {
		return apperrors.Wrap(err, "failed to update outbox event")
	}

	return nil
}

// ListDead returns dead events for a tenant, newest first, paginated.
func (r *PostgreSQLOutboxEventRepository) ListDead(
	ctx context.Context,
	tenantID uuid.UUID,
	offset, limit int,
) ([]*domain.OutboxEvent, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE tenant_id = $1 AND status = $2
		ORDER BY updated_at DESC
		OFFSET $3 LIMIT $4`

	rows, err := querier.QueryContext(ctx, query, tenantID, domain.StatusDead, offset, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list dead outbox events")
	}
	defer rows.Close() //nolint:errcheck

	var events []*domain.OutboxEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan dead outbox event")
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate dead outbox events")
	}

	return events, nil
}

// CountByStatus returns the number of events per status for the queue depth gauge.
func (r *PostgreSQLOutboxEventRepository) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT status, COUNT(*) FROM outbox_events GROUP BY status`

	rows, err := querier.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to count outbox events")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[domain.Status]int64)
	for rows.Next() {
		var status domain.Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan outbox status count")
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate outbox status counts")
	}

	return counts, nil
}

// CreateDeadLetter inserts the operator-facing dead-letter record.
func (r *PostgreSQLOutboxEventRepository) CreateDeadLetter(ctx context.Context, letter *domain.DeadLetter) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO outbox_dead_letters (id, event_id, tenant_id, kind, attempts,
			last_error, target_host, payload, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := querier.ExecContext(ctx, query, letter.ID, letter.EventID, letter.TenantID, letter.Kind,
		letter.Attempts, letter.LastError, letter.TargetHost, letter.Payload, letter.FailedAt)
	if err != nil {
		return apperrors.Wrap(err, "failed to create dead letter")
	}

	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanEvent.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*domain.OutboxEvent, error) {
	var event domain.OutboxEvent

	err := s.Scan(&event.ID, &event.TenantID, &event.Kind, &event.Payload, &event.DedupeKey,
		&event.Status, &event.Attempts, &event.NextAttemptAt, &event.LastError,
		&event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &event, nil
}
