package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidywork/tidywork/internal/clock"
	"github.com/tidywork/tidywork/internal/database"
	apperrors "github.com/tidywork/tidywork/internal/errors"
	"github.com/tidywork/tidywork/internal/outbox/domain"
)

// fakeOutboxRepo is an in-memory repository. Dispatch tests care about state
// transitions, not SQL.
type fakeOutboxRepo struct {
	events      map[uuid.UUID]*domain.OutboxEvent
	deadLetters []*domain.DeadLetter
	order       []uuid.UUID
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{events: make(map[uuid.UUID]*domain.OutboxEvent)}
}

func (r *fakeOutboxRepo) Enqueue(_ context.Context, event *domain.OutboxEvent) (*domain.OutboxEvent, error) {
	for _, existing := range r.events {
		if existing.TenantID == event.TenantID && existing.DedupeKey == event.DedupeKey {
			return existing, nil
		}
	}
	copied := *event
	r.events[event.ID] = &copied
	r.order = append(r.order, event.ID)
	return &copied, nil
}

func (r *fakeOutboxRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]*domain.OutboxEvent, error) {
	var due []*domain.OutboxEvent
	for _, id := range r.order {
		event := r.events[id]
		if event.Terminal() || event.NextAttemptAt == nil || event.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, event)
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (r *fakeOutboxRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.OutboxEvent, error) {
	event, ok := r.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	return event, nil
}

func (r *fakeOutboxRepo) Update(_ context.Context, event *domain.OutboxEvent) error {
	r.events[event.ID] = event
	return nil
}

func (r *fakeOutboxRepo) ListDead(
	_ context.Context, tenantID uuid.UUID, _, _ int,
) ([]*domain.OutboxEvent, error) {
	var dead []*domain.OutboxEvent
	for _, id := range r.order {
		event := r.events[id]
		if event.TenantID == tenantID && event.Status == domain.StatusDead {
			dead = append(dead, event)
		}
	}
	return dead, nil
}

func (r *fakeOutboxRepo) CountByStatus(_ context.Context) (map[domain.Status]int64, error) {
	counts := make(map[domain.Status]int64)
	for _, event := range r.events {
		counts[event.Status]++
	}
	return counts, nil
}

func (r *fakeOutboxRepo) CreateDeadLetter(_ context.Context, letter *domain.DeadLetter) error {
	r.deadLetters = append(r.deadLetters, letter)
	return nil
}

// scriptedDeliverer returns its outcomes in order, repeating the last one.
type scriptedDeliverer struct {
	outcomes []domain.Outcome
	calls    int
}

func (d *scriptedDeliverer) Deliver(_ context.Context, _ *domain.OutboxEvent) domain.Outcome {
	i := d.calls
	if i >= len(d.outcomes) {
		i = len(d.outcomes) - 1
	}
	d.calls++
	return d.outcomes[i]
}

func newTestUseCase(
	t *testing.T,
	repo *fakeOutboxRepo,
	deliverers map[domain.Kind]Deliverer,
	clk clock.Clock,
) (*OutboxUseCase, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	uc := NewOutboxUseCase(
		Config{Interval: time.Second, BatchSize: 50, MaxAttempts: 3, BackoffBase: 30 * time.Second},
		database.NewTxManager(db),
		repo,
		deliverers,
		nil,
		clk,
		nil,
	)
	return uc, mock
}

func validInput() EnqueueInput {
	return EnqueueInput{
		TenantID:  uuid.Must(uuid.NewV7()),
		Kind:      domain.KindEmail,
		Payload:   map[string]any{"recipient": "customer@example.com"},
		DedupeKey: "booking-confirmed:b1",
	}
}

func TestOutboxUseCase_Enqueue(t *testing.T) {
	ctx := context.Background()
	clk := &clock.Fixed{Instant: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	t.Run("rejects calls outside a transaction", func(t *testing.T) {
		uc, _ := newTestUseCase(t, newFakeOutboxRepo(), nil, clk)

		_, err := uc.Enqueue(ctx, validInput())
		assert.ErrorIs(t, err, domain.ErrNoTransaction)
	})

	t.Run("records the event inside the caller's transaction", func(t *testing.T) {
		repo := newFakeOutboxRepo()
		uc, mock := newTestUseCase(t, repo, nil, clk)
		mock.ExpectBegin()
		mock.ExpectCommit()

		var event *domain.OutboxEvent
		err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
			var err error
			event, err = uc.Enqueue(ctx, validInput())
			return err
		})
		require.NoError(t, err)

		assert.Equal(t, domain.StatusPending, event.Status)
		assert.Equal(t, 0, event.Attempts)
		require.NotNil(t, event.NextAttemptAt)
		assert.Equal(t, clk.Instant, *event.NextAttemptAt)
		assert.Contains(t, event.Payload, "customer@example.com")
	})

	t.Run("same dedupe key returns the existing event", func(t *testing.T) {
		repo := newFakeOutboxRepo()
		uc, mock := newTestUseCase(t, repo, nil, clk)
		input := validInput()

		var first, second *domain.OutboxEvent
		for _, target := range []**domain.OutboxEvent{&first, &second} {
			mock.ExpectBegin()
			mock.ExpectCommit()
			err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
				var err error
				*target, err = uc.Enqueue(ctx, input)
				return err
			})
			require.NoError(t, err)
		}

		assert.Equal(t, first.ID, second.ID)
		assert.Len(t, repo.events, 1)
	})

	t.Run("rejects unknown kinds", func(t *testing.T) {
		uc, mock := newTestUseCase(t, newFakeOutboxRepo(), nil, clk)
		mock.ExpectBegin()
		mock.ExpectRollback()

		input := validInput()
		input.Kind = domain.Kind("carrier-pigeon")
		err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
			_, err := uc.Enqueue(ctx, input)
			return err
		})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("rejects blank dedupe keys", func(t *testing.T) {
		uc, mock := newTestUseCase(t, newFakeOutboxRepo(), nil, clk)
		mock.ExpectBegin()
		mock.ExpectRollback()

		input := validInput()
		input.DedupeKey = ""
		err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
			_, err := uc.Enqueue(ctx, input)
			return err
		})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

func enqueueTestEvent(t *testing.T, uc *OutboxUseCase, mock sqlmock.Sqlmock, input EnqueueInput) *domain.OutboxEvent {
	t.Helper()
	mock.ExpectBegin()
	mock.ExpectCommit()

	var event *domain.OutboxEvent
	err := uc.txManager.WithTx(context.Background(), func(ctx context.Context) error {
		var err error
		event, err = uc.Enqueue(ctx, input)
		return err
	})
	require.NoError(t, err)
	return event
}

func runCycle(t *testing.T, uc *OutboxUseCase, mock sqlmock.Sqlmock) {
	t.Helper()
	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, uc.DispatchCycle(context.Background()))
}

func TestOutboxUseCase_DispatchCycle(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("successful delivery marks the event sent", func(t *testing.T) {
		clk := &clock.Fixed{Instant: start}
		repo := newFakeOutboxRepo()
		deliverer := &scriptedDeliverer{outcomes: []domain.Outcome{domain.Delivered()}}
		uc, mock := newTestUseCase(t, repo, map[domain.Kind]Deliverer{domain.KindEmail: deliverer}, clk)

		event := enqueueTestEvent(t, uc, mock, validInput())
		runCycle(t, uc, mock)

		updated := repo.events[event.ID]
		assert.Equal(t, domain.StatusSent, updated.Status)
		assert.Equal(t, 1, updated.Attempts)
		assert.Nil(t, updated.NextAttemptAt)
		assert.Nil(t, updated.LastError)
	})

	t.Run("retryable failure schedules exponential backoff", func(t *testing.T) {
		clk := &clock.Fixed{Instant: start}
		repo := newFakeOutboxRepo()
		deliverer := &scriptedDeliverer{outcomes: []domain.Outcome{
			domain.RetryableFailure("destination returned 503"),
		}}
		uc, mock := newTestUseCase(t, repo, map[domain.Kind]Deliverer{domain.KindEmail: deliverer}, clk)

		event := enqueueTestEvent(t, uc, mock, validInput())

		// First failure: next attempt after the 30s base.
		runCycle(t, uc, mock)
		updated := repo.events[event.ID]
		assert.Equal(t, domain.StatusRetry, updated.Status)
		assert.Equal(t, 1, updated.Attempts)
		assert.Equal(t, clk.Instant.Add(30*time.Second), *updated.NextAttemptAt)
		require.NotNil(t, updated.LastError)
		assert.Equal(t, "destination returned 503", *updated.LastError)

		// Not due yet: the next cycle must not touch it.
		clk.Advance(10 * time.Second)
		runCycle(t, uc, mock)
		assert.Equal(t, 1, repo.events[event.ID].Attempts)

		// Second failure doubles the delay.
		clk.Advance(30 * time.Second)
		runCycle(t, uc, mock)
		updated = repo.events[event.ID]
		assert.Equal(t, 2, updated.Attempts)
		assert.Equal(t, clk.Instant.Add(60*time.Second), *updated.NextAttemptAt)
	})

	t.Run("exhausted attempts dead-letter the event", func(t *testing.T) {
		clk := &clock.Fixed{Instant: start}
		repo := newFakeOutboxRepo()
		deliverer := &scriptedDeliverer{outcomes: []domain.Outcome{
			domain.RetryableFailure("destination returned 500"),
		}}
		uc, mock := newTestUseCase(t, repo, map[domain.Kind]Deliverer{domain.KindEmail: deliverer}, clk)

		event := enqueueTestEvent(t, uc, mock, validInput())

		for i := 0; i < 3; i++ {
			runCycle(t, uc, mock)
			clk.Advance(10 * time.Minute)
		}

		updated := repo.events[event.ID]
		assert.Equal(t, domain.StatusDead, updated.Status)
		assert.Equal(t, 3, updated.Attempts)
		assert.Nil(t, updated.NextAttemptAt)

		require.Len(t, repo.deadLetters, 1)
		letter := repo.deadLetters[0]
		assert.Equal(t, event.ID, letter.EventID)
		assert.Equal(t, event.TenantID, letter.TenantID)
		assert.Equal(t, 3, letter.Attempts)
		assert.Equal(t, "destination returned 500", letter.LastError)

		// Dead events stay dead: later cycles skip them.
		runCycle(t, uc, mock)
		assert.Equal(t, 3, repo.events[event.ID].Attempts)
	})

	t.Run("permanent failure skips the retry budget", func(t *testing.T) {
		clk := &clock.Fixed{Instant: start}
		repo := newFakeOutboxRepo()
		deliverer := &scriptedDeliverer{outcomes: []domain.Outcome{
			domain.PermanentFailure("missing_payload"),
		}}
		uc, mock := newTestUseCase(t, repo, map[domain.Kind]Deliverer{domain.KindEmail: deliverer}, clk)

		event := enqueueTestEvent(t, uc, mock, validInput())
		runCycle(t, uc, mock)

		updated := repo.events[event.ID]
		assert.Equal(t, domain.StatusDead, updated.Status)
		assert.Equal(t, 1, updated.Attempts)
		require.Len(t, repo.deadLetters, 1)
		assert.Equal(t, "missing_payload", repo.deadLetters[0].LastError)
	})

	t.Run("events without a deliverer go dead", func(t *testing.T) {
		clk := &clock.Fixed{Instant: start}
		repo := newFakeOutboxRepo()
		uc, mock := newTestUseCase(t, repo, map[domain.Kind]Deliverer{}, clk)

		event := enqueueTestEvent(t, uc, mock, validInput())
		runCycle(t, uc, mock)

		assert.Equal(t, domain.StatusDead, repo.events[event.ID].Status)
		require.Len(t, repo.deadLetters, 1)
		assert.Equal(t, "unknown_kind", repo.deadLetters[0].LastError)
	})

	t.Run("dead letter redacts webhook destinations to the host", func(t *testing.T) {
		clk := &clock.Fixed{Instant: start}
		repo := newFakeOutboxRepo()
		deliverer := &scriptedDeliverer{outcomes: []domain.Outcome{
			domain.PermanentFailure("destination returned 410"),
		}}
		uc, mock := newTestUseCase(t, repo, map[domain.Kind]Deliverer{domain.KindWebhook: deliverer}, clk)

		input := validInput()
		input.Kind = domain.KindWebhook
		input.Payload = map[string]any{
			"url":  "https://hooks.example.com/secret-path?token=abc",
			"body": map[string]any{"booking_id": "b1"},
		}
		enqueueTestEvent(t, uc, mock, input)
		runCycle(t, uc, mock)

		require.Len(t, repo.deadLetters, 1)
		assert.Equal(t, "hooks.example.com", repo.deadLetters[0].TargetHost)
	})
}

func TestOutboxUseCase_Replay(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("resets a dead event into the dispatch cycle", func(t *testing.T) {
		clk := &clock.Fixed{Instant: start}
		repo := newFakeOutboxRepo()
		deliverer := &scriptedDeliverer{outcomes: []domain.Outcome{
			domain.PermanentFailure("destination returned 410"),
			domain.Delivered(),
		}}
		uc, mock := newTestUseCase(t, repo, map[domain.Kind]Deliverer{domain.KindEmail: deliverer}, clk)

		event := enqueueTestEvent(t, uc, mock, validInput())
		runCycle(t, uc, mock)
		require.Equal(t, domain.StatusDead, repo.events[event.ID].Status)

		mock.ExpectBegin()
		mock.ExpectCommit()
		replayed, err := uc.Replay(ctx, event.TenantID, event.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, replayed.Status)
		assert.Equal(t, 0, replayed.Attempts)
		assert.Nil(t, replayed.LastError)

		runCycle(t, uc, mock)
		assert.Equal(t, domain.StatusSent, repo.events[event.ID].Status)
	})

	t.Run("sent events cannot be replayed", func(t *testing.T) {
		clk := &clock.Fixed{Instant: start}
		repo := newFakeOutboxRepo()
		deliverer := &scriptedDeliverer{outcomes: []domain.Outcome{domain.Delivered()}}
		uc, mock := newTestUseCase(t, repo, map[domain.Kind]Deliverer{domain.KindEmail: deliverer}, clk)

		event := enqueueTestEvent(t, uc, mock, validInput())
		runCycle(t, uc, mock)

		mock.ExpectBegin()
		mock.ExpectRollback()
		_, err := uc.Replay(ctx, event.TenantID, event.ID)
		assert.ErrorIs(t, err, domain.ErrEventAlreadySent)
	})

	t.Run("unknown events return not found", func(t *testing.T) {
		clk := &clock.Fixed{Instant: start}
		uc, mock := newTestUseCase(t, newFakeOutboxRepo(), nil, clk)

		mock.ExpectBegin()
		mock.ExpectRollback()
		_, err := uc.Replay(ctx, uuid.Must(uuid.NewV7()), uuid.Must(uuid.NewV7()))
		assert.ErrorIs(t, err, domain.ErrEventNotFound)
	})

	t.Run("another tenant's events read as not found", func(t *testing.T) {
		clk := &clock.Fixed{Instant: start}
		repo := newFakeOutboxRepo()
		deliverer := &scriptedDeliverer{outcomes: []domain.Outcome{
			domain.PermanentFailure("destination returned 410"),
		}}
		uc, mock := newTestUseCase(t, repo, map[domain.Kind]Deliverer{domain.KindEmail: deliverer}, clk)

		event := enqueueTestEvent(t, uc, mock, validInput())
		runCycle(t, uc, mock)
		require.Equal(t, domain.StatusDead, repo.events[event.ID].Status)

		mock.ExpectBegin()
		mock.ExpectRollback()
		_, err := uc.Replay(ctx, uuid.Must(uuid.NewV7()), event.ID)
		assert.ErrorIs(t, err, domain.ErrEventNotFound)
		assert.Equal(t, domain.StatusDead, repo.events[event.ID].Status)
	})
}

func TestOutboxUseCase_ListDeadEvents(t *testing.T) {
	clk := &clock.Fixed{Instant: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	repo := newFakeOutboxRepo()
	deliverer := &scriptedDeliverer{outcomes: []domain.Outcome{
		domain.PermanentFailure("destination returned 410"),
	}}
	uc, mock := newTestUseCase(t, repo, map[domain.Kind]Deliverer{domain.KindEmail: deliverer}, clk)

	event := enqueueTestEvent(t, uc, mock, validInput())
	runCycle(t, uc, mock)

	dead, err := uc.ListDeadEvents(context.Background(), event.TenantID, 0, 50)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, event.ID, dead[0].ID)

	other, err := uc.ListDeadEvents(context.Background(), uuid.Must(uuid.NewV7()), 0, 50)
	require.NoError(t, err)
	assert.Empty(t, other)
}
