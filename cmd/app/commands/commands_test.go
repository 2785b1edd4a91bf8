package commands

import (
	"context"
	"sync"

	"github.com/google/uuid"

	outboxDomain "github.com/tidywork/tidywork/internal/outbox/domain"
	outboxUsecase "github.com/tidywork/tidywork/internal/outbox/usecase"
)

// fakeOutboxUseCase is a scripted outbox use case for command tests.
type fakeOutboxUseCase struct {
	mu     sync.Mutex
	starts int

	replayEvent *outboxDomain.OutboxEvent
	replayErr   error
	deadEvents  []*outboxDomain.OutboxEvent
	listErr     error
}

func (f *fakeOutboxUseCase) Enqueue(ctx context.Context, input outboxUsecase.EnqueueInput) (*outboxDomain.OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutboxUseCase) Start(ctx context.Context) error {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeOutboxUseCase) DispatchCycle(ctx context.Context) error {
	return nil
}

func (f *fakeOutboxUseCase) Replay(ctx context.Context, tenantID, eventID uuid.UUID) (*outboxDomain.OutboxEvent, error) {
	if f.replayErr != nil {
		return nil, f.replayErr
	}
	return f.replayEvent, nil
}

func (f *fakeOutboxUseCase) ListDeadEvents(ctx context.Context, tenantID uuid.UUID, offset, limit int) ([]*outboxDomain.OutboxEvent, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.deadEvents, nil
}

func (f *fakeOutboxUseCase) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}
