package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/tidywork/tidywork/internal/app"
	"github.com/tidywork/tidywork/internal/config"
	outboxUsecase "github.com/tidywork/tidywork/internal/outbox/usecase"
)

// RunWorker starts the outbox dispatcher workers with graceful shutdown support.
// Each worker runs an independent dispatch loop; pending events are claimed with
// row locks, so concurrent workers never deliver the same event twice.
func RunWorker(ctx context.Context) error {
	// Load configuration
	cfg := config.Load()

	// Create DI container
	container := app.NewContainer(cfg)

	// Get logger from container
	logger := container.Logger()

	// Ensure cleanup on exit
	defer closeContainer(container, logger)

	// Get outbox use case from container
	useCase, err := container.OutboxUseCase()
	if err != nil {
		return fmt.Errorf("failed to initialize outbox use case: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return runWorker(ctx, useCase, logger, cfg.OutboxWorkers)
}

// runWorker runs the dispatch loops until the context is canceled.
func runWorker(ctx context.Context, useCase outboxUsecase.UseCase, logger *slog.Logger, workers int) error {
	if workers < 1 {
		workers = 1
	}

	logger.Info("starting outbox workers", slog.Int("workers", workers))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return useCase.Start(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("outbox worker error: %w", err)
	}

	logger.Info("outbox workers stopped")
	return nil
}
