package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tidywork/tidywork/internal/app"
	"github.com/tidywork/tidywork/internal/config"
	outboxUsecase "github.com/tidywork/tidywork/internal/outbox/usecase"
)

// RunReplayEvent requeues a dead outbox event for delivery. The event is reset
// to pending with a fresh attempt budget and picked up by the next dispatch cycle.
//
// Requirements: Database must be migrated and accessible.
func RunReplayEvent(ctx context.Context, tenantIDStr, eventIDStr, format string) error {
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

	return runReplayEvent(ctx, useCase, logger, DefaultIO().Writer, tenantIDStr, eventIDStr, format)
}

// runReplayEvent performs the replay and writes the result to out.
func runReplayEvent(
	ctx context.Context,
	useCase outboxUsecase.UseCase,
	logger *slog.Logger,
	out io.Writer,
	tenantIDStr, eventIDStr, format string,
) error {
	tenantID, err := uuid.Parse(tenantIDStr)
	if err != nil {
		return fmt.Errorf("invalid tenant id: %s", tenantIDStr)
	}

	eventID, err := uuid.Parse(eventIDStr)
	if err != nil {
		return fmt.Errorf("invalid event id: %s", eventIDStr)
	}

	logger.Info("replaying outbox event",
		slog.String("tenant_id", tenantID.String()),
		slog.String("event_id", eventID.String()),
	)

	event, err := useCase.Replay(ctx, tenantID, eventID)
	if err != nil {
		return fmt.Errorf("failed to replay event: %w", err)
	}

	if format == "json" {
		result := map[string]interface{}{
			"event_id": event.ID.String(),
			"kind":     string(event.Kind),
			"status":   string(event.Status),
			"attempts": event.Attempts,
		}
		jsonBytes, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(out, string(jsonBytes))
	} else {
		fmt.Fprintf(out, "Event %s requeued for delivery (kind=%s, status=%s)\n",
			event.ID, event.Kind, event.Status)
	}

	logger.Info("replay completed", slog.String("event_id", event.ID.String()))
	return nil
}
