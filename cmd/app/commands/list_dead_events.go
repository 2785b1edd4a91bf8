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

// RunListDeadEvents lists dead outbox events for a tenant so operators can
// inspect failures and decide what to replay.
//
// Requirements: Database must be migrated and accessible.
func RunListDeadEvents(ctx context.Context, tenantIDStr string, offset, limit int, format string) error {
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

	return runListDeadEvents(ctx, useCase, logger, DefaultIO().Writer, tenantIDStr, offset, limit, format)
}

// runListDeadEvents fetches the dead events and writes them to out.
func runListDeadEvents(
	ctx context.Context,
	useCase outboxUsecase.UseCase,
	logger *slog.Logger,
	out io.Writer,
	tenantIDStr string,
	offset, limit int,
	format string,
) error {
	tenantID, err := uuid.Parse(tenantIDStr)
	if err != nil {
		return fmt.Errorf("invalid tenant id: %s", tenantIDStr)
	}
	if offset < 0 {
		return fmt.Errorf("offset must not be negative, got: %d", offset)
	}
	if limit < 1 {
		return fmt.Errorf("limit must be a positive number, got: %d", limit)
	}

	events, err := useCase.ListDeadEvents(ctx, tenantID, offset, limit)
	if err != nil {
		return fmt.Errorf("failed to list dead events: %w", err)
	}

	if format == "json" {
		items := make([]map[string]interface{}, 0, len(events))
		for _, event := range events {
			item := map[string]interface{}{
				"event_id": event.ID.String(),
				"kind":     string(event.Kind),
				"attempts": event.Attempts,
			}
			if event.LastError != nil {
				item["last_error"] = *event.LastError
			}
			items = append(items, item)
		}
		jsonBytes, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(out, string(jsonBytes))
	} else {
		if len(events) == 0 {
			fmt.Fprintln(out, "No dead events found")
		}
		for _, event := range events {
			lastError := ""
			if event.LastError != nil {
				lastError = *event.LastError
			}
			fmt.Fprintf(out, "%s kind=%s attempts=%d last_error=%q\n",
				event.ID, event.Kind, event.Attempts, lastError)
		}
	}

	logger.Info("listed dead events",
		slog.String("tenant_id", tenantID.String()),
		slog.Int("count", len(events)),
	)
	return nil
}
