// Package http provides the operator endpoints for dead outbox events.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/tidywork/tidywork/internal/errors"
	"github.com/tidywork/tidywork/internal/httputil"
	"github.com/tidywork/tidywork/internal/outbox/usecase"
)

// DeadEventResponse is one dead event in the admin listing.
type DeadEventResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	DedupeKey string    `json:"dedupe_key"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdminHandler handles operator requests for the outbox.
type AdminHandler struct {
	useCase usecase.UseCase
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(uc usecase.UseCase, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{useCase: uc, logger: logger}
}

// ListDead handles GET requests for a tenant's dead events.
func (h *AdminHandler) ListDead(c *gin.Context) {
	tenantID, err := httputil.GetTenantID(c)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleErrorGin(c, apperrors.Wrap(apperrors.ErrInvalidInput, err.Error()), h.logger)
		return
	}

	events, err := h.useCase.ListDeadEvents(c.Request.Context(), tenantID, offset, limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	items := make([]DeadEventResponse, 0, len(events))
	for _, event := range events {
		item := DeadEventResponse{
			ID:        event.ID.String(),
			Kind:      string(event.Kind),
			DedupeKey: event.DedupeKey,
			Attempts:  event.Attempts,
			CreatedAt: event.CreatedAt,
			UpdatedAt: event.UpdatedAt,
		}
		if event.LastError != nil {
			item.LastError = *event.LastError
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "offset": offset, "limit": limit})
}

// Replay handles POST requests to requeue a dead or failed event. The event
// must belong to the caller's tenant.
func (h *AdminHandler) Replay(c *gin.Context) {
	tenantID, err := httputil.GetTenantID(c)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	eventID, err := uuid.Parse(c.Param("event_id"))
	if err != nil {
		httputil.HandleErrorGin(c, apperrors.Wrap(apperrors.ErrInvalidInput,
			"invalid event id"), h.logger)
		return
	}

	event, err := h.useCase.Replay(c.Request.Context(), tenantID, eventID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event_id": event.ID.String(),
		"status":   string(event.Status),
	})
}
