// Package http provides HTTP handlers for checkout operations.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	"github.com/tidywork/tidywork/internal/checkout/usecase"
	"github.com/tidywork/tidywork/internal/httputil"
	appValidation "github.com/tidywork/tidywork/internal/validation"
)

// CreateSessionRequest is the request body for starting a checkout.
type CreateSessionRequest struct {
	BookingID string `json:"booking_id"`
}

// Validate checks the request body.
func (r CreateSessionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.BookingID,
			validation.Required.Error("booking id is required"),
			validation.By(func(value any) error {
				_, err := uuid.Parse(value.(string))
				return err
			}),
		),
	)
}

// CreateSessionResponse is the response body for a started checkout.
type CreateSessionResponse struct {
	AttemptID         string `json:"attempt_id"`
	Status            string `json:"status"`
	ProviderSessionID string `json:"provider_session_id"`
	RedirectURL       string `json:"redirect_url"`
}

// Handler handles checkout HTTP requests.
type Handler struct {
	useCase usecase.UseCase
	logger  *slog.Logger
}

// NewHandler creates a new checkout Handler.
func NewHandler(uc usecase.UseCase, logger *slog.Logger) *Handler {
	return &Handler{useCase: uc, logger: logger}
}

// CreateSession handles POST requests to start a deposit checkout.
func (h *Handler) CreateSession(c *gin.Context) {
	tenantID, err := httputil.GetTenantID(c)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleErrorGin(c, appValidation.WrapValidationError(err), h.logger)
		return
	}

	bookingID, _ := uuid.Parse(req.BookingID)
	attempt, err := h.useCase.StartCheckout(c.Request.Context(), usecase.StartCheckoutInput{
		TenantID:  tenantID,
		BookingID: bookingID,
	})
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	resp := CreateSessionResponse{
		AttemptID: attempt.ID.String(),
		Status:    string(attempt.Status),
	}
	if attempt.ProviderSessionID != nil {
		resp.ProviderSessionID = *attempt.ProviderSessionID
	}
	if attempt.RedirectURL != nil {
		resp.RedirectURL = *attempt.RedirectURL
	}

	c.JSON(http.StatusCreated, resp)
}
