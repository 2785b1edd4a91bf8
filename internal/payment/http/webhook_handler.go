// Package http provides the provider webhook endpoint.
package http

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/tidywork/tidywork/internal/errors"
	"github.com/tidywork/tidywork/internal/httputil"
	"github.com/tidywork/tidywork/internal/payment/usecase"
)

// SignatureHeader carries the provider's HMAC signature.
const SignatureHeader = "X-Provider-Signature"

// WebhookResponse is the acknowledgement body.
type WebhookResponse struct {
	Processed bool `json:"processed"`
}

// WebhookHandler handles provider webhook requests.
type WebhookHandler struct {
	useCase usecase.UseCase
	logger  *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(uc usecase.UseCase, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{useCase: uc, logger: logger}
}

// Receive handles POST requests from the payment provider. Transient failures
// return 5xx so the provider redelivers; everything the reconciler settled is
// acknowledged with 200.
func (h *WebhookHandler) Receive(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		httputil.HandleErrorGin(c, apperrors.Wrap(apperrors.ErrInvalidInput,
			"failed to read webhook body"), h.logger)
		return
	}

	processed, err := h.useCase.ProcessWebhook(c.Request.Context(),
		payload, c.GetHeader(SignatureHeader))
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, WebhookResponse{Processed: processed})
}
