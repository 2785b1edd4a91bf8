// Package http provides the idempotency-key middleware for write endpoints.
package http

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/tidywork/tidywork/internal/errors"
	"github.com/tidywork/tidywork/internal/httputil"
	"github.com/tidywork/tidywork/internal/idempotency/domain"
	"github.com/tidywork/tidywork/internal/idempotency/usecase"
)

// KeyHeader carries the client-chosen idempotency key.
const KeyHeader = "Idempotency-Key"

// ReplayedHeader marks responses served from the idempotency cache.
const ReplayedHeader = "Idempotency-Replayed"

// bodyCapture buffers the response so it can be stored for replay.
type bodyCapture struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCapture) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware enforces the idempotency-key protocol on the wrapped handlers.
// The operation name scopes keys so the same key may be used against
// different endpoints without colliding.
func Middleware(uc usecase.UseCase, operation string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(KeyHeader)
		if key == "" {
			httputil.HandleErrorGin(c, apperrors.Wrap(apperrors.ErrInvalidInput,
				"missing Idempotency-Key header"), logger)
			c.Abort()
			return
		}

		tenantID, err := httputil.GetTenantID(c)
		if err != nil {
			httputil.HandleErrorGin(c, err, logger)
			c.Abort()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			httputil.HandleErrorGin(c, apperrors.Wrap(apperrors.ErrInvalidInput,
				"failed to read request body"), logger)
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		decision, err := uc.Begin(c.Request.Context(), usecase.BeginInput{
			TenantID:    tenantID,
			Key:         key,
			Operation:   operation,
			Fingerprint: domain.Fingerprint(c.Request.Method, c.Request.URL.Path, body),
		})
		if err != nil {
			httputil.HandleErrorGin(c, err, logger)
			c.Abort()
			return
		}

		switch decision.Code {
		case domain.DecisionServeCache:
			c.Header(ReplayedHeader, "true")
			status := http.StatusOK
			if decision.Record.ResponseStatus != nil {
				status = *decision.Record.ResponseStatus
			}
			var cached string
			if decision.Record.ResponseBody != nil {
				cached = *decision.Record.ResponseBody
			}
			c.Data(status, "application/json", []byte(cached))
			c.Abort()
			return

		case domain.DecisionConflict:
			httputil.HandleErrorGin(c, domain.ErrKeyReuse, logger)
			c.Abort()
			return

		case domain.DecisionInProgress:
			httputil.HandleErrorGin(c, domain.ErrStillRunning, logger)
			c.Abort()
			return
		}

		capture := &bodyCapture{ResponseWriter: c.Writer}
		c.Writer = capture
		c.Next()

		status := capture.Status()
		ctx := c.Request.Context()

		// Transient failures are not cached: releasing the claim lets the
		// client retry with the same key and actually re-execute.
		if status >= 500 {
			if err := uc.Release(ctx, decision.Record.ID); err != nil {
				logClaimError(logger, "failed to release idempotency claim", decision.Record.ID, err)
			}
			return
		}

		if err := uc.Complete(ctx, decision.Record.ID, status, capture.body.String()); err != nil {
			logClaimError(logger, "failed to store idempotency result", decision.Record.ID, err)
			// A record stuck in_progress would answer every retry of this key
			// with a conflict. Releasing the claim lets the client retry.
			if relErr := uc.Release(ctx, decision.Record.ID); relErr != nil {
				logClaimError(logger, "failed to release idempotency claim", decision.Record.ID, relErr)
			}
		}
	}
}

func logClaimError(logger *slog.Logger, msg string, recordID uuid.UUID, err error) {
	if logger == nil {
		return
	}
	logger.Error(msg,
		slog.String("record_id", recordID.String()),
		slog.Any("error", err),
	)
}
