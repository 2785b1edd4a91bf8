// Package http provides the API server, its middleware, and the metrics server.
package http

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/tidywork/tidywork/internal/errors"
	"github.com/tidywork/tidywork/internal/httputil"
)

// CustomLoggerMiddleware logs HTTP requests with structured logging.
func CustomLoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", requestid.Get(c)),
			slog.String("remote_addr", c.ClientIP()),
		)
	}
}

// TenantMiddleware resolves the tenant from the X-Tenant-ID header and stores
// it on the context for handlers and the idempotency layer.
func TenantMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(httputil.TenantHeader)
		if header == "" {
			httputil.HandleErrorGin(c, apperrors.Wrap(apperrors.ErrUnauthorized,
				"missing tenant header"), logger)
			c.Abort()
			return
		}

		tenantID, err := uuid.Parse(header)
		if err != nil {
			httputil.HandleErrorGin(c, apperrors.Wrap(apperrors.ErrUnauthorized,
				"invalid tenant header"), logger)
			c.Abort()
			return
		}

		httputil.SetTenantID(c, tenantID)
		c.Next()
	}
}
