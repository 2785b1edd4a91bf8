package httputil

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/tidywork/tidywork/internal/errors"
)

// TenantIDKey is the gin context key holding the authenticated tenant id.
const TenantIDKey = "tenant_id"

// TenantHeader carries the tenant id on incoming requests.
const TenantHeader = "X-Tenant-ID"

// SetTenantID stores the tenant id on the request context.
func SetTenantID(c *gin.Context, tenantID uuid.UUID) {
	c.Set(TenantIDKey, tenantID)
}

// GetTenantID returns the tenant id stored by the tenant middleware.
func GetTenantID(c *gin.Context) (uuid.UUID, error) {
	value, ok := c.Get(TenantIDKey)
	if !ok {
		return uuid.Nil, apperrors.Wrap(apperrors.ErrUnauthorized, "missing tenant")
	}
	tenantID, ok := value.(uuid.UUID)
	if !ok {
		return uuid.Nil, apperrors.Wrap(apperrors.ErrUnauthorized, "invalid tenant")
	}
	return tenantID, nil
}
