package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/atlas-platform/edge-gateway/internal/auth"
	"github.com/atlas-platform/edge-gateway/internal/httperr"
)

// Gin context keys shared across the request pipeline. Stage ordering is
// fixed: tenant resolution sets the tenant keys, authentication sets the
// principal, rate limiting and proxying read both.
const (
	// TenantIDKey holds the resolved internal tenant ID.
	TenantIDKey = "gateway_tenant_id"

	// TenantSlugKey holds the slug extracted from the URL path.
	TenantSlugKey = "gateway_tenant_slug"

	// PrincipalKey holds the authenticated *auth.Principal.
	PrincipalKey = "gateway_principal"

	// OriginalPathKey preserves the pre-rewrite request path for logging
	// and error bodies after the slug segment has been stripped.
	OriginalPathKey = httperr.OriginalPathKey
)

// GetTenantID retrieves the resolved tenant ID from the gin context.
func GetTenantID(c *gin.Context) (string, bool) {
	val, exists := c.Get(TenantIDKey)
	if !exists {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}

// GetTenantSlug retrieves the tenant slug from the gin context.
func GetTenantSlug(c *gin.Context) (string, bool) {
	val, exists := c.Get(TenantSlugKey)
	if !exists {
		return "", false
	}
	slug, ok := val.(string)
	return slug, ok && slug != ""
}

// GetPrincipal retrieves the authenticated principal from the gin context.
func GetPrincipal(c *gin.Context) (*auth.Principal, bool) {
	val, exists := c.Get(PrincipalKey)
	if !exists {
		return nil, false
	}
	p, ok := val.(*auth.Principal)
	return p, ok && p != nil
}
