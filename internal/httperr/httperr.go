// Package httperr renders the gateway's structured JSON error responses.
// Every rejection carries a stable machine-readable code and the request
// path, and no internal error detail ever reaches the caller.
package httperr

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes exposed to clients.
const (
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeTenantNotFound      = "TENANT_NOT_FOUND"
	CodeRouteNotFound       = "ROUTE_NOT_FOUND"
	CodeTooManyRequests     = "TOO_MANY_REQUESTS"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
)

// Body is the wire shape of an error response:
// {"error":{"status":401,"code":"UNAUTHORIZED","message":"...","path":"..."}}
type Body struct {
	Error Detail `json:"error"`
}

// Detail holds the error fields inside the envelope.
type Detail struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

// Abort writes the structured error body and stops the gin handler chain.
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Body{Error: Detail{
		Status:  status,
		Code:    code,
		Message: message,
		Path:    requestPath(c),
	}})
}

// Unauthorized writes a 401 response.
func Unauthorized(c *gin.Context, message string) {
	Abort(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

// TenantNotFound writes a 404 response for an unresolvable tenant slug.
func TenantNotFound(c *gin.Context, message string) {
	Abort(c, http.StatusNotFound, CodeTenantNotFound, message)
}

// RouteNotFound writes a 404 response when no route matches the path.
func RouteNotFound(c *gin.Context, message string) {
	Abort(c, http.StatusNotFound, CodeRouteNotFound, message)
}

// BadGateway writes a 502 response for an unreachable backend target.
func BadGateway(c *gin.Context, message string) {
	Abort(c, http.StatusBadGateway, CodeUpstreamUnavailable, message)
}

// OriginalPathKey is the gin context key under which the tenant slug
// middleware preserves the pre-rewrite request path. It lives here rather
// than in the middleware package because both packages need it and the
// middleware package imports this one.
const OriginalPathKey = "original_path"

// requestPath prefers the original (pre-rewrite) path when the tenant slug
// middleware stripped a slug segment, so error bodies show what the client
// actually sent.
func requestPath(c *gin.Context) string {
	if orig, ok := c.Get(OriginalPathKey); ok {
		if s, ok := orig.(string); ok && s != "" {
			return s
		}
	}
	return c.Request.URL.Path
}
