package middleware

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/atlas-platform/edge-gateway/internal/httperr"
	"github.com/atlas-platform/edge-gateway/internal/tenant"
)

// slugPattern matches the tenant entity's slug validation rule.
var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{1,61}[a-z0-9]$`)

// TenantSlugConfig controls slug extraction behavior.
type TenantSlugConfig struct {
	// RequirePrefix rejects requests without a resolvable slug prefix.
	// Off during migration: bare paths pass through untouched.
	RequirePrefix bool

	// PlatformPaths are prefixes exempt from slug handling entirely.
	PlatformPaths []string
}

// TenantSlugMiddleware extracts the tenant slug from the first URL path
// segment, resolves it to a tenant ID, and rewrites the request path with
// the slug stripped so route matching sees bare paths like /api/users.
// Must run before authentication and rate limiting.
func TenantSlugMiddleware(cache *tenant.SlugCache, cfg TenantSlugConfig, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		if isPlatformPath(path, cfg.PlatformPaths) {
			c.Next()
			return
		}

		first := firstSegment(path)
		if first == "" {
			if cfg.RequirePrefix {
				httperr.TenantNotFound(c, "A tenant identifier is required in the URL path.")
				return
			}
			c.Next()
			return
		}

		if !slugPattern.MatchString(first) {
			if cfg.RequirePrefix {
				httperr.TenantNotFound(c, "Invalid tenant identifier: "+first)
				return
			}
			c.Next()
			return
		}

		stripped := strings.TrimPrefix(path, "/"+first)
		if stripped == "" {
			stripped = "/"
		}

		tenantID, ok := cache.Resolve(first)
		if !ok {
			if cfg.RequirePrefix {
				httperr.TenantNotFound(c, "Tenant not found: "+first)
				return
			}
			// Slug-shaped but unknown: strip the segment so route matching
			// works, but resolution stays advisory — no tenant context.
			logger.Warn("slug not in cache, stripping path without tenant context",
				slog.String("slug", first),
			)
		} else {
			c.Set(TenantIDKey, tenantID)
		}

		c.Set(TenantSlugKey, first)
		c.Set(OriginalPathKey, path)
		c.Request.URL.Path = stripped

		c.Next()
	}
}

// firstSegment returns the first non-empty path segment, or "" for "/".
func firstSegment(path string) string {
	if len(path) <= 1 {
		return ""
	}
	rest := path[1:]
	if idx := strings.IndexByte(rest, '/'); idx > 0 {
		return rest[:idx]
	}
	return rest
}

func isPlatformPath(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
