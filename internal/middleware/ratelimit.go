package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/atlas-platform/edge-gateway/internal/httperr"
	"github.com/atlas-platform/edge-gateway/internal/ratelimit"
	"github.com/atlas-platform/edge-gateway/internal/route"
)

// RateChecker is the limiter surface the middleware consumes.
type RateChecker interface {
	Check(ctx context.Context, tenantID string, cfg ratelimit.Config) ratelimit.Result
	IncrementDailyCounter(ctx context.Context, tenantID string)
}

// QuotaSource derives a tenant's per-window quota.
type QuotaSource interface {
	RateLimitForTenant(tenantID string) ratelimit.Config
}

// RateLimitMiddleware enforces the per-tenant request budget. All
// principals within a tenant share one counter. Skipped entirely when no
// principal or tenant is attached: unauthenticated requests were already
// rejected upstream, and tenant resolution is advisory. table may be nil;
// when set, a matching route's quota override replaces the derived one.
func RateLimitMiddleware(checker RateChecker, quotas QuotaSource, table *route.Table) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetPrincipal(c); !ok {
			c.Next()
			return
		}
		tenantID, ok := GetTenantID(c)
		if !ok {
			c.Next()
			return
		}

		cfg := quotas.RateLimitForTenant(tenantID)
		if table != nil {
			if def, found := table.FindByPath(c.Request.URL.Path); found && def.RequestsPerWindow > 0 {
				cfg.RequestsPerWindow = def.RequestsPerWindow
			}
		}

		result := checker.Check(c.Request.Context(), tenantID, cfg)

		setRateLimitHeaders(c, cfg, result)

		if !result.Allowed {
			retrySeconds := int64(result.RetryAfter / time.Second)
			c.Header("Retry-After", strconv.FormatInt(retrySeconds, 10))
			httperr.Abort(c, http.StatusTooManyRequests, httperr.CodeTooManyRequests,
				"Rate limit exceeded. Retry after "+strconv.FormatInt(retrySeconds, 10)+" seconds.")
			return
		}

		// Usage accounting for the governor limits dashboard. Detached from
		// the request lifecycle: its outcome never affects this request, and
		// a client disconnect must not cancel it.
		go func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			checker.IncrementDailyCounter(ctx, tenantID)
		}(context.WithoutCancel(c.Request.Context()))

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, cfg ratelimit.Config, result ratelimit.Result) {
	c.Header("X-RateLimit-Limit", strconv.FormatInt(cfg.RequestsPerWindow, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.RemainingRequests, 10))
	reset := time.Now().Add(cfg.Window).Unix()
	c.Header("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
}
