package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/atlas-platform/edge-gateway/internal/auth"
	"github.com/atlas-platform/edge-gateway/internal/httperr"
)

const bearerPrefix = "Bearer "

// AuthMiddleware validates the bearer token and attaches the resulting
// Principal to the request context. Runs after tenant resolution and
// before rate limiting so invalid requests never consume a tenant's
// budget. Every validation failure maps to 401 — validation internals are
// never surfaced as a 500.
func AuthMiddleware(verifier auth.TokenVerifier, matcher *PublicPathMatcher, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		// Browsers send CORS preflights without credentials.
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		if matcher.IsPublicRequest(c.Request.Method, path) {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			httperr.Unauthorized(c, "Missing Authorization header")
			return
		}
		if !strings.HasPrefix(header, bearerPrefix) {
			httperr.Unauthorized(c, "Invalid Authorization header format. Expected 'Bearer <token>'")
			return
		}

		token := strings.TrimSpace(header[len(bearerPrefix):])
		if token == "" {
			httperr.Unauthorized(c, "Empty bearer token")
			return
		}

		principal, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			logLevel := slog.LevelWarn
			if errors.Is(err, auth.ErrProviderUnavailable) {
				logLevel = slog.LevelError
			}
			logger.Log(c.Request.Context(), logLevel, "token validation failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			httperr.Unauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(PrincipalKey, principal)
		c.Next()
	}
}
