package middleware

import (
	"net/http"
	"strings"
)

// PublicPathMatcher decides which requests may pass unauthenticated.
// A request is public only when its path matches a configured prefix AND
// its method is GET or HEAD — a POST to a public path still needs
// credentials, regardless of the path match.
type PublicPathMatcher struct {
	prefixes []string
}

// NewPublicPathMatcher creates a matcher for the given path prefixes.
func NewPublicPathMatcher(prefixes []string) *PublicPathMatcher {
	return &PublicPathMatcher{prefixes: prefixes}
}

// IsPublicRequest reports whether the request may skip authentication.
func (m *PublicPathMatcher) IsPublicRequest(method, path string) bool {
	if method != http.MethodGet && method != http.MethodHead {
		return false
	}
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
