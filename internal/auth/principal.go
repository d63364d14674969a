package auth

import (
	"fmt"
	"strings"

	"github.com/atlas-platform/edge-gateway/internal/controlplane"
)

// Default claim names used when a provider has no explicit mapping.
const (
	claimPreferredUsername = "preferred_username"
	claimSub               = "sub"
	claimRoles             = "roles"
	claimAuthorities       = "authorities"
	claimEmail             = "email"
	claimName              = "name"
)

// Principal is the authenticated identity attached to a request after
// credential validation. Immutable once constructed; Roles is never nil.
type Principal struct {
	Subject  string
	Username string
	Email    string
	Name     string
	Roles    []string
	Claims   map[string]any
}

// HasRole reports whether the principal carries the given role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ExtractPrincipal builds a Principal from verified token claims using the
// issuer's claim mapping. Username resolution tries the configured claim,
// then preferred_username, then sub; a token with none of them is rejected.
// Roles come from the configured claim (default roles, then authorities) in
// either list or comma-separated string form, optionally remapped through
// the provider's value mapping table. Missing roles yield an empty slice.
func ExtractPrincipal(claims map[string]any, mapping controlplane.ClaimMapping) (*Principal, error) {
	username := firstStringClaim(claims, mapping.UsernameClaim, claimPreferredUsername, claimSub)
	if username == "" {
		return nil, fmt.Errorf("%w: no usable username claim", ErrInvalidToken)
	}

	subject, _ := claims[claimSub].(string)
	if subject == "" {
		subject = username
	}

	roles := extractRoles(claims, mapping)

	return &Principal{
		Subject:  subject,
		Username: username,
		Email:    firstStringClaim(claims, mapping.EmailClaim, claimEmail),
		Name:     firstStringClaim(claims, mapping.NameClaim, claimName),
		Roles:    roles,
		Claims:   claims,
	}, nil
}

func extractRoles(claims map[string]any, mapping controlplane.ClaimMapping) []string {
	var raw []string
	if mapping.RolesClaim != "" {
		raw = rolesFromClaim(claims[mapping.RolesClaim])
	}
	if len(raw) == 0 {
		raw = rolesFromClaim(claims[claimRoles])
	}
	if len(raw) == 0 {
		raw = rolesFromClaim(claims[claimAuthorities])
	}

	if len(mapping.RolesMapping) == 0 {
		return raw
	}

	// Remap upstream group names to internal role names; unmapped values
	// pass through unchanged.
	mapped := make([]string, 0, len(raw))
	for _, r := range raw {
		if internal, ok := mapping.RolesMapping[r]; ok {
			mapped = append(mapped, internal)
		} else {
			mapped = append(mapped, r)
		}
	}
	return mapped
}

// rolesFromClaim accepts both a list of strings and a comma-separated
// string, the two shapes identity providers emit in practice.
func rolesFromClaim(value any) []string {
	switch v := value.(type) {
	case []any:
		roles := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				roles = append(roles, s)
			}
		}
		return roles
	case []string:
		return v
	case string:
		if v == "" {
			return []string{}
		}
		parts := strings.Split(v, ",")
		roles := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				roles = append(roles, p)
			}
		}
		return roles
	default:
		return []string{}
	}
}

func firstStringClaim(claims map[string]any, names ...string) string {
	for _, name := range names {
		if name == "" {
			continue
		}
		if s, ok := claims[name].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
