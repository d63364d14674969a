// Package controlplane is the gateway's HTTP client for the control plane
// service, which owns tenant, route, governor limit and identity provider
// configuration.
package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrNotFound is returned when the control plane has no matching record.
var ErrNotFound = errors.New("controlplane: not found")

// ProviderConfig is an identity provider record keyed by issuer.
type ProviderConfig struct {
	Issuer   string       `json:"issuer"`
	JWKSURI  string       `json:"jwksUri"`
	Audience string       `json:"audience,omitempty"`
	Claims   ClaimMapping `json:"claimMapping,omitempty"`
}

// ClaimMapping configures how Principal fields are read from token claims.
// Zero values fall back to the standard OIDC claim names.
type ClaimMapping struct {
	RolesClaim    string            `json:"rolesClaim,omitempty"`
	RolesMapping  map[string]string `json:"rolesValueMapping,omitempty"`
	EmailClaim    string            `json:"emailClaim,omitempty"`
	UsernameClaim string            `json:"usernameClaim,omitempty"`
	NameClaim     string            `json:"nameClaim,omitempty"`
}

// RouteConfig is a route record as published by the control plane.
type RouteConfig struct {
	ID                string `json:"id"`
	TargetServiceName string `json:"targetServiceName"`
	PathPattern       string `json:"pathPattern"`
	TargetBaseURL     string `json:"targetBaseUrl"`
	CollectionName    string `json:"collectionName"`
	RequestsPerWindow int64  `json:"requestsPerWindow,omitempty"`
}

// GovernorLimit is a tenant's contracted usage ceiling.
type GovernorLimit struct {
	TenantID       string `json:"tenantId"`
	APICallsPerDay int64  `json:"apiCallsPerDay"`
}

// Client calls the control plane's internal REST endpoints. All calls carry
// the configured bounded timeout via the underlying http.Client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a control plane client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchSlugMap returns the full tenant slug to tenant ID mapping.
func (c *Client) FetchSlugMap(ctx context.Context) (map[string]string, error) {
	var slugMap map[string]string
	if err := c.getJSON(ctx, "/control/tenants/slug-map", &slugMap); err != nil {
		return nil, fmt.Errorf("fetch slug map: %w", err)
	}
	return slugMap, nil
}

// FetchRoutes returns the active route set.
func (c *Client) FetchRoutes(ctx context.Context) ([]RouteConfig, error) {
	var routes []RouteConfig
	if err := c.getJSON(ctx, "/control/routes", &routes); err != nil {
		return nil, fmt.Errorf("fetch routes: %w", err)
	}
	return routes, nil
}

// FetchGovernorLimits returns the per-tenant daily API call budgets.
func (c *Client) FetchGovernorLimits(ctx context.Context) (map[string]GovernorLimit, error) {
	var limits map[string]GovernorLimit
	if err := c.getJSON(ctx, "/control/tenants/governor-limits", &limits); err != nil {
		return nil, fmt.Errorf("fetch governor limits: %w", err)
	}
	return limits, nil
}

// LookupProvider returns the identity provider registered for an issuer.
// Returns ErrNotFound when no active provider matches.
func (c *Client) LookupProvider(ctx context.Context, issuer string) (*ProviderConfig, error) {
	path := "/control/oidc/by-issuer?issuer=" + url.QueryEscape(issuer)
	var provider ProviderConfig
	if err := c.getJSON(ctx, path, &provider); err != nil {
		return nil, fmt.Errorf("lookup provider for issuer %q: %w", issuer, err)
	}
	return &provider, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("control plane request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control plane returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
