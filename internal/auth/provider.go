package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atlas-platform/edge-gateway/internal/controlplane"
)

const (
	// providerKeyPrefix namespaces cached provider records in Redis.
	providerKeyPrefix = "oidc:provider:"

	defaultProviderCacheTTL = 15 * time.Minute
)

// ProviderSource looks up identity provider configuration by issuer.
type ProviderSource interface {
	LookupProvider(ctx context.Context, issuer string) (*controlplane.ProviderConfig, error)
}

// ProviderResolver resolves an issuer to its provider configuration.
// Lookup order: Redis cache, control plane, then standard OIDC discovery
// against the issuer itself (covers a control plane holding stale JWKS
// URIs). A configured fallback issuer is the last resort for issuers the
// platform does not know.
type ProviderResolver struct {
	source         ProviderSource
	redisClient    redis.Cmdable // nil disables the shared cache
	httpClient     *http.Client
	fallbackIssuer string
	cacheTTL       time.Duration
	logger         *slog.Logger
}

// NewProviderResolver creates a resolver. redisClient may be nil, in which
// case every resolution goes to the control plane.
func NewProviderResolver(
	source ProviderSource,
	redisClient redis.Cmdable,
	fallbackIssuer string,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *ProviderResolver {
	if cacheTTL <= 0 {
		cacheTTL = defaultProviderCacheTTL
	}
	return &ProviderResolver{
		source:         source,
		redisClient:    redisClient,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		fallbackIssuer: fallbackIssuer,
		cacheTTL:       cacheTTL,
		logger:         logger,
	}
}

// Resolve returns the provider configuration for an issuer.
func (r *ProviderResolver) Resolve(ctx context.Context, issuer string) (*controlplane.ProviderConfig, error) {
	if cached := r.fromCache(ctx, issuer); cached != nil {
		return cached, nil
	}

	provider, err := r.source.LookupProvider(ctx, issuer)
	if err == nil {
		r.toCache(ctx, issuer, provider)
		return provider, nil
	}

	if errors.Is(err, controlplane.ErrNotFound) {
		return r.discoverOrFallback(ctx, issuer, err)
	}

	// Control plane unreachable: discovery may still let a known-good
	// issuer through without admitting anything unverifiable.
	r.logger.Warn("provider lookup failed, trying OIDC discovery",
		slog.String("issuer", issuer),
		slog.String("error", err.Error()),
	)
	return r.discoverOrFallback(ctx, issuer, err)
}

// Invalidate drops the cached provider record for an issuer.
func (r *ProviderResolver) Invalidate(ctx context.Context, issuer string) {
	if r.redisClient == nil {
		return
	}
	if err := r.redisClient.Del(ctx, providerKeyPrefix+issuer).Err(); err != nil {
		r.logger.Warn("failed to invalidate cached provider",
			slog.String("issuer", issuer),
			slog.String("error", err.Error()),
		)
	}
}

func (r *ProviderResolver) discoverOrFallback(ctx context.Context, issuer string, cause error) (*controlplane.ProviderConfig, error) {
	jwksURI, err := r.discoverJWKSURI(ctx, issuer)
	if err == nil {
		provider := &controlplane.ProviderConfig{Issuer: issuer, JWKSURI: jwksURI}
		r.toCache(ctx, issuer, provider)
		return provider, nil
	}

	if r.fallbackIssuer == "" {
		return nil, fmt.Errorf("%w: %s (lookup: %v)", ErrUnknownIssuer, issuer, cause)
	}

	r.logger.Warn("OIDC discovery failed, using fallback issuer key set",
		slog.String("issuer", issuer),
		slog.String("fallback", r.fallbackIssuer),
		slog.String("error", err.Error()),
	)
	return &controlplane.ProviderConfig{
		Issuer:  issuer,
		JWKSURI: strings.TrimSuffix(r.fallbackIssuer, "/") + "/protocol/openid-connect/certs",
	}, nil
}

// discoverJWKSURI reads jwks_uri from the issuer's well-known document.
func (r *ProviderResolver) discoverJWKSURI(ctx context.Context, issuer string) (string, error) {
	wellKnown := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create discovery request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("OIDC discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OIDC discovery returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read discovery response: %w", err)
	}

	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("failed to parse discovery response: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("discovery document for %s has no jwks_uri", issuer)
	}
	return doc.JWKSURI, nil
}

func (r *ProviderResolver) fromCache(ctx context.Context, issuer string) *controlplane.ProviderConfig {
	if r.redisClient == nil {
		return nil
	}
	val, err := r.redisClient.Get(ctx, providerKeyPrefix+issuer).Result()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("provider cache read failed",
				slog.String("issuer", issuer),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	var provider controlplane.ProviderConfig
	if err := json.Unmarshal([]byte(val), &provider); err != nil {
		r.logger.Warn("discarding malformed cached provider",
			slog.String("issuer", issuer),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return &provider
}

func (r *ProviderResolver) toCache(ctx context.Context, issuer string, provider *controlplane.ProviderConfig) {
	if r.redisClient == nil {
		return
	}
	b, err := json.Marshal(provider)
	if err != nil {
		return
	}
	if err := r.redisClient.Set(ctx, providerKeyPrefix+issuer, b, r.cacheTTL).Err(); err != nil {
		r.logger.Warn("provider cache write failed",
			slog.String("issuer", issuer),
			slog.String("error", err.Error()),
		)
	}
}
