package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/atlas-platform/edge-gateway/internal/controlplane"
)

// jwksFetchTimeout bounds each remote key set fetch.
const jwksFetchTimeout = 10 * time.Second

// TokenVerifier validates a bearer token and produces a Principal.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Principal, error)
}

// providerResolver is the subset of ProviderResolver the verifier needs.
type providerResolver interface {
	Resolve(ctx context.Context, issuer string) (*controlplane.ProviderConfig, error)
	Invalidate(ctx context.Context, issuer string)
}

// DynamicVerifier validates tokens against the issuer named in the token
// itself. Per-issuer verifiers (remote JWKS key set + audience config) are
// built lazily and cached; construction for the same issuer is collapsed
// through singleflight so a burst of first requests performs one provider
// lookup. Eviction is the only way a rotated key set or changed audience is
// picked up — there is no TTL on the verifier cache.
type DynamicVerifier struct {
	resolver        providerResolver
	defaultAudience string
	clockSkew       time.Duration
	logger          *slog.Logger

	// baseCtx outlives individual requests so an abandoned JWKS fetch
	// still completes and populates the shared key set.
	baseCtx context.Context

	// jwksClient bounds remote key set fetches, which would otherwise go
	// through the unbounded default client.
	jwksClient *http.Client

	group     singleflight.Group
	mu        sync.RWMutex
	verifiers map[string]*issuerVerifier
}

type issuerVerifier struct {
	verifier *oidc.IDTokenVerifier
	mapping  controlplane.ClaimMapping
}

// NewDynamicVerifier creates a verifier with an empty cache.
func NewDynamicVerifier(
	baseCtx context.Context,
	resolver providerResolver,
	defaultAudience string,
	clockSkew time.Duration,
	logger *slog.Logger,
) *DynamicVerifier {
	return &DynamicVerifier{
		resolver:        resolver,
		defaultAudience: defaultAudience,
		clockSkew:       clockSkew,
		logger:          logger,
		baseCtx:         baseCtx,
		jwksClient:      &http.Client{Timeout: jwksFetchTimeout},
		verifiers:       make(map[string]*issuerVerifier),
	}
}

// Verify validates the token and extracts the Principal. The Principal is
// only produced after issuer resolution, signature, expiry and audience
// checks have all passed.
func (d *DynamicVerifier) Verify(ctx context.Context, rawToken string) (*Principal, error) {
	issuer, err := unverifiedIssuer(rawToken)
	if err != nil {
		return nil, err
	}

	iv, err := d.verifierFor(ctx, issuer)
	if err != nil {
		return nil, err
	}

	idToken, err := iv.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, classify(err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to decode claims: %v", ErrInvalidToken, err)
	}

	return ExtractPrincipal(claims, iv.mapping)
}

// Evict drops the cached verifier for an issuer and invalidates the shared
// provider cache entry. The next request for that issuer re-resolves the
// provider and re-fetches JWKS.
func (d *DynamicVerifier) Evict(issuer string) {
	d.mu.Lock()
	delete(d.verifiers, issuer)
	d.mu.Unlock()

	d.resolver.Invalidate(d.baseCtx, issuer)
	d.logger.Info("evicted cached token verifier", slog.String("issuer", issuer))
}

// EvictAll drops every cached verifier. Used as the conservative fallback
// when a configuration change event does not name a specific issuer.
func (d *DynamicVerifier) EvictAll() {
	d.mu.Lock()
	count := len(d.verifiers)
	d.verifiers = make(map[string]*issuerVerifier)
	d.mu.Unlock()

	d.logger.Info("evicted all cached token verifiers", slog.Int("count", count))
}

func (d *DynamicVerifier) verifierFor(ctx context.Context, issuer string) (*issuerVerifier, error) {
	d.mu.RLock()
	iv, ok := d.verifiers[issuer]
	d.mu.RUnlock()
	if ok {
		return iv, nil
	}

	// First caller builds, concurrent callers wait for the same result.
	v, err, _ := d.group.Do(issuer, func() (any, error) {
		d.mu.RLock()
		cached, ok := d.verifiers[issuer]
		d.mu.RUnlock()
		if ok {
			return cached, nil
		}

		provider, err := d.resolver.Resolve(ctx, issuer)
		if err != nil {
			return nil, err
		}

		audience := provider.Audience
		if audience == "" {
			audience = d.defaultAudience
		}
		if audience == "" {
			return nil, fmt.Errorf("%w: no expected audience configured for issuer %s", ErrUnknownIssuer, issuer)
		}

		cfg := &oidc.Config{ClientID: audience}
		if d.clockSkew > 0 {
			skew := d.clockSkew
			cfg.Now = func() time.Time { return time.Now().Add(-skew) }
		}

		jwksCtx := oidc.ClientContext(d.baseCtx, d.jwksClient)
		keySet := oidc.NewRemoteKeySet(jwksCtx, provider.JWKSURI)
		built := &issuerVerifier{
			verifier: oidc.NewVerifier(issuer, keySet, cfg),
			mapping:  provider.Claims,
		}

		d.mu.Lock()
		d.verifiers[issuer] = built
		d.mu.Unlock()

		d.logger.Debug("built token verifier",
			slog.String("issuer", issuer),
			slog.String("jwks_uri", provider.JWKSURI),
		)
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*issuerVerifier), nil
}

// unverifiedIssuer reads the iss claim without verifying the signature.
// Signature validation happens afterwards with the issuer's own key set.
func unverifiedIssuer(rawToken string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	issuer, err := token.Claims.GetIssuer()
	if err != nil || issuer == "" {
		return "", fmt.Errorf("%w: missing iss claim", ErrInvalidToken)
	}
	return issuer, nil
}

// classify maps go-oidc verification errors onto the package's failure
// kinds. go-oidc does not export sentinel errors for most cases, so this
// falls back to message inspection.
func classify(err error) error {
	var expired *oidc.TokenExpiredError
	if errors.As(err, &expired) {
		return fmt.Errorf("%w: %v", ErrExpired, err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "audience"):
		return fmt.Errorf("%w: %v", ErrAudienceMismatch, err)
	case strings.Contains(msg, "fetching keys"), strings.Contains(msg, "get keys"):
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	case strings.Contains(msg, "signature"):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
