package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-platform/edge-gateway/internal/controlplane"
)

// fakeProviderSource is an in-memory control plane provider registry.
type fakeProviderSource struct {
	providers map[string]*controlplane.ProviderConfig
	err       error
	lookups   int
}

func (f *fakeProviderSource) LookupProvider(_ context.Context, issuer string) (*controlplane.ProviderConfig, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.providers[issuer]
	if !ok {
		return nil, controlplane.ErrNotFound
	}
	return p, nil
}

func TestProviderResolver_FromControlPlane(t *testing.T) {
	source := &fakeProviderSource{providers: map[string]*controlplane.ProviderConfig{
		testIssuer: {Issuer: testIssuer, JWKSURI: "https://idp.example.com/certs", Audience: "platform-api"},
	}}
	resolver := NewProviderResolver(source, nil, "", time.Minute, testLogger())

	provider, err := resolver.Resolve(context.Background(), testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "https://idp.example.com/certs", provider.JWKSURI)
	assert.Equal(t, "platform-api", provider.Audience)
}

func TestProviderResolver_UnregisteredFallsBackToDiscovery(t *testing.T) {
	var issuer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/.well-known/openid-configuration", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"issuer":"` + issuer + `","jwks_uri":"` + issuer + `/certs"}`))
	}))
	t.Cleanup(srv.Close)
	issuer = srv.URL

	source := &fakeProviderSource{}
	resolver := NewProviderResolver(source, nil, "", time.Minute, testLogger())

	provider, err := resolver.Resolve(context.Background(), issuer)
	require.NoError(t, err)
	assert.Equal(t, issuer+"/certs", provider.JWKSURI)
}

func TestProviderResolver_DiscoveryFailsThenFallbackIssuer(t *testing.T) {
	source := &fakeProviderSource{}
	resolver := NewProviderResolver(source, nil, "https://sso.example.com/realms/platform", time.Minute, testLogger())

	// Issuer is unreachable, so discovery fails and the configured fallback
	// issuer's conventional key set endpoint is used.
	provider, err := resolver.Resolve(context.Background(), "http://127.0.0.1:1/realms/dead")
	require.NoError(t, err)
	assert.Equal(t, "https://sso.example.com/realms/platform/protocol/openid-connect/certs", provider.JWKSURI)
	assert.Equal(t, "http://127.0.0.1:1/realms/dead", provider.Issuer)
}

func TestProviderResolver_UnknownWithoutFallback(t *testing.T) {
	source := &fakeProviderSource{}
	resolver := NewProviderResolver(source, nil, "", time.Minute, testLogger())

	_, err := resolver.Resolve(context.Background(), "http://127.0.0.1:1/realms/dead")
	assert.ErrorIs(t, err, ErrUnknownIssuer)
}

func TestProviderResolver_ControlPlaneOutageStillDiscovers(t *testing.T) {
	var issuer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jwks_uri":"` + issuer + `/certs"}`))
	}))
	t.Cleanup(srv.Close)
	issuer = srv.URL

	source := &fakeProviderSource{err: errors.New("control plane down")}
	resolver := NewProviderResolver(source, nil, "", time.Minute, testLogger())

	provider, err := resolver.Resolve(context.Background(), issuer)
	require.NoError(t, err)
	assert.Equal(t, issuer+"/certs", provider.JWKSURI)
}
