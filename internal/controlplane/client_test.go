package controlplane

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second)
}

func TestFetchSlugMap(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/control/tenants/slug-map", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"acme":"tid-1","globex":"tid-2"}`))
	})

	slugMap, err := client.FetchSlugMap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"acme": "tid-1", "globex": "tid-2"}, slugMap)
}

func TestFetchRoutes(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/control/routes", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"r1","targetServiceName":"users","pathPattern":"/api/users/**","targetBaseUrl":"http://users:8080"},
			{"id":"r2","targetServiceName":"orders","pathPattern":"/api/orders/**","targetBaseUrl":"http://orders:8080","requestsPerWindow":10}
		]`))
	})

	routes, err := client.FetchRoutes(context.Background())
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, "r1", routes[0].ID)
	assert.Equal(t, "/api/users/**", routes[0].PathPattern)
	assert.Equal(t, int64(10), routes[1].RequestsPerWindow)
}

func TestFetchGovernorLimits(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/control/tenants/governor-limits", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tid-1":{"tenantId":"tid-1","apiCallsPerDay":100000}}`))
	})

	limits, err := client.FetchGovernorLimits(context.Background())
	require.NoError(t, err)
	require.Contains(t, limits, "tid-1")
	assert.Equal(t, int64(100000), limits["tid-1"].APICallsPerDay)
}

func TestLookupProvider(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/control/oidc/by-issuer", r.URL.Path)
		assert.Equal(t, "https://idp.example.com/realms/acme", r.URL.Query().Get("issuer"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"issuer":"https://idp.example.com/realms/acme",
			"jwksUri":"https://idp.example.com/realms/acme/certs",
			"audience":"acme-api",
			"claimMapping":{"rolesClaim":"groups"}
		}`))
	})

	provider, err := client.LookupProvider(context.Background(), "https://idp.example.com/realms/acme")
	require.NoError(t, err)
	assert.Equal(t, "https://idp.example.com/realms/acme/certs", provider.JWKSURI)
	assert.Equal(t, "acme-api", provider.Audience)
	assert.Equal(t, "groups", provider.Claims.RolesClaim)
}

func TestLookupProvider_NotFound(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.LookupProvider(context.Background(), "https://unknown.example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetJSON_ServerError(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.FetchSlugMap(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
