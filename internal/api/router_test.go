package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantrouter/internal/api"
	mw "github.com/kiranshivaraju/tenantrouter/internal/api/middleware"
	"github.com/kiranshivaraju/tenantrouter/internal/cache"
	"github.com/kiranshivaraju/tenantrouter/internal/config"
	"github.com/kiranshivaraju/tenantrouter/internal/directory"
	"github.com/kiranshivaraju/tenantrouter/internal/registry"
	"github.com/kiranshivaraju/tenantrouter/internal/registry/registrytest"
	"github.com/kiranshivaraju/tenantrouter/internal/resolver"
	"github.com/kiranshivaraju/tenantrouter/internal/scope"
	"github.com/kiranshivaraju/tenantrouter/internal/store/storetest"
	"github.com/kiranshivaraju/tenantrouter/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- stub cache ---

type stubCache struct{}

func (c *stubCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *stubCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *stubCache) Delete(_ context.Context, _ ...string) error                      { return nil }
func (c *stubCache) Ping(_ context.Context) error                                     { return nil }
func (c *stubCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

const adminKey = "tr_admin_router_test_key"

// --- router tests ---

func newTestRouter(t *testing.T) (http.Handler, *registrytest.Connector) {
	t.Helper()
	s := storetest.New()
	s.Seed(&models.Tenant{Identifier: "acme", Name: "Acme", Schema: "tenant_acme", Active: true}, "acme.example.com")
	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, s.CreateAPIKey(context.Background(), &models.APIKey{
		ID: uuid.New(), KeyHash: string(hash), KeyPrefix: adminKey[:8], Scopes: []string{"admin"},
	}))

	dir := directory.New(s)
	connector := registrytest.NewConnector()
	reg := registry.New(connector, dir, config.TenantDBConfig{Host: "db"},
		config.RegistryConfig{MaxConnsPerTenant: 1, AcquireTimeout: time.Second, ConnectTimeout: time.Second},
		registry.WithMasterConn(registrytest.NewConn(models.MasterIdentifier)))
	t.Cleanup(reg.Close)

	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(s),
		RateLimit: mw.NewRateLimit(&stubCache{}, 60),
		Scope:     scope.New(reg, resolver.New(dir, config.ResolverConfig{})),
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		},
	})
	return router, connector
}

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_AdminEndpoints_RequireAuth(t *testing.T) {
	router, _ := newTestRouter(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/admin/tenants"},
		{"GET", "/api/v1/admin/tenants"},
		{"GET", "/api/v1/admin/tenants/acme"},
		{"POST", "/api/v1/admin/tenants/acme/activate"},
		{"POST", "/api/v1/admin/tenants/acme/deactivate"},
		{"PATCH", "/api/v1/admin/tenants/acme/plan"},
		{"POST", "/api/v1/admin/tenants/acme/domains"},
		{"DELETE", "/api/v1/admin/domains/acme.example.com"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "INVALID_TOKEN", errObj["code"])
		})
	}
}

func TestRouter_AdminEndpoints_NotImplementedWithoutHandlers(t *testing.T) {
	router, connector := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/admin/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+adminKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, int64(0), connector.Connects.Load())
}

func TestRouter_TenantRoutes_ResolveHost(t *testing.T) {
	router, connector := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/settings", nil)
	req.Host = "unknown.example.com"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, int64(0), connector.Connects.Load())

	req = httptest.NewRequest("GET", "/api/v1/settings", nil)
	req.Host = "acme.example.com"
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// The fake connection has no settings row.
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, int64(1), connector.Connects.Load())
	require.NotNil(t, connector.ConnFor("tenant_acme"))
}

func TestRouter_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_MetricsOptional(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

var _ cache.Cache = (*stubCache)(nil)
