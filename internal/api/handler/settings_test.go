package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
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
)

var settingsTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// settingsRouter serves Settings behind the scope middleware. Each tenant connection
// answers the settings query with its own schema name as the company name.
func settingsRouter(t *testing.T, unknownHost string) (http.Handler, *registrytest.Connector) {
	t.Helper()
	s := storetest.New()
	s.Seed(&models.Tenant{Identifier: "acme", Name: "Acme", Schema: "tenant_acme", Active: true}, "acme.example.com")
	s.Seed(&models.Tenant{Identifier: "globex", Name: "Globex", Schema: "tenant_globex", Active: true}, "globex.example.com")
	s.Seed(&models.Tenant{Identifier: "empty", Name: "Empty", Schema: "tenant_empty", Active: true}, "empty.example.com")

	connector := registrytest.NewConnector()
	connector.OnConnect(func(c *registrytest.Conn) {
		if c.Params.Schema == "tenant_empty" {
			return
		}
		schema := c.Params.Schema
		c.SetQueryRow(func(string, ...any) pgx.Row {
			return registrytest.Row{Values: []any{schema, "USD", "UTC", settingsTime, settingsTime}}
		})
	})

	dir := directory.New(s)
	reg := registry.New(connector, dir, config.TenantDBConfig{Host: "db"},
		config.RegistryConfig{MaxConnsPerTenant: 1, AcquireTimeout: time.Second, ConnectTimeout: time.Second},
		registry.WithMasterConn(registrytest.NewConn("public")))
	t.Cleanup(reg.Close)

	router := scope.New(reg, resolver.New(dir, config.ResolverConfig{UnknownHost: unknownHost}))
	return router.Middleware(http.HandlerFunc(Settings)), connector
}

func getSettings(h http.Handler, host string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil)
	req.Host = host
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSettings_ReadsBoundTenant(t *testing.T) {
	h, _ := settingsRouter(t, config.UnknownHostReject)

	rec := getSettings(h, "acme.example.com")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.Equal(t, "tenant_acme", data["company_name"])
	assert.Equal(t, "USD", data["currency"])
	assert.Equal(t, "UTC", data["timezone"])

	rec = getSettings(h, "GLOBEX.example.com:8443")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tenant_globex", decodeData(t, rec)["company_name"])
}

func TestSettings_NotSeeded(t *testing.T) {
	h, _ := settingsRouter(t, config.UnknownHostReject)

	rec := getSettings(h, "empty.example.com")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	code, _, _ := decodeErr(t, rec)
	assert.Equal(t, "SETTINGS_NOT_FOUND", code)
}

func TestSettings_QueryFailure(t *testing.T) {
	h, connector := settingsRouter(t, config.UnknownHostReject)
	connector.OnConnect(func(c *registrytest.Conn) {
		c.SetQueryRow(func(string, ...any) pgx.Row {
			return registrytest.Row{Err: errors.New("read tcp 10.1.2.3:5432: i/o timeout")}
		})
	})

	rec := getSettings(h, "acme.example.com")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.1.2.3")
}

func TestSettings_UnknownHostRejected(t *testing.T) {
	h, connector := settingsRouter(t, config.UnknownHostReject)

	rec := getSettings(h, "nobody.example.com")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int64(0), connector.Connects.Load())
}

func TestSettings_MasterHasNoSettings(t *testing.T) {
	h, _ := settingsRouter(t, config.UnknownHostMaster)

	rec := getSettings(h, "nobody.example.com")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	code, _, _ := decodeErr(t, rec)
	assert.Equal(t, "TENANT_NOT_FOUND", code)
}

func TestSettings_NoScope(t *testing.T) {
	rec := httptest.NewRecorder()
	Settings(rec, httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
