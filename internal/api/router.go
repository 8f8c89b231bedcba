package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/tenantrouter/internal/api/handler"
	mw "github.com/kiranshivaraju/tenantrouter/internal/api/middleware"
	"github.com/kiranshivaraju/tenantrouter/internal/api/response"
)

// Scoper binds requests to a tenant or to the master context.
type Scoper interface {
	Middleware(next http.Handler) http.Handler
	MasterMiddleware(next http.Handler) http.Handler
}

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Scope     Scoper

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler
	Tenants        *handler.Tenants
}

// NewRouter builds the Chi router. Admin routes run in the master context; tenant routes
// are bound to the tenant resolved from the Host header.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)
		r.Use(deps.Auth.RequireScope("admin"))
		r.Use(deps.Scope.MasterMiddleware)
		r.Use(mw.TenantLogField)

		t := deps.Tenants
		r.Post("/api/v1/admin/tenants", orNotImplemented(method(t, (*handler.Tenants).Create)))
		r.Get("/api/v1/admin/tenants", orNotImplemented(method(t, (*handler.Tenants).List)))
		r.Get("/api/v1/admin/tenants/{identifier}", orNotImplemented(method(t, (*handler.Tenants).Get)))
		r.Post("/api/v1/admin/tenants/{identifier}/activate", orNotImplemented(method(t, (*handler.Tenants).Activate)))
		r.Post("/api/v1/admin/tenants/{identifier}/deactivate", orNotImplemented(method(t, (*handler.Tenants).Deactivate)))
		r.Patch("/api/v1/admin/tenants/{identifier}/plan", orNotImplemented(method(t, (*handler.Tenants).ChangePlan)))
		r.Post("/api/v1/admin/tenants/{identifier}/domains", orNotImplemented(method(t, (*handler.Tenants).AddDomain)))
		r.Delete("/api/v1/admin/domains/{hostname}", orNotImplemented(method(t, (*handler.Tenants).RemoveDomain)))
	})

	r.Group(func(r chi.Router) {
		r.Use(deps.Scope.Middleware)
		r.Use(mw.TenantLogField)

		r.Get("/api/v1/settings", handler.Settings)
	})

	return r
}

// method binds a Tenants handler method, or returns nil when the handler set is absent.
func method(t *handler.Tenants, fn func(*handler.Tenants, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	if t == nil {
		return nil
	}
	return func(w http.ResponseWriter, r *http.Request) { fn(t, w, r) }
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
