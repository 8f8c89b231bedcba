// Package scope binds a tenant connection to a request context for the lifetime of one
// unit of work. Data access code obtains its connection only through Conn.
package scope

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/tenantrouter/internal/api/response"
	"github.com/kiranshivaraju/tenantrouter/internal/registry"
	"github.com/kiranshivaraju/tenantrouter/internal/resolver"
	"github.com/kiranshivaraju/tenantrouter/internal/tenancy"
	"github.com/kiranshivaraju/tenantrouter/pkg/models"
)

// ErrNoScope is returned by Conn when no binding is present in the context.
var ErrNoScope = errors.New("no tenant scope bound")

// Registry is the handle lifecycle the router needs.
type Registry interface {
	Acquire(ctx context.Context, identifier string) (*registry.Handle, error)
	AcquireTenant(ctx context.Context, t *models.Tenant) (*registry.Handle, error)
	AcquireMaster(ctx context.Context) (*registry.Handle, error)
	Release(h *registry.Handle)
}

// Resolver maps a Host header to a tenant.
type Resolver interface {
	Resolve(ctx context.Context, host string) (resolver.Resolved, error)
}

// Binding is the immutable per-request routing state.
type Binding struct {
	tenant *models.Tenant
	master bool
	handle *registry.Handle
}

// Tenant is nil for the master context.
func (b *Binding) Tenant() *models.Tenant { return b.tenant }

func (b *Binding) Master() bool { return b.master }

// Identifier returns the tenant identifier, or the master identifier.
func (b *Binding) Identifier() string {
	if b.master {
		return models.MasterIdentifier
	}
	return b.tenant.Identifier
}

func (b *Binding) Conn() registry.Conn { return b.handle.Conn() }

type ctxKey struct{}

// FromContext returns the binding installed by the router, if any.
func FromContext(ctx context.Context) (*Binding, bool) {
	b, ok := ctx.Value(ctxKey{}).(*Binding)
	return b, ok
}

// Conn returns the connection bound to ctx.
func Conn(ctx context.Context) (registry.Conn, error) {
	b, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNoScope
	}
	return b.Conn(), nil
}

// Router is the single place where tenant routing decisions are applied.
type Router struct {
	registry Registry
	resolver Resolver
}

func New(reg Registry, res Resolver) *Router {
	return &Router{registry: reg, resolver: res}
}

// WithTenantScope acquires the handle for resolved, runs fn with it bound to ctx and
// releases it on every exit path, panics and cancellation included.
func (r *Router) WithTenantScope(ctx context.Context, resolved resolver.Resolved, fn func(ctx context.Context) error) error {
	if resolved.Master {
		h, err := r.registry.AcquireMaster(ctx)
		if err != nil {
			return err
		}
		return r.run(ctx, &Binding{master: true, handle: h}, fn)
	}

	h, err := r.registry.Acquire(ctx, resolved.Tenant.Identifier)
	if err != nil {
		return err
	}
	return r.run(ctx, &Binding{tenant: resolved.Tenant, handle: h}, fn)
}

// WithTenant binds an explicit tenant descriptor, which need not be committed to the
// directory yet.
func (r *Router) WithTenant(ctx context.Context, t *models.Tenant, fn func(ctx context.Context) error) error {
	h, err := r.registry.AcquireTenant(ctx, t)
	if err != nil {
		return err
	}
	return r.run(ctx, &Binding{tenant: t, handle: h}, fn)
}

func (r *Router) run(ctx context.Context, b *Binding, fn func(ctx context.Context) error) error {
	defer r.registry.Release(b.handle)
	return fn(context.WithValue(ctx, ctxKey{}, b))
}

// Middleware resolves the request host and runs next inside that tenant's scope.
// Resolution failures are answered before any connection is acquired.
func (r *Router) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		resolved, err := r.resolver.Resolve(req.Context(), req.Host)
		if err != nil {
			writeError(w, req, err)
			return
		}
		r.serve(w, req, resolved, next)
	})
}

// MasterMiddleware runs next inside the master scope regardless of host.
func (r *Router) MasterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.serve(w, req, resolver.Resolved{Master: true}, next)
	})
}

func (r *Router) serve(w http.ResponseWriter, req *http.Request, resolved resolver.Resolved, next http.Handler) {
	err := r.WithTenantScope(req.Context(), resolved, func(ctx context.Context) error {
		next.ServeHTTP(w, req.WithContext(ctx))
		return nil
	})
	if err != nil {
		writeError(w, req, err)
	}
}

func writeError(w http.ResponseWriter, req *http.Request, err error) {
	if tenancy.HTTPStatus(err) >= http.StatusInternalServerError {
		slog.Error("tenant scope failed", "host", req.Host, "error", err)
	}
	response.Failure(w, err, "Tenant data store unavailable")
}
