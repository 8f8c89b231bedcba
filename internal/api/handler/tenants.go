package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/tenantrouter/internal/api/response"
	"github.com/kiranshivaraju/tenantrouter/internal/provision"
	"github.com/kiranshivaraju/tenantrouter/internal/tenancy"
	"github.com/kiranshivaraju/tenantrouter/pkg/models"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// TenantService is the provisioning and lifecycle surface the admin handlers drive.
type TenantService interface {
	Provision(ctx context.Context, req provision.Request) (*provision.Result, error)
	Deactivate(ctx context.Context, identifier string) error
	Activate(ctx context.Context, identifier string) error
	ChangePlan(ctx context.Context, identifier, plan string) error
	AddDomain(ctx context.Context, identifier, hostname string) (*models.Domain, error)
	RemoveDomain(ctx context.Context, hostname string) error
}

// TenantCatalog is the read side of the tenant directory.
type TenantCatalog interface {
	List(ctx context.Context) ([]*models.Tenant, error)
	Get(ctx context.Context, identifier string) (*models.Tenant, error)
	Domains(ctx context.Context, identifier string) ([]*models.Domain, error)
}

// Tenants serves /api/v1/admin/tenants.
type Tenants struct {
	svc     TenantService
	catalog TenantCatalog
}

func NewTenants(svc TenantService, catalog TenantCatalog) *Tenants {
	return &Tenants{svc: svc, catalog: catalog}
}

type tenantDetail struct {
	*models.Tenant
	Domains []*models.Domain `json:"domains"`
}

// Create handles POST /api/v1/admin/tenants.
func (h *Tenants) Create(w http.ResponseWriter, r *http.Request) {
	var req provision.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}

	result, err := h.svc.Provision(r.Context(), req)
	if err != nil {
		writeProvisionError(w, err)
		return
	}
	response.Created(w, result)
}

func writeProvisionError(w http.ResponseWriter, err error) {
	var pe *provision.Error
	if !errors.As(err, &pe) {
		response.Failure(w, err, "Tenant provisioning failed")
		return
	}

	status := tenancy.HTTPStatus(pe.Err)
	if status < http.StatusInternalServerError {
		response.Error(w, status, tenancy.Code(pe.Err), pe.Err.Error(), nil)
		return
	}
	response.Error(w, status, tenancy.Code(pe.Err), "Tenant provisioning failed",
		map[string]string{"identifier": pe.Identifier, "stage": string(pe.Stage)})
}

// List handles GET /api/v1/admin/tenants?page=&limit=.
func (h *Tenants) List(w http.ResponseWriter, r *http.Request) {
	page, limit, ok := pagination(r.URL.Query())
	if !ok {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"page and limit must be positive integers", nil)
		return
	}

	tenants, err := h.catalog.List(r.Context())
	if err != nil {
		slog.Error("list tenants failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list tenants", nil)
		return
	}

	total := len(tenants)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)
	response.Collection(w, tenants[start:end], response.PaginationMeta{
		Page:    page,
		Limit:   limit,
		Total:   total,
		HasNext: end < total,
	})
}

func pagination(q url.Values) (page, limit int, ok bool) {
	page, limit = 1, defaultPageLimit
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, false
		}
		page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, false
		}
		limit = min(n, maxPageLimit)
	}
	return page, limit, true
}

// Get handles GET /api/v1/admin/tenants/{identifier}.
func (h *Tenants) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "identifier")
	t, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get tenant", id, err)
		return
	}
	domains, err := h.catalog.Domains(r.Context(), id)
	if err != nil {
		h.fail(w, "list domains", id, err)
		return
	}
	response.JSON(w, tenantDetail{Tenant: t, Domains: domains})
}

// Deactivate handles POST /api/v1/admin/tenants/{identifier}/deactivate.
func (h *Tenants) Deactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "identifier")
	if err := h.svc.Deactivate(r.Context(), id); err != nil {
		h.fail(w, "deactivate tenant", id, err)
		return
	}
	response.NoContent(w)
}

// Activate handles POST /api/v1/admin/tenants/{identifier}/activate.
func (h *Tenants) Activate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "identifier")
	if err := h.svc.Activate(r.Context(), id); err != nil {
		h.fail(w, "activate tenant", id, err)
		return
	}
	response.NoContent(w)
}

// ChangePlan handles PATCH /api/v1/admin/tenants/{identifier}/plan.
func (h *Tenants) ChangePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "identifier")
	var req struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	if req.Plan == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "plan is required", nil)
		return
	}
	if err := h.svc.ChangePlan(r.Context(), id, req.Plan); err != nil {
		h.fail(w, "change plan", id, err)
		return
	}
	response.NoContent(w)
}

// AddDomain handles POST /api/v1/admin/tenants/{identifier}/domains.
func (h *Tenants) AddDomain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "identifier")
	var req struct {
		Hostname string `json:"hostname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	if req.Hostname == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "hostname is required", nil)
		return
	}
	d, err := h.svc.AddDomain(r.Context(), id, req.Hostname)
	if err != nil {
		h.fail(w, "add domain", id, err)
		return
	}
	response.Created(w, d)
}

// RemoveDomain handles DELETE /api/v1/admin/domains/{hostname}.
func (h *Tenants) RemoveDomain(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "hostname")
	if err := h.svc.RemoveDomain(r.Context(), host); err != nil {
		h.fail(w, "remove domain", host, err)
		return
	}
	response.NoContent(w)
}

func (h *Tenants) fail(w http.ResponseWriter, op, subject string, err error) {
	if tenancy.HTTPStatus(err) >= http.StatusInternalServerError {
		slog.Error(op+" failed", "subject", subject, "error", err)
	}
	response.Failure(w, err, "An unexpected error occurred")
}
