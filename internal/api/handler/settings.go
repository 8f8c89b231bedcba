package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/tenantrouter/internal/api/response"
	"github.com/kiranshivaraju/tenantrouter/internal/scope"
	"github.com/kiranshivaraju/tenantrouter/internal/tenancy"
	"github.com/kiranshivaraju/tenantrouter/pkg/models"
)

const settingsQuery = `SELECT company_name, currency, timezone, created_at, updated_at
	FROM company_settings WHERE id = 1`

// Settings handles GET /api/v1/settings for the tenant bound to the request.
func Settings(w http.ResponseWriter, r *http.Request) {
	b, ok := scope.FromContext(r.Context())
	if !ok {
		slog.Error("settings requested without tenant scope", "host", r.Host)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}
	if b.Master() {
		response.Failure(w, fmt.Errorf("host %q has no tenant settings: %w", r.Host, tenancy.ErrTenantNotFound), "")
		return
	}

	var s models.CompanySettings
	err := b.Conn().QueryRow(r.Context(), settingsQuery).
		Scan(&s.CompanyName, &s.Currency, &s.Timezone, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		response.Error(w, http.StatusNotFound, "SETTINGS_NOT_FOUND", "Company settings have not been created", nil)
		return
	}
	if err != nil {
		slog.Error("read company settings failed", "tenant", b.Identifier(), "error", err)
		response.Failure(w, fmt.Errorf("%w: %v", tenancy.ErrConnection, err), "Tenant data store unavailable")
		return
	}
	response.JSON(w, s)
}
