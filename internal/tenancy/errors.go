// Package tenancy holds the error taxonomy shared by the tenant routing layer and its
// mapping onto the API error envelope.
package tenancy

import (
	"errors"
	"net/http"
)

var (
	ErrTenantNotFound       = errors.New("tenant not found")
	ErrTenantInactive       = errors.New("tenant inactive")
	ErrDuplicateTenant      = errors.New("tenant already exists")
	ErrDuplicateDomain      = errors.New("domain already bound")
	ErrConnection           = errors.New("tenant connection failed")
	ErrConnectionTimeout    = errors.New("tenant connection timeout")
	ErrSchemaCreationFailed = errors.New("schema creation failed")
	ErrSeedDataFailed       = errors.New("seed data failed")
	ErrInvalidHost          = errors.New("invalid host")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrPrimaryDomain        = errors.New("primary domain cannot be removed")
)

type mapping struct {
	err    error
	code   string
	status int
}

// Order matters: ErrConnectionTimeout must be checked before ErrConnection because
// timeouts are reported wrapping both.
var mappings = []mapping{
	{ErrInvalidHost, "INVALID_HOST", http.StatusBadRequest},
	{ErrInvalidRequest, "INVALID_REQUEST", http.StatusBadRequest},
	{ErrTenantNotFound, "TENANT_NOT_FOUND", http.StatusNotFound},
	{ErrTenantInactive, "TENANT_INACTIVE", http.StatusForbidden},
	{ErrDuplicateTenant, "DUPLICATE_TENANT", http.StatusConflict},
	{ErrDuplicateDomain, "DUPLICATE_DOMAIN", http.StatusConflict},
	{ErrPrimaryDomain, "PRIMARY_DOMAIN", http.StatusConflict},
	{ErrConnectionTimeout, "CONNECTION_TIMEOUT", http.StatusGatewayTimeout},
	{ErrConnection, "CONNECTION_ERROR", http.StatusServiceUnavailable},
	{ErrSchemaCreationFailed, "SCHEMA_CREATION_FAILED", http.StatusInternalServerError},
	{ErrSeedDataFailed, "SEED_DATA_FAILED", http.StatusInternalServerError},
}

// Code returns the API error code for err, or INTERNAL_ERROR when err is not part of the
// taxonomy.
func Code(err error) string {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return "INTERNAL_ERROR"
}

// HTTPStatus returns the HTTP status for err.
func HTTPStatus(err error) int {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}
