package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantrouter/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the master (public schema) data access interface. Tenant business data never
// goes through here; it is reached through the connection registry.
type Store interface {
	Ping(ctx context.Context) error

	GetTenant(ctx context.Context, identifier string) (*models.Tenant, error)
	GetTenantByHostname(ctx context.Context, hostname string) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]*models.Tenant, error)
	// TenantConflict reports whether any tenant already uses the identifier, name or schema.
	TenantConflict(ctx context.Context, identifier, name, schema string) (bool, error)
	SetTenantActive(ctx context.Context, identifier string, active bool) error
	UpdateTenantPlan(ctx context.Context, identifier, plan string) error

	GetDomain(ctx context.Context, hostname string) (*models.Domain, error)
	ListDomains(ctx context.Context, tenantID uuid.UUID) ([]*models.Domain, error)
	AddDomain(ctx context.Context, domain *models.Domain) error
	RemoveDomain(ctx context.Context, hostname string) error

	// InTx runs fn inside a master transaction. The transaction commits only if fn
	// returns nil; nothing written through tx is visible to other callers before that.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// Tx is the write surface available inside InTx.
type Tx interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	CreateDomain(ctx context.Context, domain *models.Domain) error
}

// SchemaManager creates and drops isolated tenant schemas.
type SchemaManager interface {
	CreateSchema(ctx context.Context, schema string) error
	DropSchema(ctx context.Context, schema string) error
}
