// Package provision creates tenants atomically and runs their administrative lifecycle.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantrouter/internal/directory"
	"github.com/kiranshivaraju/tenantrouter/internal/resolver"
	"github.com/kiranshivaraju/tenantrouter/internal/scope"
	"github.com/kiranshivaraju/tenantrouter/internal/store"
	"github.com/kiranshivaraju/tenantrouter/internal/tenancy"
	"github.com/kiranshivaraju/tenantrouter/pkg/models"
)

// Stage is a provisioning state.
type Stage string

const (
	StagePending       Stage = "pending"
	StageSchemaCreated Stage = "schema_created"
	StageDataSeeded    Stage = "data_seeded"
	StageCommitted     Stage = "committed"
	StageFailed        Stage = "failed"
)

const (
	schemaPrefix   = "tenant_"
	maxNameLen     = 255
	rollbackBudget = 30 * time.Second
)

// Request describes a tenant to create.
type Request struct {
	Name         string `json:"name"`
	Domain       string `json:"domain"`
	ContactEmail string `json:"contact_email"`
	Plan         string `json:"plan"`
}

// Result describes a committed tenant.
type Result struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	Identifier string    `json:"identifier"`
	Schema     string    `json:"schema"`
	Domain     string    `json:"domain"`
	Status     Stage     `json:"status"`
}

// Error reports the last stage a failed provisioning attempt reached. Everything up to
// that stage has been rolled back.
type Error struct {
	Identifier string
	Stage      Stage
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provision %q failed after %s: %v", e.Identifier, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Directory is the catalog surface provisioning writes to.
type Directory interface {
	IsMasterHost(hostname string) bool
	Conflict(ctx context.Context, identifier, name, schema string) (bool, error)
	HostBound(ctx context.Context, hostname string) (bool, error)
	Register(ctx context.Context, t *models.Tenant, hostnames []string, opts ...directory.RegisterOption) error
	Deactivate(ctx context.Context, identifier string) error
	Activate(ctx context.Context, identifier string) error
	ChangePlan(ctx context.Context, identifier, plan string) error
	AddDomain(ctx context.Context, identifier, hostname string) (*models.Domain, error)
	RemoveDomain(ctx context.Context, hostname string) error
}

// Scoper runs fn with a tenant connection bound to ctx.
type Scoper interface {
	WithTenant(ctx context.Context, t *models.Tenant, fn func(ctx context.Context) error) error
}

// Invalidator drops cached tenant connections.
type Invalidator interface {
	Invalidate(identifier string)
}

type Service struct {
	dir      Directory
	schemas  store.SchemaManager
	scoper   Scoper
	registry Invalidator
	seeder   Seeder
}

// Option configures a Service.
type Option func(*Service)

func WithSeeder(s Seeder) Option {
	return func(svc *Service) { svc.seeder = s }
}

func NewService(dir Directory, schemas store.SchemaManager, scoper Scoper, reg Invalidator, opts ...Option) *Service {
	s := &Service{
		dir:      dir,
		schemas:  schemas,
		scoper:   scoper,
		registry: reg,
		seeder:   DefaultSeeder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provision creates the tenant record, its primary domain, its schema and its seed data
// as one unit. On any failure nothing is left behind and a *Error is returned.
func (s *Service) Provision(ctx context.Context, req Request) (*Result, error) {
	tenant, domain, err := s.prepare(req)
	if err != nil {
		return nil, &Error{Identifier: tenant.Identifier, Stage: StagePending, Err: err}
	}
	log := slog.With("tenant", tenant.Identifier, "domain", domain)

	if err := s.precheck(ctx, tenant, domain); err != nil {
		return nil, &Error{Identifier: tenant.Identifier, Stage: StagePending, Err: err}
	}

	stage := StagePending
	var schemaCreated, scoped bool
	err = s.dir.Register(ctx, tenant, []string{domain}, directory.WithBeforeCommit(func(ctx context.Context) error {
		if err := s.schemas.CreateSchema(ctx, tenant.Schema); err != nil {
			return fmt.Errorf("%w: %v", tenancy.ErrSchemaCreationFailed, err)
		}
		schemaCreated = true
		stage = StageSchemaCreated
		log.Info("tenant schema created", "stage", stage, "schema", tenant.Schema)

		scoped = true
		err := s.scoper.WithTenant(ctx, tenant, func(ctx context.Context) error {
			conn, err := scope.Conn(ctx)
			if err != nil {
				return err
			}
			return s.seeder.Seed(ctx, conn, tenant)
		})
		if err != nil {
			return fmt.Errorf("%w: %v", tenancy.ErrSeedDataFailed, err)
		}
		stage = StageDataSeeded
		log.Info("tenant data seeded", "stage", stage)
		return nil
	}))
	if err != nil {
		s.rollback(ctx, tenant, schemaCreated, scoped)
		log.Error("tenant provisioning failed", "stage", stage, "error", err)
		return nil, &Error{Identifier: tenant.Identifier, Stage: stage, Err: err}
	}

	log.Info("tenant provisioned", "stage", StageCommitted, "schema", tenant.Schema)
	return &Result{
		TenantID:   tenant.ID,
		Identifier: tenant.Identifier,
		Schema:     tenant.Schema,
		Domain:     domain,
		Status:     StageCommitted,
	}, nil
}

// prepare validates req and derives the tenant descriptor. The returned tenant is never
// nil so callers can report its identifier.
func (s *Service) prepare(req Request) (*models.Tenant, string, error) {
	tenant := &models.Tenant{}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return tenant, "", fmt.Errorf("name is required: %w", tenancy.ErrInvalidRequest)
	}
	if len(name) > maxNameLen {
		return tenant, "", fmt.Errorf("name exceeds %d characters: %w", maxNameLen, tenancy.ErrInvalidRequest)
	}

	if strings.TrimSpace(req.Domain) == "" {
		return tenant, "", fmt.Errorf("domain is required: %w", tenancy.ErrInvalidRequest)
	}
	domain, err := resolver.Normalize(req.Domain)
	if err != nil {
		return tenant, "", fmt.Errorf("domain %q is not a valid hostname: %w", req.Domain, tenancy.ErrInvalidRequest)
	}
	if s.dir.IsMasterHost(domain) {
		return tenant, "", fmt.Errorf("domain %q is reserved: %w", domain, tenancy.ErrInvalidRequest)
	}

	plan := req.Plan
	if plan == "" {
		plan = models.PlanFree
	}
	if !models.ValidPlan(plan) {
		return tenant, "", fmt.Errorf("plan %q must be one of free, pro, enterprise: %w", plan, tenancy.ErrInvalidRequest)
	}

	email := strings.TrimSpace(req.ContactEmail)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return tenant, "", fmt.Errorf("contact_email %q is invalid: %w", email, tenancy.ErrInvalidRequest)
		}
	}

	identifier := IdentifierFor(domain)
	schema := SchemaFor(identifier)
	tenant.Identifier = identifier
	if !store.ValidSchemaName(schema) {
		return tenant, "", fmt.Errorf("schema %q derived from domain is not usable: %w", schema, tenancy.ErrInvalidRequest)
	}

	tenant.Name = name
	tenant.Schema = schema
	tenant.Plan = plan
	tenant.ContactEmail = email
	tenant.Active = true
	return tenant, domain, nil
}

func (s *Service) precheck(ctx context.Context, tenant *models.Tenant, domain string) error {
	bound, err := s.dir.HostBound(ctx, domain)
	if err != nil {
		return fmt.Errorf("check domain: %w", err)
	}
	if bound {
		return fmt.Errorf("domain %q: %w", domain, tenancy.ErrDuplicateDomain)
	}

	conflict, err := s.dir.Conflict(ctx, tenant.Identifier, tenant.Name, tenant.Schema)
	if err != nil {
		return fmt.Errorf("check tenant: %w", err)
	}
	if conflict {
		return fmt.Errorf("tenant %q: %w", tenant.Identifier, tenancy.ErrDuplicateTenant)
	}
	return nil
}

// rollback undoes what the failed attempt created. The master transaction has already
// been rolled back by the directory.
func (s *Service) rollback(ctx context.Context, tenant *models.Tenant, schemaCreated, scoped bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackBudget)
	defer cancel()

	if scoped {
		s.registry.Invalidate(tenant.Identifier)
	}
	if schemaCreated {
		if err := s.schemas.DropSchema(ctx, tenant.Schema); err != nil {
			slog.Error("tenant schema rollback failed", "tenant", tenant.Identifier, "schema", tenant.Schema, "error", err)
		}
	}
}

// IdentifierFor derives the tenant identifier from the leftmost domain label.
func IdentifierFor(domain string) string {
	label, _, _ := strings.Cut(strings.ToLower(domain), ".")
	return label
}

// SchemaFor derives the schema name for an identifier.
func SchemaFor(identifier string) string {
	return schemaPrefix + strings.ReplaceAll(identifier, "-", "_")
}

// --- lifecycle ---

// Deactivate soft-deletes the tenant and closes its cached connection.
func (s *Service) Deactivate(ctx context.Context, identifier string) error {
	if err := s.dir.Deactivate(ctx, identifier); err != nil {
		return err
	}
	s.registry.Invalidate(identifier)
	slog.Info("tenant deactivated", "tenant", identifier)
	return nil
}

func (s *Service) Activate(ctx context.Context, identifier string) error {
	if err := s.dir.Activate(ctx, identifier); err != nil {
		return err
	}
	slog.Info("tenant activated", "tenant", identifier)
	return nil
}

func (s *Service) ChangePlan(ctx context.Context, identifier, plan string) error {
	return s.dir.ChangePlan(ctx, identifier, plan)
}

// AddDomain binds another hostname to an existing tenant.
func (s *Service) AddDomain(ctx context.Context, identifier, hostname string) (*models.Domain, error) {
	h, err := resolver.Normalize(hostname)
	if err != nil {
		return nil, fmt.Errorf("domain %q is not a valid hostname: %w", hostname, tenancy.ErrInvalidRequest)
	}
	if s.dir.IsMasterHost(h) {
		return nil, fmt.Errorf("domain %q is reserved: %w", h, tenancy.ErrInvalidRequest)
	}
	return s.dir.AddDomain(ctx, identifier, h)
}

func (s *Service) RemoveDomain(ctx context.Context, hostname string) error {
	return s.dir.RemoveDomain(ctx, hostname)
}
