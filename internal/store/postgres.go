package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/tenantrouter/internal/tenancy"
	"github.com/kiranshivaraju/tenantrouter/pkg/models"
)

const tenantColumns = `t.id, t.identifier, t.name, t.schema_name, t.db_host, t.db_port, t.db_name,
	t.db_user, t.db_password, t.plan, t.contact_email, t.is_active, t.created_at, t.updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetTenant(ctx context.Context, identifier string) (*models.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants t WHERE t.identifier = $1`, identifier))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetTenantByHostname(ctx context.Context, hostname string) (*models.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+`
		 FROM tenants t JOIN domains d ON d.tenant_id = t.id
		 WHERE d.hostname = $1`, hostname))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant by hostname: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tenantColumns+` FROM tenants t ORDER BY t.created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (s *PostgresStore) TenantConflict(ctx context.Context, identifier, name, schema string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenants WHERE identifier = $1 OR name = $2 OR schema_name = $3)`,
		identifier, name, schema).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tenant conflict: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) SetTenantActive(ctx context.Context, identifier string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET is_active = $2, updated_at = NOW() WHERE identifier = $1`, identifier, active)
	if err != nil {
		return fmt.Errorf("set tenant active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateTenantPlan(ctx context.Context, identifier, plan string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET plan = $2, updated_at = NOW() WHERE identifier = $1`, identifier, plan)
	if err != nil {
		return fmt.Errorf("update tenant plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Domains ---

func (s *PostgresStore) GetDomain(ctx context.Context, hostname string) (*models.Domain, error) {
	var d models.Domain
	err := s.pool.QueryRow(ctx,
		`SELECT id, hostname, tenant_id, is_primary, created_at FROM domains WHERE hostname = $1`, hostname,
	).Scan(&d.ID, &d.Hostname, &d.TenantID, &d.IsPrimary, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domain: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) ListDomains(ctx context.Context, tenantID uuid.UUID) ([]*models.Domain, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, hostname, tenant_id, is_primary, created_at
		 FROM domains WHERE tenant_id = $1 ORDER BY is_primary DESC, hostname`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var domains []*models.Domain
	for rows.Next() {
		var d models.Domain
		if err := rows.Scan(&d.ID, &d.Hostname, &d.TenantID, &d.IsPrimary, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		domains = append(domains, &d)
	}
	return domains, rows.Err()
}

func (s *PostgresStore) AddDomain(ctx context.Context, domain *models.Domain) error {
	return insertDomain(ctx, s.pool, domain)
}

func (s *PostgresStore) RemoveDomain(ctx context.Context, hostname string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM domains WHERE hostname = $1 AND NOT is_primary`, hostname)
	if err != nil {
		return fmt.Errorf("remove domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetDomain(ctx, hostname); err == nil {
			return tenancy.ErrPrimaryDomain
		}
		return ErrNotFound
	}
	return nil
}

// --- Transactions ---

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Rollback after a successful commit is a no-op.
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO tenants (id, identifier, name, schema_name, db_host, db_port, db_name, db_user,
		   db_password, plan, contact_email, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		tenant.ID, tenant.Identifier, tenant.Name, tenant.Schema, tenant.DBHost, tenant.DBPort,
		tenant.DBName, tenant.DBUser, tenant.DBPassword, tenant.Plan, tenant.ContactEmail,
		tenant.Active, tenant.CreatedAt, tenant.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("create tenant %q: %w", tenant.Identifier, tenancy.ErrDuplicateTenant)
		}
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

func (t *pgTx) CreateDomain(ctx context.Context, domain *models.Domain) error {
	return insertDomain(ctx, t.tx, domain)
}

func insertDomain(ctx context.Context, q querier, domain *models.Domain) error {
	_, err := q.Exec(ctx,
		`INSERT INTO domains (id, hostname, tenant_id, is_primary, created_at) VALUES ($1, $2, $3, $4, $5)`,
		domain.ID, domain.Hostname, domain.TenantID, domain.IsPrimary, domain.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("bind %q: %w", domain.Hostname, tenancy.ErrDuplicateDomain)
		}
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("create domain: %w", err)
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Identifier, &t.Name, &t.Schema, &t.DBHost, &t.DBPort, &t.DBName,
		&t.DBUser, &t.DBPassword, &t.Plan, &t.ContactEmail, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}
