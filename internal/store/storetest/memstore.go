// Package storetest provides an in-memory store.Store for unit tests.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantrouter/internal/store"
	"github.com/kiranshivaraju/tenantrouter/internal/tenancy"
	"github.com/kiranshivaraju/tenantrouter/pkg/models"
)

// MemStore keeps tenants, domains and API keys in maps. Writes made inside InTx are
// buffered and only applied when the callback succeeds.
type MemStore struct {
	mu      sync.RWMutex
	tenants map[string]*models.Tenant // by identifier
	domains map[string]*models.Domain // by hostname
	keys    []*models.APIKey

	// PingErr is returned by Ping.
	PingErr error
	// KeysErr is returned by GetAPIKeyByPrefix.
	KeysErr error
	// HostLookups counts GetTenantByHostname calls.
	HostLookups atomic.Int64
	// KeyTouches counts UpdateAPIKeyLastUsed calls.
	KeyTouches atomic.Int64
}

func New() *MemStore {
	return &MemStore{
		tenants: make(map[string]*models.Tenant),
		domains: make(map[string]*models.Domain),
	}
}

// Seed inserts a committed tenant and its domains directly.
func (m *MemStore) Seed(t *models.Tenant, hostnames ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	m.tenants[t.Identifier] = t
	for i, h := range hostnames {
		m.domains[h] = &models.Domain{ID: uuid.New(), Hostname: h, TenantID: t.ID, IsPrimary: i == 0}
	}
}

func (m *MemStore) Ping(_ context.Context) error { return m.PingErr }

func (m *MemStore) GetTenant(_ context.Context, identifier string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[identifier]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemStore) GetTenantByHostname(_ context.Context, hostname string) (*models.Tenant, error) {
	m.HostLookups.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.domains[hostname]
	if !ok {
		return nil, store.ErrNotFound
	}
	t := m.tenantByID(d.TenantID)
	if t == nil {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemStore) ListTenants(_ context.Context) ([]*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (m *MemStore) TenantConflict(_ context.Context, identifier, name, schema string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conflictLocked(identifier, name, schema), nil
}

func (m *MemStore) SetTenantActive(_ context.Context, identifier string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[identifier]
	if !ok {
		return store.ErrNotFound
	}
	t.Active = active
	return nil
}

func (m *MemStore) UpdateTenantPlan(_ context.Context, identifier, plan string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[identifier]
	if !ok {
		return store.ErrNotFound
	}
	t.Plan = plan
	return nil
}

func (m *MemStore) GetDomain(_ context.Context, hostname string) (*models.Domain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.domains[hostname]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemStore) ListDomains(_ context.Context, tenantID uuid.UUID) ([]*models.Domain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Domain
	for _, d := range m.domains {
		if d.TenantID == tenantID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].Hostname < out[j].Hostname
	})
	return out, nil
}

func (m *MemStore) AddDomain(_ context.Context, domain *models.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.domains[domain.Hostname]; ok {
		return fmt.Errorf("bind %q: %w", domain.Hostname, tenancy.ErrDuplicateDomain)
	}
	if m.tenantByID(domain.TenantID) == nil {
		return store.ErrNotFound
	}
	cp := *domain
	m.domains[domain.Hostname] = &cp
	return nil
}

func (m *MemStore) RemoveDomain(_ context.Context, hostname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.domains[hostname]
	if !ok {
		return store.ErrNotFound
	}
	if d.IsPrimary {
		return tenancy.ErrPrimaryDomain
	}
	delete(m.domains, hostname)
	return nil
}

func (m *MemStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx := &memTx{store: m}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-check at commit time, as the unique constraints would.
	for _, t := range tx.tenants {
		if m.conflictLocked(t.Identifier, t.Name, t.Schema) {
			return fmt.Errorf("create tenant %q: %w", t.Identifier, tenancy.ErrDuplicateTenant)
		}
	}
	for _, d := range tx.domains {
		if _, ok := m.domains[d.Hostname]; ok {
			return fmt.Errorf("bind %q: %w", d.Hostname, tenancy.ErrDuplicateDomain)
		}
	}
	for _, t := range tx.tenants {
		m.tenants[t.Identifier] = t
	}
	for _, d := range tx.domains {
		m.domains[d.Hostname] = d
	}
	return nil
}

func (m *MemStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	if m.KeysErr != nil {
		return nil, m.KeysErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *MemStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error {
	m.KeyTouches.Add(1)
	return nil
}

func (m *MemStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.KeyHash == key.KeyHash {
			return store.ErrDuplicateKey
		}
	}
	m.keys = append(m.keys, key)
	return nil
}

func (m *MemStore) tenantByID(id uuid.UUID) *models.Tenant {
	for _, t := range m.tenants {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (m *MemStore) conflictLocked(identifier, name, schema string) bool {
	for _, t := range m.tenants {
		if t.Identifier == identifier || t.Name == name || t.Schema == schema {
			return true
		}
	}
	return false
}

type memTx struct {
	store   *MemStore
	tenants []*models.Tenant
	domains []*models.Domain
}

func (tx *memTx) CreateTenant(_ context.Context, tenant *models.Tenant) error {
	tx.store.mu.RLock()
	taken := tx.store.conflictLocked(tenant.Identifier, tenant.Name, tenant.Schema)
	tx.store.mu.RUnlock()
	if taken {
		return fmt.Errorf("create tenant %q: %w", tenant.Identifier, tenancy.ErrDuplicateTenant)
	}
	cp := *tenant
	tx.tenants = append(tx.tenants, &cp)
	return nil
}

func (tx *memTx) CreateDomain(_ context.Context, domain *models.Domain) error {
	tx.store.mu.RLock()
	_, taken := tx.store.domains[domain.Hostname]
	tx.store.mu.RUnlock()
	if taken {
		return fmt.Errorf("bind %q: %w", domain.Hostname, tenancy.ErrDuplicateDomain)
	}
	cp := *domain
	tx.domains = append(tx.domains, &cp)
	return nil
}

// Compile-time check.
var _ store.Store = (*MemStore)(nil)
