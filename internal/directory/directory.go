// Package directory maps hostnames to tenants. It is backed by the master store with a
// Redis read-through cache and never touches tenant connections.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantrouter/internal/cache"
	"github.com/kiranshivaraju/tenantrouter/internal/store"
	"github.com/kiranshivaraju/tenantrouter/internal/tenancy"
	"github.com/kiranshivaraju/tenantrouter/pkg/models"
)

// ReservedLabels always resolve to the master context.
var ReservedLabels = []string{"www", "localhost"}

// Entry is the result of a hostname lookup. Tenant is nil when Master is set.
type Entry struct {
	Tenant *models.Tenant
	Master bool
}

// Directory is safe for concurrent use.
type Directory struct {
	store       store.Store
	cache       cache.Cache
	ttl         time.Duration
	masterHosts map[string]struct{}
}

// Option configures a Directory.
type Option func(*Directory)

// WithCache enables hostname caching. A nil cache or non-positive ttl disables it.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(d *Directory) {
		d.cache = c
		d.ttl = ttl
	}
}

// WithMasterHosts adds hostnames that resolve to the master context.
func WithMasterHosts(hosts ...string) Option {
	return func(d *Directory) {
		for _, h := range hosts {
			d.masterHosts[strings.ToLower(h)] = struct{}{}
		}
	}
}

func New(s store.Store, opts ...Option) *Directory {
	d := &Directory{
		store:       s,
		masterHosts: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IsMasterHost reports whether hostname belongs to the master context: a reserved label on
// its own or as the leftmost label, or a configured alias.
func (d *Directory) IsMasterHost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	if _, ok := d.masterHosts[hostname]; ok {
		return true
	}
	label, _, _ := strings.Cut(hostname, ".")
	for _, r := range ReservedLabels {
		if label == r {
			return true
		}
	}
	return false
}

// Lookup returns the tenant bound to hostname. Inactive tenants are returned as is.
func (d *Directory) Lookup(ctx context.Context, hostname string) (Entry, error) {
	hostname = strings.ToLower(hostname)
	if d.IsMasterHost(hostname) {
		return Entry{Master: true}, nil
	}

	if t, ok := d.cached(ctx, hostname); ok {
		return Entry{Tenant: t}, nil
	}

	t, err := d.store.GetTenantByHostname(ctx, hostname)
	if errors.Is(err, store.ErrNotFound) {
		return Entry{}, fmt.Errorf("host %q: %w", hostname, tenancy.ErrTenantNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup host %q: %w", hostname, err)
	}

	d.remember(ctx, hostname, t)
	return Entry{Tenant: t}, nil
}

// Get returns a tenant by identifier.
func (d *Directory) Get(ctx context.Context, identifier string) (*models.Tenant, error) {
	t, err := d.store.GetTenant(ctx, identifier)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("tenant %q: %w", identifier, tenancy.ErrTenantNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %q: %w", identifier, err)
	}
	return t, nil
}

// Credentials reads the tenant row, connection fields included, bypassing the cache.
func (d *Directory) Credentials(ctx context.Context, identifier string) (*models.Tenant, error) {
	return d.Get(ctx, identifier)
}

func (d *Directory) List(ctx context.Context) ([]*models.Tenant, error) {
	return d.store.ListTenants(ctx)
}

func (d *Directory) Domains(ctx context.Context, identifier string) ([]*models.Domain, error) {
	t, err := d.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return d.store.ListDomains(ctx, t.ID)
}

// Conflict reports whether the identifier, name or schema is already taken.
func (d *Directory) Conflict(ctx context.Context, identifier, name, schema string) (bool, error) {
	return d.store.TenantConflict(ctx, identifier, name, schema)
}

// HostBound reports whether hostname is already bound to any tenant.
func (d *Directory) HostBound(ctx context.Context, hostname string) (bool, error) {
	_, err := d.store.GetDomain(ctx, strings.ToLower(hostname))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type registerOptions struct {
	beforeCommit func(ctx context.Context) error
}

// RegisterOption configures Register.
type RegisterOption func(*registerOptions)

// WithBeforeCommit runs fn inside the open registration transaction. An error from fn
// rolls the registration back.
func WithBeforeCommit(fn func(ctx context.Context) error) RegisterOption {
	return func(o *registerOptions) { o.beforeCommit = fn }
}

// Register inserts the tenant and its bindings atomically. The first hostname becomes
// the primary binding.
func (d *Directory) Register(ctx context.Context, t *models.Tenant, hostnames []string, opts ...RegisterOption) error {
	if len(hostnames) == 0 {
		return fmt.Errorf("register %q: at least one domain: %w", t.Identifier, tenancy.ErrInvalidRequest)
	}
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now().UTC()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	err := d.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateTenant(ctx, t); err != nil {
			return err
		}
		for i, h := range hostnames {
			err := tx.CreateDomain(ctx, &models.Domain{
				ID:        uuid.New(),
				Hostname:  strings.ToLower(h),
				TenantID:  t.ID,
				IsPrimary: i == 0,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
		}
		if o.beforeCommit != nil {
			return o.beforeCommit(ctx)
		}
		return nil
	})
	if err != nil {
		return err
	}

	keys := make([]string, len(hostnames))
	for i, h := range hostnames {
		keys[i] = cache.TenantHostKey(h)
	}
	d.forget(ctx, keys...)
	return nil
}

// Deactivate soft-deletes a tenant. Its hostnames stop resolving to an active tenant.
func (d *Directory) Deactivate(ctx context.Context, identifier string) error {
	return d.setActive(ctx, identifier, false)
}

func (d *Directory) Activate(ctx context.Context, identifier string) error {
	return d.setActive(ctx, identifier, true)
}

func (d *Directory) setActive(ctx context.Context, identifier string, active bool) error {
	if err := d.store.SetTenantActive(ctx, identifier, active); err != nil {
		return d.notFound(identifier, err)
	}
	d.forgetTenant(ctx, identifier)
	return nil
}

func (d *Directory) ChangePlan(ctx context.Context, identifier, plan string) error {
	if !models.ValidPlan(plan) {
		return fmt.Errorf("plan %q: %w", plan, tenancy.ErrInvalidRequest)
	}
	if err := d.store.UpdateTenantPlan(ctx, identifier, plan); err != nil {
		return d.notFound(identifier, err)
	}
	d.forgetTenant(ctx, identifier)
	return nil
}

// AddDomain binds an additional, non-primary hostname to a tenant.
func (d *Directory) AddDomain(ctx context.Context, identifier, hostname string) (*models.Domain, error) {
	t, err := d.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	domain := &models.Domain{
		ID:        uuid.New(),
		Hostname:  strings.ToLower(hostname),
		TenantID:  t.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.AddDomain(ctx, domain); err != nil {
		return nil, d.notFound(identifier, err)
	}
	d.forget(ctx, cache.TenantHostKey(domain.Hostname))
	return domain, nil
}

// RemoveDomain unbinds a hostname. The primary binding cannot be removed.
func (d *Directory) RemoveDomain(ctx context.Context, hostname string) error {
	hostname = strings.ToLower(hostname)
	err := d.store.RemoveDomain(ctx, hostname)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("host %q: %w", hostname, tenancy.ErrTenantNotFound)
	}
	if err != nil {
		return err
	}
	d.forget(ctx, cache.TenantHostKey(hostname))
	return nil
}

func (d *Directory) notFound(identifier string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("tenant %q: %w", identifier, tenancy.ErrTenantNotFound)
	}
	return err
}

// --- cache ---

func (d *Directory) cacheEnabled() bool {
	return d.cache != nil && d.ttl > 0
}

func (d *Directory) cached(ctx context.Context, hostname string) (*models.Tenant, bool) {
	if !d.cacheEnabled() {
		return nil, false
	}
	raw, found, err := d.cache.Get(ctx, cache.TenantHostKey(hostname))
	if err != nil {
		slog.Warn("directory cache read failed", "host", hostname, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var t models.Tenant
	if err := json.Unmarshal(raw, &t); err != nil {
		slog.Warn("directory cache entry corrupt", "host", hostname, "error", err)
		return nil, false
	}
	return &t, true
}

func (d *Directory) remember(ctx context.Context, hostname string, t *models.Tenant) {
	if !d.cacheEnabled() {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, cache.TenantHostKey(hostname), raw, d.ttl); err != nil {
		slog.Warn("directory cache write failed", "host", hostname, "error", err)
	}
}

func (d *Directory) forget(ctx context.Context, keys ...string) {
	if !d.cacheEnabled() {
		return
	}
	if err := d.cache.Delete(ctx, keys...); err != nil {
		slog.Warn("directory cache invalidation failed", "keys", keys, "error", err)
	}
}

func (d *Directory) forgetTenant(ctx context.Context, identifier string) {
	if !d.cacheEnabled() {
		return
	}
	domains, err := d.Domains(ctx, identifier)
	if err != nil {
		slog.Warn("directory cache invalidation failed", "tenant", identifier, "error", err)
		return
	}
	keys := make([]string, len(domains))
	for i, dom := range domains {
		keys[i] = cache.TenantHostKey(dom.Hostname)
	}
	d.forget(ctx, keys...)
}
