package directory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kiranshivaraju/tenantrouter/internal/cache"
	"github.com/kiranshivaraju/tenantrouter/internal/directory"
	"github.com/kiranshivaraju/tenantrouter/internal/store/storetest"
	"github.com/kiranshivaraju/tenantrouter/internal/tenancy"
	"github.com/kiranshivaraju/tenantrouter/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T) (*miniredis.Miniredis, *cache.RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, cache.NewRedisCacheFromClient(client)
}

func acme() *models.Tenant {
	return &models.Tenant{
		Identifier: "acme",
		Name:       "Acme",
		Schema:     "tenant_acme",
		Plan:       models.PlanFree,
		Active:     true,
	}
}

func TestLookup_ExactHostname(t *testing.T) {
	s := storetest.New()
	s.Seed(acme(), "acme.local", "shop.acme.com")
	d := directory.New(s)

	entry, err := d.Lookup(context.Background(), "acme.local")
	require.NoError(t, err)
	assert.False(t, entry.Master)
	require.NotNil(t, entry.Tenant)
	assert.Equal(t, "acme", entry.Tenant.Identifier)

	entry, err = d.Lookup(context.Background(), "SHOP.acme.com")
	require.NoError(t, err)
	assert.Equal(t, "acme", entry.Tenant.Identifier)
}

func TestLookup_Unknown(t *testing.T) {
	d := directory.New(storetest.New())

	_, err := d.Lookup(context.Background(), "nobody.local")
	assert.ErrorIs(t, err, tenancy.ErrTenantNotFound)
}

func TestLookup_ReservedAndAliases(t *testing.T) {
	s := storetest.New()
	d := directory.New(s, directory.WithMasterHosts("admin.example.com"))

	for _, host := range []string{"www", "localhost", "www.example.com", "admin.example.com", "ADMIN.example.com"} {
		entry, err := d.Lookup(context.Background(), host)
		require.NoError(t, err, host)
		assert.True(t, entry.Master, host)
		assert.Nil(t, entry.Tenant, host)
	}
	assert.Zero(t, s.HostLookups.Load(), "reserved hosts never reach the store")
}

func TestLookup_InactiveTenantIsReturned(t *testing.T) {
	s := storetest.New()
	tenant := acme()
	tenant.Active = false
	s.Seed(tenant, "acme.local")
	d := directory.New(s)

	entry, err := d.Lookup(context.Background(), "acme.local")
	require.NoError(t, err)
	assert.False(t, entry.Tenant.Active)
}

func TestLookup_CachesPositiveResults(t *testing.T) {
	mr, rc := setupCache(t)
	s := storetest.New()
	s.Seed(acme(), "acme.local")
	d := directory.New(s, directory.WithCache(rc, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry, err := d.Lookup(ctx, "acme.local")
		require.NoError(t, err)
		assert.Equal(t, "tenant_acme", entry.Tenant.Schema)
	}
	assert.Equal(t, int64(1), s.HostLookups.Load())
	assert.True(t, mr.Exists(cache.TenantHostKey("acme.local")))

	mr.FastForward(2 * time.Minute)
	_, err := d.Lookup(ctx, "acme.local")
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.HostLookups.Load())
}

func TestLookup_NegativeResultsNotCached(t *testing.T) {
	mr, rc := setupCache(t)
	s := storetest.New()
	d := directory.New(s, directory.WithCache(rc, time.Minute))
	ctx := context.Background()

	_, err := d.Lookup(ctx, "acme.local")
	require.ErrorIs(t, err, tenancy.ErrTenantNotFound)
	assert.False(t, mr.Exists(cache.TenantHostKey("acme.local")))

	require.NoError(t, d.Register(ctx, acme(), []string{"acme.local"}))

	entry, err := d.Lookup(ctx, "acme.local")
	require.NoError(t, err)
	assert.Equal(t, "acme", entry.Tenant.Identifier)
}

func TestLookup_CacheFailureFallsThrough(t *testing.T) {
	mr, rc := setupCache(t)
	s := storetest.New()
	s.Seed(acme(), "acme.local")
	d := directory.New(s, directory.WithCache(rc, time.Minute))

	mr.Close()

	entry, err := d.Lookup(context.Background(), "acme.local")
	require.NoError(t, err)
	assert.Equal(t, "acme", entry.Tenant.Identifier)
}

func TestLookup_CachedEntryHasNoCredentials(t *testing.T) {
	mr, rc := setupCache(t)
	s := storetest.New()
	tenant := acme()
	tenant.DBPassword = "s3cret"
	s.Seed(tenant, "acme.local")
	d := directory.New(s, directory.WithCache(rc, time.Minute))

	_, err := d.Lookup(context.Background(), "acme.local")
	require.NoError(t, err)

	raw, err := mr.Get(cache.TenantHostKey("acme.local"))
	require.NoError(t, err)
	assert.NotContains(t, raw, "s3cret")

	creds, err := d.Credentials(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", creds.DBPassword)
}

func TestDeactivate_InvalidatesCache(t *testing.T) {
	mr, rc := setupCache(t)
	s := storetest.New()
	s.Seed(acme(), "acme.local", "shop.acme.com")
	d := directory.New(s, directory.WithCache(rc, time.Minute))
	ctx := context.Background()

	_, err := d.Lookup(ctx, "acme.local")
	require.NoError(t, err)
	_, err = d.Lookup(ctx, "shop.acme.com")
	require.NoError(t, err)

	require.NoError(t, d.Deactivate(ctx, "acme"))
	assert.False(t, mr.Exists(cache.TenantHostKey("acme.local")))
	assert.False(t, mr.Exists(cache.TenantHostKey("shop.acme.com")))

	entry, err := d.Lookup(ctx, "acme.local")
	require.NoError(t, err)
	assert.False(t, entry.Tenant.Active)

	require.NoError(t, d.Activate(ctx, "acme"))
	entry, err = d.Lookup(ctx, "acme.local")
	require.NoError(t, err)
	assert.True(t, entry.Tenant.Active)
}

func TestDeactivate_UnknownTenant(t *testing.T) {
	d := directory.New(storetest.New())
	assert.ErrorIs(t, d.Deactivate(context.Background(), "ghost"), tenancy.ErrTenantNotFound)
}

func TestRegister_Atomic(t *testing.T) {
	s := storetest.New()
	d := directory.New(s)
	ctx := context.Background()

	hookErr := errors.New("seed exploded")
	err := d.Register(ctx, acme(), []string{"acme.local"},
		directory.WithBeforeCommit(func(ctx context.Context) error { return hookErr }))
	require.ErrorIs(t, err, hookErr)

	_, err = d.Lookup(ctx, "acme.local")
	assert.ErrorIs(t, err, tenancy.ErrTenantNotFound)
	_, err = d.Get(ctx, "acme")
	assert.ErrorIs(t, err, tenancy.ErrTenantNotFound)
}

func TestRegister_BeforeCommitSeesNothingCommitted(t *testing.T) {
	s := storetest.New()
	d := directory.New(s)
	ctx := context.Background()

	err := d.Register(ctx, acme(), []string{"acme.local"},
		directory.WithBeforeCommit(func(ctx context.Context) error {
			_, err := d.Lookup(ctx, "acme.local")
			assert.ErrorIs(t, err, tenancy.ErrTenantNotFound)
			return nil
		}))
	require.NoError(t, err)

	entry, err := d.Lookup(ctx, "acme.local")
	require.NoError(t, err)
	assert.Equal(t, "acme", entry.Tenant.Identifier)
}

func TestRegister_Duplicates(t *testing.T) {
	s := storetest.New()
	s.Seed(acme(), "acme.local")
	d := directory.New(s)
	ctx := context.Background()

	err := d.Register(ctx, acme(), []string{"other.local"})
	assert.ErrorIs(t, err, tenancy.ErrDuplicateTenant)

	globex := &models.Tenant{Identifier: "globex", Name: "Globex", Schema: "tenant_globex", Active: true}
	err = d.Register(ctx, globex, []string{"acme.local"})
	assert.ErrorIs(t, err, tenancy.ErrDuplicateDomain)

	_, err = d.Get(ctx, "globex")
	assert.ErrorIs(t, err, tenancy.ErrTenantNotFound)
}

func TestRegister_RequiresDomain(t *testing.T) {
	d := directory.New(storetest.New())
	err := d.Register(context.Background(), acme(), nil)
	assert.ErrorIs(t, err, tenancy.ErrInvalidRequest)
}

func TestDomains_AddAndRemove(t *testing.T) {
	s := storetest.New()
	s.Seed(acme(), "acme.local")
	d := directory.New(s)
	ctx := context.Background()

	dom, err := d.AddDomain(ctx, "acme", "Shop.Acme.com")
	require.NoError(t, err)
	assert.Equal(t, "shop.acme.com", dom.Hostname)
	assert.False(t, dom.IsPrimary)

	entry, err := d.Lookup(ctx, "shop.acme.com")
	require.NoError(t, err)
	assert.Equal(t, "acme", entry.Tenant.Identifier)

	_, err = d.AddDomain(ctx, "acme", "acme.local")
	assert.ErrorIs(t, err, tenancy.ErrDuplicateDomain)

	assert.ErrorIs(t, d.RemoveDomain(ctx, "acme.local"), tenancy.ErrPrimaryDomain)
	require.NoError(t, d.RemoveDomain(ctx, "shop.acme.com"))

	_, err = d.Lookup(ctx, "shop.acme.com")
	assert.ErrorIs(t, err, tenancy.ErrTenantNotFound)

	domains, err := d.Domains(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, domains, 1)
	assert.True(t, domains[0].IsPrimary)
}

func TestChangePlan(t *testing.T) {
	s := storetest.New()
	s.Seed(acme(), "acme.local")
	d := directory.New(s)
	ctx := context.Background()

	require.NoError(t, d.ChangePlan(ctx, "acme", models.PlanEnterprise))
	got, err := d.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, models.PlanEnterprise, got.Plan)

	assert.ErrorIs(t, d.ChangePlan(ctx, "acme", "platinum"), tenancy.ErrInvalidRequest)
	assert.ErrorIs(t, d.ChangePlan(ctx, "ghost", models.PlanPro), tenancy.ErrTenantNotFound)
}

func TestHostBound(t *testing.T) {
	s := storetest.New()
	s.Seed(acme(), "acme.local")
	d := directory.New(s)

	bound, err := d.HostBound(context.Background(), "ACME.local")
	require.NoError(t, err)
	assert.True(t, bound)

	bound, err = d.HostBound(context.Background(), "globex.local")
	require.NoError(t, err)
	assert.False(t, bound)
}
