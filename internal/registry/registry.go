// Package registry keeps one live connection handle per tenant. Handles are built lazily,
// at most once concurrently per tenant, and reused across requests.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/tenantrouter/internal/config"
	"github.com/kiranshivaraju/tenantrouter/internal/tenancy"
	"github.com/kiranshivaraju/tenantrouter/pkg/models"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("registry closed")

// errStaleBuild reports a handle whose tenant was invalidated while it was being built.
var errStaleBuild = errors.New("invalidated during construction")

// maxAttempts bounds how many times Acquire starts over after losing a race with
// Invalidate.
const maxAttempts = 3

// CredentialSource supplies the stored tenant row, credentials included.
type CredentialSource interface {
	Credentials(ctx context.Context, identifier string) (*models.Tenant, error)
}

// Registry is safe for concurrent use.
type Registry struct {
	connector Connector
	creds     CredentialSource
	template  config.TenantDBConfig
	cfg       config.RegistryConfig
	metrics   *Metrics
	master    *Handle

	group singleflight.Group

	mu      sync.Mutex
	handles map[string]*Handle
	// gens counts invalidations per identifier. A build only registers its handle if the
	// generation it started under is still current.
	gens   map[string]uint64
	closed bool

	now func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithMasterConn pins conn as the master handle. The registry never closes it.
func WithMasterConn(conn Conn) Option {
	return func(r *Registry) {
		r.master = &Handle{tenant: models.MasterIdentifier, schema: models.MasterIdentifier, conn: conn, master: true}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(connector Connector, creds CredentialSource, tmpl config.TenantDBConfig, cfg config.RegistryConfig, opts ...Option) *Registry {
	r := &Registry{
		connector: connector,
		creds:     creds,
		template:  tmpl,
		cfg:       cfg,
		handles:   make(map[string]*Handle),
		gens:      make(map[string]uint64),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics()
	}
	return r
}

// Metrics returns the registry's collectors.
func (r *Registry) Metrics() *Metrics { return r.metrics }

// Acquire returns the handle for identifier, building it from stored credentials if
// needed. Callers must Release the handle.
func (r *Registry) Acquire(ctx context.Context, identifier string) (*Handle, error) {
	return r.acquire(ctx, identifier, nil)
}

// AcquireTenant is Acquire with an explicit descriptor instead of a credential lookup.
func (r *Registry) AcquireTenant(ctx context.Context, t *models.Tenant) (*Handle, error) {
	return r.acquire(ctx, t.Identifier, t)
}

// AcquireMaster returns the pinned master handle.
func (r *Registry) AcquireMaster(_ context.Context) (*Handle, error) {
	if r.master == nil {
		return nil, fmt.Errorf("master handle not configured: %w", tenancy.ErrConnection)
	}
	r.mu.Lock()
	r.master.refs++
	r.mu.Unlock()
	return r.master, nil
}

func (r *Registry) acquire(ctx context.Context, identifier string, t *models.Tenant) (*Handle, error) {
	start := time.Now()
	defer func() { r.metrics.AcquireDuration.Observe(time.Since(start).Seconds()) }()

	if r.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.AcquireTimeout)
		defer cancel()
	}

	h, err := r.acquireOnce(ctx, identifier, t)
	if err == nil || !retryable(err) {
		return h, err
	}
	slog.Warn("tenant connection failed, retrying", "tenant", identifier, "error", err)
	return r.acquireOnce(ctx, identifier, t)
}

func retryable(err error) bool {
	return errors.Is(err, tenancy.ErrConnection) && !errors.Is(err, tenancy.ErrConnectionTimeout)
}

func (r *Registry) acquireOnce(ctx context.Context, identifier string, t *models.Tenant) (*Handle, error) {
	for i := 0; i < maxAttempts; i++ {
		if h, err := r.retainExisting(identifier); h != nil || err != nil {
			return h, err
		}

		ch := r.group.DoChan(identifier, func() (any, error) {
			return r.build(identifier, t)
		})
		select {
		case res := <-ch:
			if errors.Is(res.Err, errStaleBuild) {
				continue
			}
			if res.Err != nil {
				return nil, res.Err
			}
			if h := res.Val.(*Handle); r.retain(h) {
				return h, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire tenant %q: %w: %w", identifier, tenancy.ErrConnectionTimeout, tenancy.ErrConnection)
		}
	}
	return nil, fmt.Errorf("acquire tenant %q: handle invalidated concurrently: %w", identifier, tenancy.ErrConnection)
}

func (r *Registry) retainExisting(identifier string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	h, ok := r.handles[identifier]
	if !ok {
		return nil, nil
	}
	h.refs++
	h.lastUsed = r.now()
	return h, nil
}

func (r *Registry) retain(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.closed {
		return false
	}
	h.refs++
	h.lastUsed = r.now()
	return true
}

// build runs once per identifier at a time. It uses a detached context so a waiter
// giving up does not abort a build other waiters still need; the result is owned by
// the map either way.
func (r *Registry) build(identifier string, t *models.Tenant) (*Handle, error) {
	r.mu.Lock()
	if h, ok := r.handles[identifier]; ok {
		r.mu.Unlock()
		return h, nil
	}
	gen := r.gens[identifier]
	r.mu.Unlock()

	ctx := context.Background()
	if r.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ConnectTimeout)
		defer cancel()
	}

	if t == nil {
		var err error
		if t, err = r.creds.Credentials(ctx, identifier); err != nil {
			r.metrics.ConstructionFailures.Inc()
			return nil, err
		}
	}

	params := paramsFor(t, r.template, r.cfg)
	conn, err := r.connector.Connect(ctx, params)
	if err == nil {
		if err = conn.Ping(ctx); err != nil {
			conn.Close()
		}
	}
	if err != nil {
		r.metrics.ConstructionFailures.Inc()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("connect tenant %q: %w: %w", identifier, tenancy.ErrConnectionTimeout, tenancy.ErrConnection)
		}
		return nil, fmt.Errorf("connect tenant %q: %w: %v", identifier, tenancy.ErrConnection, err)
	}

	h := &Handle{
		tenant:   identifier,
		schema:   params.Schema,
		conn:     conn,
		lastUsed: r.now(),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close()
		return nil, ErrClosed
	}
	if r.gens[identifier] != gen {
		r.mu.Unlock()
		conn.Close()
		slog.Info("discarding tenant connection built before invalidation", "tenant", identifier)
		return nil, fmt.Errorf("connect tenant %q: %w: %w", identifier, errStaleBuild, tenancy.ErrConnection)
	}
	if existing, ok := r.handles[identifier]; ok {
		r.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	r.handles[identifier] = h
	r.mu.Unlock()

	r.metrics.Constructions.Inc()
	r.metrics.HandlesOpen.Inc()
	slog.Info("tenant connection opened", "tenant", identifier, "schema", params.Schema, "host", params.Host)
	return h, nil
}

// Release returns a handle after use. It never closes the underlying connection.
func (r *Registry) Release(h *Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.refs > 0 {
		h.refs--
	}
	h.lastUsed = r.now()
}

// Invalidate evicts and closes the handle for identifier. The entry is removed before
// the connection is closed, so concurrent acquirers build a fresh handle.
func (r *Registry) Invalidate(identifier string) {
	r.invalidate(identifier, "manual")
}

func (r *Registry) invalidate(identifier, reason string) {
	r.evict(identifier, reason, nil)
}

// evict removes the entry for identifier if match accepts it (or match is nil), marks it
// closed under the lock and closes the connection after releasing it. An unconditional
// evict also bumps the generation, so a build already in flight is discarded.
func (r *Registry) evict(identifier, reason string, match func(h *Handle) bool) bool {
	r.mu.Lock()
	h, ok := r.handles[identifier]
	if ok && match != nil && !match(h) {
		ok = false
	}
	if ok || match == nil {
		r.gens[identifier]++
	}
	if ok {
		delete(r.handles, identifier)
		h.closed = true
	}
	r.mu.Unlock()
	if ok || match == nil {
		r.group.Forget(identifier)
	}

	if !ok {
		return false
	}
	h.conn.Close()
	r.metrics.HandlesOpen.Dec()
	r.metrics.Invalidations.WithLabelValues(reason).Inc()
	slog.Info("tenant connection closed", "tenant", identifier, "reason", reason)
	return true
}

// Len returns the number of registered tenant handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Close closes every tenant handle. The master connection is left to its owner.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	handles := r.handles
	r.handles = make(map[string]*Handle)
	for _, h := range handles {
		h.closed = true
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.conn.Close()
		r.metrics.HandlesOpen.Dec()
	}
}
