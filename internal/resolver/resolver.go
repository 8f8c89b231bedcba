// Package resolver turns an inbound Host header into a tenant or the master context.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/kiranshivaraju/tenantrouter/internal/config"
	"github.com/kiranshivaraju/tenantrouter/internal/directory"
	"github.com/kiranshivaraju/tenantrouter/internal/tenancy"
	"github.com/kiranshivaraju/tenantrouter/pkg/models"
)

// labelRe matches one DNS label.
var labelRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

const maxHostLen = 253

// Resolved is the immutable outcome of resolution. Tenant is nil when Master is set.
type Resolved struct {
	Tenant *models.Tenant
	Master bool
}

// Directory is the lookup surface the resolver needs.
type Directory interface {
	Lookup(ctx context.Context, hostname string) (directory.Entry, error)
	Get(ctx context.Context, identifier string) (*models.Tenant, error)
	IsMasterHost(hostname string) bool
}

// Resolver holds no mutable state and is safe for concurrent use.
type Resolver struct {
	dir               Directory
	unknownHost       string
	subdomainFallback bool
}

func New(dir Directory, cfg config.ResolverConfig) *Resolver {
	policy := cfg.UnknownHost
	if policy == "" {
		policy = config.UnknownHostReject
	}
	return &Resolver{
		dir:               dir,
		unknownHost:       policy,
		subdomainFallback: cfg.SubdomainFallback,
	}
}

// Resolve maps a Host header value (port optional) to a tenant.
func (r *Resolver) Resolve(ctx context.Context, host string) (Resolved, error) {
	hostname, err := Normalize(host)
	if err != nil {
		return Resolved{}, err
	}

	if r.dir.IsMasterHost(hostname) {
		return Resolved{Master: true}, nil
	}

	entry, err := r.dir.Lookup(ctx, hostname)
	if errors.Is(err, tenancy.ErrTenantNotFound) && r.subdomainFallback {
		entry, err = r.bySubdomain(ctx, hostname)
	}
	if errors.Is(err, tenancy.ErrTenantNotFound) && r.unknownHost == config.UnknownHostMaster {
		return Resolved{Master: true}, nil
	}
	if err != nil {
		return Resolved{}, err
	}
	if entry.Master {
		return Resolved{Master: true}, nil
	}
	if !entry.Tenant.Active {
		return Resolved{}, fmt.Errorf("host %q: %w", hostname, tenancy.ErrTenantInactive)
	}
	return Resolved{Tenant: entry.Tenant}, nil
}

// bySubdomain treats the leftmost label as a tenant identifier.
func (r *Resolver) bySubdomain(ctx context.Context, hostname string) (directory.Entry, error) {
	label, rest, ok := strings.Cut(hostname, ".")
	if !ok || rest == "" {
		return directory.Entry{}, fmt.Errorf("host %q: %w", hostname, tenancy.ErrTenantNotFound)
	}
	t, err := r.dir.Get(ctx, label)
	if err != nil {
		return directory.Entry{}, err
	}
	return directory.Entry{Tenant: t}, nil
}

// Normalize strips the port, lowercases and validates a host header value.
func Normalize(host string) (string, error) {
	h := strings.TrimSpace(host)
	if h == "" {
		return "", fmt.Errorf("empty host: %w", tenancy.ErrInvalidHost)
	}
	if strings.HasPrefix(h, "[") {
		return "", fmt.Errorf("host %q: ip literals are not tenant hosts: %w", host, tenancy.ErrInvalidHost)
	}
	if hostOnly, _, err := net.SplitHostPort(h); err == nil {
		h = hostOnly
	}
	h = strings.TrimSuffix(strings.ToLower(h), ".")

	if h == "" || len(h) > maxHostLen {
		return "", fmt.Errorf("host %q: %w", host, tenancy.ErrInvalidHost)
	}
	for _, label := range strings.Split(h, ".") {
		if !labelRe.MatchString(label) {
			return "", fmt.Errorf("host %q: %w", host, tenancy.ErrInvalidHost)
		}
	}
	return h, nil
}
