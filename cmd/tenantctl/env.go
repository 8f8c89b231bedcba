package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/tenantrouter/internal/cache"
	"github.com/kiranshivaraju/tenantrouter/internal/config"
	"github.com/kiranshivaraju/tenantrouter/internal/directory"
	"github.com/kiranshivaraju/tenantrouter/internal/provision"
	"github.com/kiranshivaraju/tenantrouter/internal/registry"
	"github.com/kiranshivaraju/tenantrouter/internal/resolver"
	"github.com/kiranshivaraju/tenantrouter/internal/scope"
	"github.com/kiranshivaraju/tenantrouter/internal/store"
)

// backend is what the commands operate on.
type backend struct {
	store     store.Store
	directory *directory.Directory
	service   *provision.Service
}

// env opens backends and runs migrations. Tests replace it with in-memory versions.
type env struct {
	open    func(ctx context.Context) (*backend, func(), error)
	migrate func(dir string) error
}

func defaultEnv() *env {
	return &env{open: openBackend, migrate: migrate}
}

func migrate(dir string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return store.RunMigrations(cfg.Database.URL, dir)
}

func openBackend(ctx context.Context) (*backend, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	schemaPool, err := store.ConnectSchemaPool(ctx, cfg.Database)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect schema pool: %w", err)
	}
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		schemaPool.Close()
		pool.Close()
		return nil, nil, fmt.Errorf("create redis cache: %w", err)
	}

	b, reg := assemble(cfg, store.NewPostgresStore(pool), store.NewPostgresSchemaManager(schemaPool),
		redisCache, registry.PgxConnector{})
	cleanup := func() {
		reg.Close()
		redisCache.Close()
		schemaPool.Close()
		pool.Close()
	}
	return b, cleanup, nil
}

// assemble wires the directory and provisioning service the same way the server does.
// The CLI registry only lives for one command.
func assemble(cfg *config.Config, s store.Store, schemas store.SchemaManager, c cache.Cache, connector registry.Connector) (*backend, *registry.Registry) {
	dir := directory.New(s,
		directory.WithCache(c, cfg.Directory.CacheTTL),
		directory.WithMasterHosts(cfg.Resolver.MasterHosts...),
	)
	reg := registry.New(connector, dir, cfg.Tenant, cfg.Registry)
	router := scope.New(reg, resolver.New(dir, cfg.Resolver))
	return &backend{
		store:     s,
		directory: dir,
		service:   provision.NewService(dir, schemas, router, reg),
	}, reg
}

const commandTimeout = 2 * time.Minute
