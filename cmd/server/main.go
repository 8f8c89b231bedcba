// Package main is the entrypoint for the tenantrouter API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/tenantrouter/internal/api"
	"github.com/kiranshivaraju/tenantrouter/internal/api/handler"
	mw "github.com/kiranshivaraju/tenantrouter/internal/api/middleware"
	"github.com/kiranshivaraju/tenantrouter/internal/cache"
	"github.com/kiranshivaraju/tenantrouter/internal/config"
	"github.com/kiranshivaraju/tenantrouter/internal/directory"
	"github.com/kiranshivaraju/tenantrouter/internal/provision"
	"github.com/kiranshivaraju/tenantrouter/internal/registry"
	"github.com/kiranshivaraju/tenantrouter/internal/resolver"
	"github.com/kiranshivaraju/tenantrouter/internal/scope"
	"github.com/kiranshivaraju/tenantrouter/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"unknown_host", cfg.Resolver.UnknownHost,
		"master_hosts", cfg.Resolver.MasterHosts,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to the master database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	schemaPool, err := store.ConnectSchemaPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect schema pool: %w", err)
	}
	defer schemaPool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Wire the tenant routing core
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app := wire(cfg, components{
		store:     store.NewPostgresStore(pool),
		schemas:   store.NewPostgresSchemaManager(schemaPool),
		cache:     redisCache,
		connector: registry.PgxConnector{},
		master:    pool,
		metrics:   promReg,
	})
	defer app.registry.Close()

	go app.registry.Run(ctx)

	// 6. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// components are the infrastructure pieces wire assembles the application from.
type components struct {
	store     store.Store
	schemas   store.SchemaManager
	cache     cache.Cache
	connector registry.Connector
	master    registry.Conn
	metrics   *prometheus.Registry
}

type application struct {
	router   http.Handler
	registry *registry.Registry
}

func wire(cfg *config.Config, c components) *application {
	dir := directory.New(c.store,
		directory.WithCache(c.cache, cfg.Directory.CacheTTL),
		directory.WithMasterHosts(cfg.Resolver.MasterHosts...),
	)

	metrics := registry.NewMetrics()
	c.metrics.MustRegister(metrics.PrometheusCollectors()...)

	reg := registry.New(c.connector, dir, cfg.Tenant, cfg.Registry,
		registry.WithMasterConn(c.master),
		registry.WithMetrics(metrics),
	)

	router := scope.New(reg, resolver.New(dir, cfg.Resolver))
	svc := provision.NewService(dir, c.schemas, router, reg)

	deps := api.Dependencies{
		Auth:      mw.NewAuth(c.store),
		RateLimit: mw.NewRateLimit(c.cache, cfg.RateLimit),
		Scope:     router,

		HealthHandler:  handler.Health(c.store, c.cache, reg),
		MetricsHandler: promhttp.HandlerFor(c.metrics, promhttp.HandlerOpts{}),
		Tenants:        handler.NewTenants(svc, dir),
	}

	return &application{router: api.NewRouter(deps), registry: reg}
}
