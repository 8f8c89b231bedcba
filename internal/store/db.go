package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/tenantrouter/internal/config"
)

func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	// The master pool always works against the public schema.
	poolCfg.ConnConfig.RuntimeParams["search_path"] = "public"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// schemaPoolConns sizes the pool tenant DDL runs on. Schema creation happens while a
// registration transaction holds a master connection, so it must not draw from the master pool.
const schemaPoolConns = 2

// ConnectSchemaPool opens the small dedicated pool used by PostgresSchemaManager.
func ConnectSchemaPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	cfg.MaxOpenConns = schemaPoolConns
	cfg.MaxIdleConns = 0
	return Connect(ctx, cfg)
}

// RunMigrations applies the master schema migrations found in dir.
// It is a no-op when the database is already up to date.
func RunMigrations(databaseURL, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve migrations dir: %w", err)
	}

	m, err := migrate.New("file://"+filepath.ToSlash(abs), databaseURL)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
