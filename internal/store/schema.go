package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlTimeout bounds a single schema create or drop.
const ddlTimeout = 30 * time.Second

var schemaNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// reservedSchemas can never be created or dropped as tenant schemas.
var reservedSchemas = map[string]bool{
	"public":             true,
	"information_schema": true,
	"pg_catalog":         true,
	"pg_toast":           true,
}

// tenantDDL creates the business tables every tenant schema starts with. It runs with
// search_path pointing at the new schema.
const tenantDDL = `
CREATE TABLE company_settings (
    id           SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    company_name TEXT NOT NULL,
    currency     CHAR(3) NOT NULL DEFAULT 'USD',
    timezone     TEXT NOT NULL DEFAULT 'UTC',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE products (
    id          BIGSERIAL PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    price       NUMERIC(10, 2) NOT NULL,
    stock       INTEGER NOT NULL CHECK (stock >= 0),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// ValidSchemaName reports whether name can be used as a tenant schema.
func ValidSchemaName(name string) bool {
	return schemaNameRe.MatchString(name) && !reservedSchemas[name]
}

// PostgresSchemaManager creates tenant schemas inside the master database. Its pool must
// be separate from the master store's pool (see ConnectSchemaPool).
type PostgresSchemaManager struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPostgresSchemaManager(pool *pgxpool.Pool) *PostgresSchemaManager {
	return &PostgresSchemaManager{pool: pool, timeout: ddlTimeout}
}

// CreateSchema creates schema and its tables in a single transaction, so a failure leaves
// nothing behind.
func (m *PostgresSchemaManager) CreateSchema(ctx context.Context, schema string) error {
	if !ValidSchemaName(schema) {
		return fmt.Errorf("invalid schema name %q", schema)
	}
	ident := pgx.Identifier{schema}.Sanitize()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "CREATE SCHEMA "+ident); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.Exec(ctx, "SET LOCAL search_path TO "+ident); err != nil {
			return fmt.Errorf("set search_path: %w", err)
		}
		if _, err := tx.Exec(ctx, tenantDDL); err != nil {
			return fmt.Errorf("create tenant tables: %w", err)
		}
		return nil
	})
}

func (m *PostgresSchemaManager) DropSchema(ctx context.Context, schema string) error {
	if !ValidSchemaName(schema) {
		return fmt.Errorf("invalid schema name %q", schema)
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if _, err := m.pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{schema}.Sanitize()+" CASCADE"); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	return nil
}
