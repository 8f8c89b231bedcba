package registry

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/tenantrouter/internal/config"
	"github.com/kiranshivaraju/tenantrouter/pkg/models"
)

// EnginePostgres is the only supported engine.
const EnginePostgres = "postgres"

// Conn is the data access surface bound to one tenant schema. *pgxpool.Pool satisfies it.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// ConnParams describes how to reach one tenant's schema.
type ConnParams struct {
	Engine     string
	Host       string
	Port       int
	Database   string
	Schema     string
	User       string
	Password   string
	SSLMode    string
	MaxConns   int
	MaxIdleAge time.Duration
}

// DSN renders the params as a postgres URL. The schema is applied separately.
func (p ConnParams) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.Database,
	}
	if p.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {p.SSLMode}}.Encode()
	}
	return u.String()
}

// Connector opens a Conn for the given params.
type Connector interface {
	Connect(ctx context.Context, params ConnParams) (Conn, error)
}

// PgxConnector opens a pgxpool per tenant with search_path pinned to the tenant schema.
type PgxConnector struct{}

func (PgxConnector) Connect(ctx context.Context, params ConnParams) (Conn, error) {
	poolCfg, err := pgxpool.ParseConfig(params.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse tenant dsn: %w", err)
	}
	if params.MaxConns > 0 {
		poolCfg.MaxConns = int32(params.MaxConns)
	}
	if params.MaxIdleAge > 0 {
		poolCfg.MaxConnIdleTime = params.MaxIdleAge
	}
	poolCfg.ConnConfig.RuntimeParams["search_path"] = params.Schema

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create tenant pool: %w", err)
	}
	return pool, nil
}

// paramsFor merges the tenant's own connection fields over the template.
func paramsFor(t *models.Tenant, tmpl config.TenantDBConfig, cfg config.RegistryConfig) ConnParams {
	p := ConnParams{
		Engine:     EnginePostgres,
		Host:       tmpl.Host,
		Port:       tmpl.Port,
		Database:   tmpl.Name,
		Schema:     t.Schema,
		User:       tmpl.User,
		Password:   tmpl.Password,
		SSLMode:    tmpl.SSLMode,
		MaxConns:   cfg.MaxConnsPerTenant,
		MaxIdleAge: cfg.MaxIdleAge,
	}
	if t.DBHost != "" {
		p.Host = t.DBHost
	}
	if t.DBPort != 0 {
		p.Port = t.DBPort
	}
	if t.DBName != "" {
		p.Database = t.DBName
	}
	if t.DBUser != "" {
		p.User = t.DBUser
	}
	if t.DBPassword != "" {
		p.Password = t.DBPassword
	}
	return p
}
