package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the tenantrouter server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Tenant    TenantDBConfig
	Registry  RegistryConfig
	Resolver  ResolverConfig
	Directory DirectoryConfig
	RateLimit int
}

type ServerConfig struct {
	Port int
	Env  string
}

// DatabaseConfig describes the master (public) database.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// TenantDBConfig is the connection template tenants inherit from when their own
// credentials are not set.
type TenantDBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type RegistryConfig struct {
	MaxConnsPerTenant   int
	AcquireTimeout      time.Duration
	ConnectTimeout      time.Duration
	MaxIdleAge          time.Duration
	HealthCheckInterval time.Duration
}

type ResolverConfig struct {
	MasterHosts       []string
	UnknownHost       string
	SubdomainFallback bool
}

type DirectoryConfig struct {
	CacheTTL time.Duration
}

const (
	UnknownHostReject = "reject"
	UnknownHostMaster = "master"
)

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("TENANTROUTER_PORT", 8080),
			Env:  envString("TENANTROUTER_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Registry: RegistryConfig{
			MaxConnsPerTenant:   envInt("REGISTRY_MAX_CONNS_PER_TENANT", 4),
			AcquireTimeout:      envDuration("REGISTRY_ACQUIRE_TIMEOUT", 5*time.Second),
			ConnectTimeout:      envDuration("REGISTRY_CONNECT_TIMEOUT", 10*time.Second),
			MaxIdleAge:          envDuration("REGISTRY_MAX_IDLE_AGE", 15*time.Minute),
			HealthCheckInterval: envDuration("REGISTRY_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Resolver: ResolverConfig{
			MasterHosts:       envList("RESOLVER_MASTER_HOSTS"),
			UnknownHost:       envString("RESOLVER_UNKNOWN_HOST", UnknownHostReject),
			SubdomainFallback: envBool("RESOLVER_SUBDOMAIN_FALLBACK", false),
		},
		Directory: DirectoryConfig{
			CacheTTL: envDuration("DIRECTORY_CACHE_TTL", 5*time.Minute),
		},
		RateLimit: envInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	tmpl, err := templateFromURL(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	cfg.Tenant = TenantDBConfig{
		Host:     envString("TENANT_DB_HOST", tmpl.Host),
		Port:     envInt("TENANT_DB_PORT", tmpl.Port),
		Name:     envString("TENANT_DB_NAME", tmpl.Name),
		User:     envString("TENANT_DB_USER", tmpl.User),
		Password: envString("TENANT_DB_PASSWORD", tmpl.Password),
		SSLMode:  envString("TENANT_DB_SSLMODE", tmpl.SSLMode),
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://, got %q", c.Database.URL)
	}

	// Provisioning holds one master connection for the registration transaction while
	// other requests keep using the pool.
	if c.Database.MaxOpenConns < 2 {
		return fmt.Errorf("DATABASE_MAX_OPEN_CONNS must be at least 2, got %d", c.Database.MaxOpenConns)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Resolver.UnknownHost != UnknownHostReject && c.Resolver.UnknownHost != UnknownHostMaster {
		return fmt.Errorf("RESOLVER_UNKNOWN_HOST must be one of reject, master; got %q", c.Resolver.UnknownHost)
	}

	if c.Registry.MaxConnsPerTenant <= 0 {
		return fmt.Errorf("REGISTRY_MAX_CONNS_PER_TENANT must be positive, got %d", c.Registry.MaxConnsPerTenant)
	}
	if c.Registry.AcquireTimeout <= 0 {
		return fmt.Errorf("REGISTRY_ACQUIRE_TIMEOUT must be positive")
	}

	return nil
}

// templateFromURL derives tenant connection defaults from the master database URL.
func templateFromURL(raw string) (TenantDBConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return TenantDBConfig{}, fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}

	tmpl := TenantDBConfig{
		Host:    u.Hostname(),
		Port:    5432,
		Name:    strings.TrimPrefix(u.Path, "/"),
		SSLMode: u.Query().Get("sslmode"),
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return TenantDBConfig{}, fmt.Errorf("DATABASE_URL has invalid port %q", p)
		}
		tmpl.Port = port
	}
	if u.User != nil {
		tmpl.User = u.User.Username()
		tmpl.Password, _ = u.User.Password()
	}
	if tmpl.SSLMode == "" {
		tmpl.SSLMode = "prefer"
	}
	return tmpl, nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// envList splits a comma-separated variable, dropping blanks and lowercasing entries.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
