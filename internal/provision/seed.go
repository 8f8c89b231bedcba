package provision

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/tenantrouter/internal/registry"
	"github.com/kiranshivaraju/tenantrouter/pkg/models"
)

// Seeder writes a new tenant's initial data through conn, which is already bound to the
// tenant schema. Seed runs once per successful provision and must tolerate being re-run
// against partially seeded data.
type Seeder interface {
	Seed(ctx context.Context, conn registry.Conn, t *models.Tenant) error
}

// SeederFunc adapts a function to Seeder.
type SeederFunc func(ctx context.Context, conn registry.Conn, t *models.Tenant) error

func (f SeederFunc) Seed(ctx context.Context, conn registry.Conn, t *models.Tenant) error {
	return f(ctx, conn, t)
}

// DefaultProducts are created in every new tenant.
var DefaultProducts = []models.Product{
	{Name: "Default Product 1", Price: "9.99", Stock: 100},
	{Name: "Default Product 2", Price: "19.99", Stock: 50},
}

const (
	defaultCurrency = "USD"
	defaultTimezone = "UTC"
)

// DefaultSeeder creates the default products and the company settings record.
type DefaultSeeder struct{}

func (DefaultSeeder) Seed(ctx context.Context, conn registry.Conn, t *models.Tenant) error {
	for _, p := range DefaultProducts {
		_, err := conn.Exec(ctx,
			`INSERT INTO products (name, description, price, stock) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (name) DO NOTHING`,
			p.Name, p.Description, p.Price, p.Stock)
		if err != nil {
			return fmt.Errorf("seed product %q: %w", p.Name, err)
		}
	}

	_, err := conn.Exec(ctx,
		`INSERT INTO company_settings (id, company_name, currency, timezone) VALUES (1, $1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		t.Name, defaultCurrency, defaultTimezone)
	if err != nil {
		return fmt.Errorf("seed company settings: %w", err)
	}
	return nil
}
