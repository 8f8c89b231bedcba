// Package models contains shared data models used across the tenantrouter codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// MasterIdentifier is the registry key of the shared, tenant-less context.
const MasterIdentifier = "public"

const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// ValidPlan reports whether plan is a known plan tier.
func ValidPlan(plan string) bool {
	switch plan {
	case PlanFree, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// Tenant is one isolated customer environment. Its data lives in Schema; the DB* fields
// override the tenant connection template when set.
type Tenant struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	Identifier   string    `db:"identifier"    json:"identifier"`
	Name         string    `db:"name"          json:"name"`
	Schema       string    `db:"schema_name"   json:"schema"`
	DBHost       string    `db:"db_host"       json:"-"`
	DBPort       int       `db:"db_port"       json:"-"`
	DBName       string    `db:"db_name"       json:"-"`
	DBUser       string    `db:"db_user"       json:"-"`
	DBPassword   string    `db:"db_password"   json:"-"`
	Plan         string    `db:"plan"          json:"plan"`
	ContactEmail string    `db:"contact_email" json:"contact_email,omitempty"`
	Active       bool      `db:"is_active"     json:"active"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}
