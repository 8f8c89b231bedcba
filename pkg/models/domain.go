package models

import (
	"time"

	"github.com/google/uuid"
)

// Domain binds a hostname to a tenant. Hostnames are unique across all bindings.
type Domain struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Hostname  string    `db:"hostname"   json:"hostname"`
	TenantID  uuid.UUID `db:"tenant_id"  json:"tenant_id"`
	IsPrimary bool      `db:"is_primary" json:"is_primary"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
