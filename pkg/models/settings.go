package models

import "time"

// CompanySettings is the single settings record stored inside every tenant schema.
type CompanySettings struct {
	CompanyName string    `db:"company_name" json:"company_name"`
	Currency    string    `db:"currency"     json:"currency"`
	Timezone    string    `db:"timezone"     json:"timezone"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"   json:"updated_at"`
}

// Product is a catalog entry inside a tenant schema. Price is kept as a decimal string.
type Product struct {
	Name        string `db:"name"        json:"name"`
	Description string `db:"description" json:"description"`
	Price       string `db:"price"       json:"price"`
	Stock       int    `db:"stock"       json:"stock"`
}
