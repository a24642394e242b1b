// Package catalog manages tenants, products and warehouses. Stock on a
// product is owned by the ledger; the catalog only seeds and reads it.
package catalog

import (
	"fmt"
	"time"

	"github.com/valecore/valecore/internal/shared"
)

// Tenant is one isolated customer namespace. The slug is the API identifier.
type Tenant struct {
	ID        int64
	Slug      string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// Product is a sellable item scoped to a tenant.
type Product struct {
	ID        int64
	TenantID  int64
	Name      string
	SKU       string
	Price     float64
	Stock     int64
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Warehouse is a physical stock location scoped to a tenant.
type Warehouse struct {
	ID        int64
	TenantID  int64
	Code      string
	Name      string
	CreatedAt time.Time
}

// CreateTenantInput describes a new tenant.
type CreateTenantInput struct {
	Slug string
	Name string
}

// CreateProductInput describes a new product. InitialStock seeds the ledger
// balance; afterwards only vouchers and stock adjustments move it.
type CreateProductInput struct {
	TenantID     int64
	Name         string
	SKU          string
	Price        float64
	InitialStock int64
}

// UpdateProductInput patches mutable product fields. Nil means keep.
type UpdateProductInput struct {
	Name   *string
	Price  *float64
	Active *bool
}

// CreateWarehouseInput describes a new warehouse.
type CreateWarehouseInput struct {
	TenantID int64
	Code     string
	Name     string
}

var (
	// ErrTenantNotFound covers absent and inactive tenants alike.
	ErrTenantNotFound = fmt.Errorf("catalog: tenant not found: %w", shared.ErrNotFound)
	// ErrProductNotFound covers absent and cross-tenant products alike.
	ErrProductNotFound = fmt.Errorf("catalog: product not found: %w", shared.ErrNotFound)
	// ErrWarehouseNotFound covers absent and cross-tenant warehouses alike.
	ErrWarehouseNotFound = fmt.Errorf("catalog: warehouse not found: %w", shared.ErrNotFound)

	// ErrSlugTaken maps the tenants slug unique index.
	ErrSlugTaken = fmt.Errorf("catalog: tenant slug already in use: %w", shared.ErrConflict)
	// ErrNameTaken maps the per-tenant product name unique index.
	ErrNameTaken = fmt.Errorf("catalog: product name already in use: %w", shared.ErrConflict)
	// ErrSKUTaken maps the per-tenant product SKU unique index.
	ErrSKUTaken = fmt.Errorf("catalog: product sku already in use: %w", shared.ErrConflict)
	// ErrCodeTaken maps the per-tenant warehouse code unique index.
	ErrCodeTaken = fmt.Errorf("catalog: warehouse code already in use: %w", shared.ErrConflict)
)
