// Package stock manages per-warehouse stock cells. A cell is the quantity of
// one product held in one warehouse; it never goes negative.
package stock

import (
	"fmt"
	"time"

	"github.com/valecore/valecore/internal/shared"
)

// Cell is one (warehouse, product) quantity.
type Cell struct {
	WarehouseID int64
	ProductID   int64
	Quantity    int64
	UpdatedAt   time.Time
}

// SetInput sets a cell to an absolute quantity.
type SetInput struct {
	WarehouseID int64
	ProductID   int64
	Quantity    int64
}

// AdjustInput shifts a cell by a signed delta.
type AdjustInput struct {
	WarehouseID int64
	ProductID   int64
	Delta       int64
	Reason      string
}

// ListFilter filters cell listings. WarehouseID and ProductID of zero mean
// no filter.
type ListFilter struct {
	TenantID    int64
	WarehouseID int64
	ProductID   int64
	Limit       int
	Offset      int
}

var (
	// ErrNegativeQuantity rejects absolute quantities below zero.
	ErrNegativeQuantity = fmt.Errorf("stock: quantity must not be negative: %w", shared.ErrValidation)
	// ErrZeroDelta rejects no-op adjustments.
	ErrZeroDelta = fmt.Errorf("stock: delta must not be zero: %w", shared.ErrValidation)
	// ErrWarehouseNotFound covers absent and cross-tenant warehouses alike.
	ErrWarehouseNotFound = fmt.Errorf("stock: warehouse not found: %w", shared.ErrNotFound)
	// ErrProductNotFound covers absent and cross-tenant products alike.
	ErrProductNotFound = fmt.Errorf("stock: product not found: %w", shared.ErrNotFound)

	// errCellNotFound is internal; an absent cell reads as quantity zero.
	errCellNotFound = fmt.Errorf("stock: cell not found: %w", shared.ErrNotFound)
)
