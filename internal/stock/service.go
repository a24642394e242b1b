package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/valecore/valecore/internal/platform/db"
	"github.com/valecore/valecore/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListCells(ctx context.Context, filter ListFilter) ([]Cell, error)
}

// TxRepository exposes the row-locked operations available inside a transaction.
type TxRepository interface {
	WarehouseExists(ctx context.Context, tenantID, warehouseID int64) (bool, error)
	ProductExists(ctx context.Context, tenantID, productID int64) (bool, error)
	GetCellForUpdate(ctx context.Context, warehouseID, productID int64) (Cell, error)
	UpsertCell(ctx context.Context, cell Cell) error
	RecordAudit(ctx context.Context, entry shared.AuditLog) error
}

const (
	maxTxAttempts    = 3
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Service mutates warehouse stock cells. Writes lock the cell row; an absent
// cell reads as quantity zero.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// SetStock overwrites a cell with an absolute non-negative quantity,
// creating the cell when it does not exist yet.
func (s *Service) SetStock(ctx context.Context, identity shared.Identity, input SetInput) (Cell, error) {
	if input.WarehouseID == 0 || input.ProductID == 0 {
		return Cell{}, fmt.Errorf("stock: warehouse and product required: %w", shared.ErrValidation)
	}
	if input.Quantity < 0 {
		return Cell{}, ErrNegativeQuantity
	}
	var updated Cell
	err := s.runTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.checkOwnership(ctx, tx, identity.TenantID, input.WarehouseID, input.ProductID); err != nil {
			return err
		}
		cell, previous, err := lockCell(ctx, tx, input.WarehouseID, input.ProductID)
		if err != nil {
			return err
		}
		cell.Quantity = input.Quantity
		cell.UpdatedAt = time.Now().UTC()
		if err := tx.UpsertCell(ctx, cell); err != nil {
			return err
		}
		updated = cell
		return tx.RecordAudit(ctx, shared.AuditLog{
			TenantID: identity.TenantID,
			ActorID:  identity.UserID,
			Action:   "stock:set",
			Entity:   "stock_cell",
			EntityID: cellEntityID(cell),
			Meta: map[string]any{
				"warehouse_id": cell.WarehouseID,
				"product_id":   cell.ProductID,
				"previous":     previous,
				"quantity":     cell.Quantity,
			},
			At: cell.UpdatedAt,
		})
	})
	if err != nil {
		return Cell{}, err
	}
	return updated, nil
}

// AdjustStock shifts a cell by a signed delta. A delta that would drive the
// cell negative is rejected with the current quantity attached.
func (s *Service) AdjustStock(ctx context.Context, identity shared.Identity, input AdjustInput) (Cell, error) {
	if input.WarehouseID == 0 || input.ProductID == 0 {
		return Cell{}, fmt.Errorf("stock: warehouse and product required: %w", shared.ErrValidation)
	}
	if input.Delta == 0 {
		return Cell{}, ErrZeroDelta
	}
	var updated Cell
	err := s.runTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.checkOwnership(ctx, tx, identity.TenantID, input.WarehouseID, input.ProductID); err != nil {
			return err
		}
		cell, previous, err := lockCell(ctx, tx, input.WarehouseID, input.ProductID)
		if err != nil {
			return err
		}
		next := cell.Quantity + input.Delta
		if next < 0 {
			return &shared.InsufficientStockError{Available: cell.Quantity, Requested: -input.Delta}
		}
		cell.Quantity = next
		cell.UpdatedAt = time.Now().UTC()
		if err := tx.UpsertCell(ctx, cell); err != nil {
			return err
		}
		updated = cell
		return tx.RecordAudit(ctx, shared.AuditLog{
			TenantID: identity.TenantID,
			ActorID:  identity.UserID,
			Action:   "stock:adjust",
			Entity:   "stock_cell",
			EntityID: cellEntityID(cell),
			Meta: map[string]any{
				"warehouse_id": cell.WarehouseID,
				"product_id":   cell.ProductID,
				"previous":     previous,
				"delta":        input.Delta,
				"quantity":     cell.Quantity,
				"reason":       input.Reason,
			},
			At: cell.UpdatedAt,
		})
	})
	if err != nil {
		return Cell{}, err
	}
	return updated, nil
}

// ListCells lists stock cells for the tenant's warehouses.
func (s *Service) ListCells(ctx context.Context, filter ListFilter) ([]Cell, error) {
	if filter.TenantID == 0 {
		return nil, fmt.Errorf("stock: tenant required: %w", shared.ErrValidation)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListCells(ctx, filter)
}

func (s *Service) checkOwnership(ctx context.Context, tx TxRepository, tenantID, warehouseID, productID int64) error {
	ok, err := tx.WarehouseExists(ctx, tenantID, warehouseID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWarehouseNotFound
	}
	ok, err = tx.ProductExists(ctx, tenantID, productID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrProductNotFound
	}
	return nil
}

// lockCell returns the locked cell and its previous quantity; an absent cell
// is materialized at zero.
func lockCell(ctx context.Context, tx TxRepository, warehouseID, productID int64) (Cell, int64, error) {
	cell, err := tx.GetCellForUpdate(ctx, warehouseID, productID)
	switch {
	case err == nil:
		return cell, cell.Quantity, nil
	case errors.Is(err, errCellNotFound):
		return Cell{WarehouseID: warehouseID, ProductID: productID}, 0, nil
	default:
		return Cell{}, 0, err
	}
}

func cellEntityID(cell Cell) string {
	return strconv.FormatInt(cell.WarehouseID, 10) + ":" + strconv.FormatInt(cell.ProductID, 10)
}

func (s *Service) runTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		if err == nil || !db.IsTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
		}
	}
	return err
}
