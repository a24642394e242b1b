package stock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/valecore/valecore/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	warehouses map[int64]int64 // warehouse id -> tenant id
	products   map[int64]int64 // product id -> tenant id
	cells      map[string]Cell
	audits     []shared.AuditLog
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		warehouses: make(map[int64]int64),
		products:   make(map[int64]int64),
		cells:      make(map[string]Cell),
	}
}

func cellKey(warehouseID, productID int64) string {
	return fmt.Sprintf("%d:%d", warehouseID, productID)
}

type memoryTx struct {
	repo *memoryRepo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cells := make(map[string]Cell, len(r.cells))
	for k, v := range r.cells {
		cells[k] = v
	}
	audits := len(r.audits)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.cells = cells
		r.audits = r.audits[:audits]
		return err
	}
	return nil
}

func (r *memoryRepo) ListCells(ctx context.Context, filter ListFilter) ([]Cell, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Cell
	for _, c := range r.cells {
		if r.warehouses[c.WarehouseID] != filter.TenantID {
			continue
		}
		if filter.WarehouseID != 0 && c.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.ProductID != 0 && c.ProductID != filter.ProductID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (tx *memoryTx) WarehouseExists(ctx context.Context, tenantID, warehouseID int64) (bool, error) {
	return tx.repo.warehouses[warehouseID] == tenantID, nil
}

func (tx *memoryTx) ProductExists(ctx context.Context, tenantID, productID int64) (bool, error) {
	return tx.repo.products[productID] == tenantID, nil
}

func (tx *memoryTx) GetCellForUpdate(ctx context.Context, warehouseID, productID int64) (Cell, error) {
	if c, ok := tx.repo.cells[cellKey(warehouseID, productID)]; ok {
		return c, nil
	}
	return Cell{}, errCellNotFound
}

func (tx *memoryTx) UpsertCell(ctx context.Context, cell Cell) error {
	tx.repo.cells[cellKey(cell.WarehouseID, cell.ProductID)] = cell
	return nil
}

func (tx *memoryTx) RecordAudit(ctx context.Context, entry shared.AuditLog) error {
	tx.repo.audits = append(tx.repo.audits, entry)
	return nil
}

func testIdentity() shared.Identity {
	return shared.Identity{TenantID: 10, TenantSlug: "acme", UserID: 7}
}

func seededRepo() *memoryRepo {
	repo := newMemoryRepo()
	repo.warehouses[1] = 10
	repo.products[1] = 10
	return repo
}

func TestSetStockCreatesCell(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo)
	ctx := context.Background()

	cell, err := svc.SetStock(ctx, testIdentity(), SetInput{WarehouseID: 1, ProductID: 1, Quantity: 25})
	require.NoError(t, err)
	require.EqualValues(t, 25, cell.Quantity)

	cell, err = svc.SetStock(ctx, testIdentity(), SetInput{WarehouseID: 1, ProductID: 1, Quantity: 0})
	require.NoError(t, err)
	require.EqualValues(t, 0, cell.Quantity)

	require.Len(t, repo.audits, 2)
	require.Equal(t, "stock:set", repo.audits[0].Action)
}

func TestSetStockRejectsNegative(t *testing.T) {
	svc := NewService(seededRepo())

	_, err := svc.SetStock(context.Background(), testIdentity(), SetInput{WarehouseID: 1, ProductID: 1, Quantity: -1})
	require.ErrorIs(t, err, ErrNegativeQuantity)
}

func TestAdjustStock(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo)
	ctx := context.Background()

	// Absent cell reads as zero; positive delta materializes it.
	cell, err := svc.AdjustStock(ctx, testIdentity(), AdjustInput{WarehouseID: 1, ProductID: 1, Delta: 8, Reason: "inbound"})
	require.NoError(t, err)
	require.EqualValues(t, 8, cell.Quantity)

	cell, err = svc.AdjustStock(ctx, testIdentity(), AdjustInput{WarehouseID: 1, ProductID: 1, Delta: -3, Reason: "damage"})
	require.NoError(t, err)
	require.EqualValues(t, 5, cell.Quantity)

	_, err = svc.AdjustStock(ctx, testIdentity(), AdjustInput{WarehouseID: 1, ProductID: 1, Delta: 0})
	require.ErrorIs(t, err, ErrZeroDelta)
}

func TestAdjustStockNeverNegative(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.AdjustStock(ctx, testIdentity(), AdjustInput{WarehouseID: 1, ProductID: 1, Delta: 4})
	require.NoError(t, err)

	_, err = svc.AdjustStock(ctx, testIdentity(), AdjustInput{WarehouseID: 1, ProductID: 1, Delta: -9})
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.EqualValues(t, 4, stockErr.Available)
	require.EqualValues(t, 9, stockErr.Requested)

	// The rejected adjustment left the cell untouched.
	cells, err := svc.ListCells(ctx, ListFilter{TenantID: 10})
	require.NoError(t, err)
	require.Len(t, cells, 1)
	require.EqualValues(t, 4, cells[0].Quantity)
}

func TestAdjustStockConcurrentDrains(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.SetStock(ctx, testIdentity(), SetInput{WarehouseID: 1, ProductID: 1, Quantity: 5})
	require.NoError(t, err)

	var mu sync.Mutex
	drained, rejected := 0, 0
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := svc.AdjustStock(gctx, testIdentity(), AdjustInput{WarehouseID: 1, ProductID: 1, Delta: -1})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var stockErr *shared.InsufficientStockError
				if !errors.As(err, &stockErr) {
					return err
				}
				rejected++
				return nil
			}
			drained++
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 5, drained)
	require.Equal(t, 5, rejected)

	cells, err := svc.ListCells(ctx, ListFilter{TenantID: 10})
	require.NoError(t, err)
	require.EqualValues(t, 0, cells[0].Quantity)
}

func TestStockOwnershipChecks(t *testing.T) {
	repo := seededRepo()
	repo.warehouses[2] = 99
	repo.products[2] = 99
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.SetStock(ctx, testIdentity(), SetInput{WarehouseID: 2, ProductID: 1, Quantity: 1})
	require.ErrorIs(t, err, ErrWarehouseNotFound)

	_, err = svc.SetStock(ctx, testIdentity(), SetInput{WarehouseID: 1, ProductID: 2, Quantity: 1})
	require.ErrorIs(t, err, ErrProductNotFound)

	_, err = svc.AdjustStock(ctx, testIdentity(), AdjustInput{WarehouseID: 77, ProductID: 1, Delta: 1})
	require.ErrorIs(t, err, ErrWarehouseNotFound)
}
