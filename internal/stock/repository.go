package stock

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/valecore/valecore/internal/shared"
)

// Repository persists stock cells in PostgreSQL.
type Repository struct {
	pool  *pgxpool.Pool
	audit *shared.AuditLogger
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, audit: shared.NewAuditLogger(pool)}
}

type txRepository struct {
	tx    pgx.Tx
	audit *shared.AuditLogger
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx, audit: r.audit.Bind(tx)}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// ListCells lists cells belonging to the tenant's warehouses.
func (r *Repository) ListCells(ctx context.Context, filter ListFilter) ([]Cell, error) {
	query := `SELECT ws.warehouse_id, ws.product_id, ws.quantity, ws.updated_at
FROM warehouse_stock ws
JOIN warehouses w ON w.id = ws.warehouse_id
WHERE w.tenant_id = $1`
	args := []any{filter.TenantID}
	if filter.WarehouseID != 0 {
		args = append(args, filter.WarehouseID)
		query += ` AND ws.warehouse_id = $` + strconv.Itoa(len(args))
	}
	if filter.ProductID != 0 {
		args = append(args, filter.ProductID)
		query += ` AND ws.product_id = $` + strconv.Itoa(len(args))
	}
	args = append(args, filter.Limit)
	query += ` ORDER BY ws.warehouse_id, ws.product_id LIMIT $` + strconv.Itoa(len(args))
	args = append(args, filter.Offset)
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cells := []Cell{}
	for rows.Next() {
		var c Cell
		if err := rows.Scan(&c.WarehouseID, &c.ProductID, &c.Quantity, &c.UpdatedAt); err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

func (r *txRepository) WarehouseExists(ctx context.Context, tenantID, warehouseID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM warehouses WHERE id=$1 AND tenant_id=$2)`, warehouseID, tenantID).Scan(&exists)
	return exists, err
}

func (r *txRepository) ProductExists(ctx context.Context, tenantID, productID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id=$1 AND tenant_id=$2 AND active)`, productID, tenantID).Scan(&exists)
	return exists, err
}

func (r *txRepository) GetCellForUpdate(ctx context.Context, warehouseID, productID int64) (Cell, error) {
	row := r.tx.QueryRow(ctx, `SELECT warehouse_id, product_id, quantity, updated_at FROM warehouse_stock WHERE warehouse_id=$1 AND product_id=$2 FOR UPDATE`,
		warehouseID, productID)
	var c Cell
	if err := row.Scan(&c.WarehouseID, &c.ProductID, &c.Quantity, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cell{}, errCellNotFound
		}
		return Cell{}, err
	}
	return c, nil
}

func (r *txRepository) UpsertCell(ctx context.Context, cell Cell) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO warehouse_stock (warehouse_id, product_id, quantity, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (warehouse_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at`,
		cell.WarehouseID, cell.ProductID, cell.Quantity, cell.UpdatedAt)
	return err
}

func (r *txRepository) RecordAudit(ctx context.Context, entry shared.AuditLog) error {
	return r.audit.Record(ctx, entry)
}
