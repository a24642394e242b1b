package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/valecore/valecore/internal/platform/db"
	"github.com/valecore/valecore/internal/shared"
)

// Repository persists vouchers and product stock in PostgreSQL.
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

const voucherColumns = `id, tenant_id, user_id, product_id, request_key, quantity, amount, status, comment, created_at`

// WithTx executes the callback inside a repeatable-read transaction. Audit
// rows recorded through the callback commit or roll back with the mutation.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
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

// GetVoucherByKey looks a voucher up by its globally unique request key.
func (r *Repository) GetVoucherByKey(ctx context.Context, requestKey string) (Voucher, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE request_key=$1`, requestKey)
	return scanVoucher(row)
}

// GetVoucher fetches a voucher scoped to (id, tenant).
func (r *Repository) GetVoucher(ctx context.Context, tenantID, voucherID int64) (Voucher, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id=$1 AND tenant_id=$2`, voucherID, tenantID)
	return scanVoucher(row)
}

// ListVouchers lists tenant vouchers newest first.
func (r *Repository) ListVouchers(ctx context.Context, filter ListFilter) ([]Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE tenant_id=$1`
	args := []any{filter.TenantID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status=$` + strconv.Itoa(len(args))
	}
	args = append(args, filter.Limit)
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args))
	args = append(args, filter.Offset)
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	vouchers := []Voucher{}
	for rows.Next() {
		voucher, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, voucher)
	}
	return vouchers, rows.Err()
}

// ListExpiredPending returns vouchers pending since before cutoff, oldest first.
func (r *Repository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]Voucher, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE status=$1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3`,
		string(StatusPending), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	vouchers := []Voucher{}
	for rows.Next() {
		voucher, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, voucher)
	}
	return vouchers, rows.Err()
}

func (r *txRepository) GetProductForUpdate(ctx context.Context, tenantID, productID int64) (Product, error) {
	// Missing, inactive and cross-tenant rows are indistinguishable on
	// purpose; callers cannot probe other tenants' catalogues.
	row := r.tx.QueryRow(ctx, `SELECT id, tenant_id, name, price, stock, active FROM products WHERE id=$1 AND tenant_id=$2 AND active FOR UPDATE`,
		productID, tenantID)
	var p Product
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Price, &p.Stock, &p.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func (r *txRepository) SetProductStock(ctx context.Context, productID, stock int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET stock=$2, updated_at=NOW() WHERE id=$1`, productID, stock)
	return err
}

func (r *txRepository) InsertVoucher(ctx context.Context, voucher Voucher) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO vouchers (tenant_id, user_id, product_id, request_key, quantity, amount, status, comment, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		voucher.TenantID, voucher.UserID, voucher.ProductID, voucher.RequestKey, voucher.Quantity, voucher.Amount,
		string(voucher.Status), voucher.Comment, voucher.CreatedAt).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrDuplicateKey
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) GetVoucherForUpdate(ctx context.Context, tenantID, voucherID int64) (Voucher, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id=$1 AND tenant_id=$2 FOR UPDATE`, voucherID, tenantID)
	return scanVoucher(row)
}

func (r *txRepository) SetVoucherStatus(ctx context.Context, voucherID int64, status VoucherStatus, comment string) error {
	_, err := r.tx.Exec(ctx, `UPDATE vouchers SET status=$2, comment=$3 WHERE id=$1`, voucherID, string(status), comment)
	return err
}

func (r *txRepository) RecordAudit(ctx context.Context, entry shared.AuditLog) error {
	return r.audit.Record(ctx, entry)
}

func scanVoucher(row pgx.Row) (Voucher, error) {
	var v Voucher
	var status string
	err := row.Scan(&v.ID, &v.TenantID, &v.UserID, &v.ProductID, &v.RequestKey, &v.Quantity, &v.Amount, &status, &v.Comment, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrVoucherNotFound
		}
		return Voucher{}, err
	}
	v.Status = VoucherStatus(status)
	return v, nil
}
