package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valecore/valecore/internal/platform/db"
	"github.com/valecore/valecore/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetVoucherByKey(ctx context.Context, requestKey string) (Voucher, error)
	GetVoucher(ctx context.Context, tenantID, voucherID int64) (Voucher, error)
	ListVouchers(ctx context.Context, filter ListFilter) ([]Voucher, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]Voucher, error)
}

// TxRepository exposes the row-locked operations available inside a transaction.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, tenantID, productID int64) (Product, error)
	SetProductStock(ctx context.Context, productID, stock int64) error
	InsertVoucher(ctx context.Context, voucher Voucher) (int64, error)
	GetVoucherForUpdate(ctx context.Context, tenantID, voucherID int64) (Voucher, error)
	SetVoucherStatus(ctx context.Context, voucherID int64, status VoucherStatus, comment string) error
	RecordAudit(ctx context.Context, entry shared.AuditLog) error
}

const (
	maxTxAttempts    = 3
	defaultListLimit = 100
	maxListLimit     = 1000
	expiryBatchSize  = 200
)

// Service is the sole authority over Product.stock and voucher state. Every
// mutation runs inside a single transaction holding an exclusive lock on the
// product row, so concurrent vouchers can never drive stock negative.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreateVoucher validates and applies a stock-debiting voucher request.
// Replays of an already-processed request key return the original voucher
// with Duplicate set; stock is decremented exactly once per key.
func (s *Service) CreateVoucher(ctx context.Context, input CreateVoucherInput) (CreateVoucherResult, error) {
	if input.TenantID == 0 || input.ProductID == 0 {
		return CreateVoucherResult{}, fmt.Errorf("ledger: tenant and product required: %w", shared.ErrValidation)
	}
	if input.Quantity <= 0 {
		return CreateVoucherResult{}, ErrInvalidQuantity
	}
	key := strings.TrimSpace(input.RequestKey)
	if key == "" {
		return CreateVoucherResult{}, ErrRequestKeyRequired
	}

	// Fast path: the key lookup is a unique-index point read and needs no
	// lock. The request key domain is global, not tenant-scoped.
	existing, err := s.repo.GetVoucherByKey(ctx, key)
	switch {
	case err == nil:
		return CreateVoucherResult{Voucher: existing, Duplicate: true}, nil
	case !errors.Is(err, ErrVoucherNotFound):
		return CreateVoucherResult{}, err
	}

	now := time.Now().UTC()
	var created Voucher
	txErr := s.runTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, input.TenantID, input.ProductID)
		if err != nil {
			return err
		}
		if product.Stock < input.Quantity {
			return &shared.InsufficientStockError{Available: product.Stock, Requested: input.Quantity}
		}
		newStock := product.Stock - input.Quantity
		if err := tx.SetProductStock(ctx, product.ID, newStock); err != nil {
			return err
		}
		voucher := Voucher{
			TenantID:   input.TenantID,
			UserID:     input.UserID,
			ProductID:  product.ID,
			RequestKey: key,
			Quantity:   input.Quantity,
			Amount:     float64(input.Quantity) * product.Price,
			Status:     StatusPending,
			Comment:    input.Comment,
			CreatedAt:  now,
		}
		id, err := tx.InsertVoucher(ctx, voucher)
		if err != nil {
			return err
		}
		voucher.ID = id
		if err := tx.RecordAudit(ctx, shared.AuditLog{
			TenantID: input.TenantID,
			ActorID:  input.UserID,
			Action:   "voucher:create",
			Entity:   "voucher",
			EntityID: strconv.FormatInt(id, 10),
			Meta: map[string]any{
				"product_id":  product.ID,
				"quantity":    input.Quantity,
				"request_key": key,
			},
			At: now,
		}); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, shared.AuditLog{
			TenantID: input.TenantID,
			ActorID:  input.UserID,
			Action:   "product:stock_decrease",
			Entity:   "product",
			EntityID: strconv.FormatInt(product.ID, 10),
			Meta: map[string]any{
				"quantity":  input.Quantity,
				"new_stock": newStock,
			},
			At: now,
		}); err != nil {
			return err
		}
		created = voucher
		return nil
	})
	if txErr != nil {
		// Two racing requests with the same never-seen key can both miss the
		// fast path; the unique index is the final arbiter and the loser
		// resolves to the duplicate path instead of failing the caller.
		if errors.Is(txErr, ErrDuplicateKey) {
			winner, err := s.repo.GetVoucherByKey(ctx, key)
			if err != nil {
				return CreateVoucherResult{}, err
			}
			return CreateVoucherResult{Voucher: winner, Duplicate: true}, nil
		}
		return CreateVoucherResult{}, txErr
	}
	return CreateVoucherResult{Voucher: created, Duplicate: false}, nil
}

// UpdateVoucherStatus transitions a pending voucher to completed or cancelled.
// Cancellation keeps the stock debit; restocking is a manual stock adjustment,
// never an implicit side effect.
func (s *Service) UpdateVoucherStatus(ctx context.Context, tenantID, voucherID int64, status VoucherStatus, comment *string) (Voucher, error) {
	if tenantID == 0 || voucherID == 0 {
		return Voucher{}, fmt.Errorf("ledger: tenant and voucher required: %w", shared.ErrValidation)
	}
	if !status.Valid() || status == StatusPending {
		return Voucher{}, ErrInvalidStatus
	}
	var updated Voucher
	err := s.runTx(ctx, func(ctx context.Context, tx TxRepository) error {
		voucher, err := tx.GetVoucherForUpdate(ctx, tenantID, voucherID)
		if err != nil {
			return err
		}
		if voucher.Status.Terminal() {
			return fmt.Errorf("%w: already %s", ErrStatusFinal, voucher.Status)
		}
		newComment := voucher.Comment
		if comment != nil {
			newComment = *comment
		}
		if err := tx.SetVoucherStatus(ctx, voucher.ID, status, newComment); err != nil {
			return err
		}
		voucher.Status = status
		voucher.Comment = newComment
		if err := tx.RecordAudit(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  voucher.UserID,
			Action:   "voucher:" + string(status),
			Entity:   "voucher",
			EntityID: strconv.FormatInt(voucher.ID, 10),
			Meta:     map[string]any{"comment": newComment},
		}); err != nil {
			return err
		}
		updated = voucher
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}
	return updated, nil
}

// GetVoucher fetches a voucher scoped to the tenant.
func (s *Service) GetVoucher(ctx context.Context, tenantID, voucherID int64) (Voucher, error) {
	if tenantID == 0 || voucherID == 0 {
		return Voucher{}, fmt.Errorf("ledger: tenant and voucher required: %w", shared.ErrValidation)
	}
	return s.repo.GetVoucher(ctx, tenantID, voucherID)
}

// ListVouchers lists vouchers for a tenant, newest first.
func (s *Service) ListVouchers(ctx context.Context, filter ListFilter) ([]Voucher, error) {
	if filter.TenantID == 0 {
		return nil, fmt.Errorf("ledger: tenant required: %w", shared.ErrValidation)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidStatus
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
	return s.repo.ListVouchers(ctx, filter)
}

// CancelExpired cancels vouchers left pending longer than ttl. Used by the
// background worker; races with concurrent transitions are skipped, not fatal.
func (s *Service) CancelExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	stale, err := s.repo.ListExpiredPending(ctx, cutoff, expiryBatchSize)
	if err != nil {
		return 0, err
	}
	comment := "expired: pending past " + ttl.String()
	cancelled := 0
	for _, voucher := range stale {
		if _, err := s.UpdateVoucherStatus(ctx, voucher.TenantID, voucher.ID, StatusCancelled, &comment); err != nil {
			if errors.Is(err, ErrStatusFinal) || errors.Is(err, ErrVoucherNotFound) {
				continue
			}
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

// runTx retries the transaction a bounded number of times, and only for
// transient serialization or deadlock aborts.
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
