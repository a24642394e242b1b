package ledger

import (
	"fmt"
	"time"

	"github.com/valecore/valecore/internal/shared"
)

// VoucherStatus enumerates voucher lifecycle states.
type VoucherStatus string

const (
	// StatusPending is the initial state of every accepted voucher.
	StatusPending VoucherStatus = "pending"
	// StatusCompleted marks a fulfilled voucher. Terminal.
	StatusCompleted VoucherStatus = "completed"
	// StatusCancelled marks a withdrawn voucher. Terminal; the stock debit stays.
	StatusCancelled VoucherStatus = "cancelled"
)

// Valid reports whether the status is a known lifecycle state.
func (s VoucherStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s VoucherStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Voucher is a single stock-debiting withdrawal against a product. Immutable
// once created except for status and comment.
type Voucher struct {
	ID         int64
	TenantID   int64
	UserID     int64
	ProductID  int64
	RequestKey string
	Quantity   int64
	Amount     float64
	Status     VoucherStatus
	Comment    string
	CreatedAt  time.Time
}

// Product is the ledger's view of a sellable item. Stock on it is mutated
// exclusively through the service.
type Product struct {
	ID       int64
	TenantID int64
	Name     string
	Price    float64
	Stock    int64
	Active   bool
}

// CreateVoucherInput describes a voucher creation request.
type CreateVoucherInput struct {
	TenantID   int64
	UserID     int64
	ProductID  int64
	Quantity   int64
	RequestKey string
	Comment    string
}

// CreateVoucherResult wraps the persisted voucher. Duplicate marks an
// idempotent replay of an already-processed request key.
type CreateVoucherResult struct {
	Voucher   Voucher
	Duplicate bool
}

// ListFilter filters voucher listings.
type ListFilter struct {
	TenantID int64
	Status   VoucherStatus
	Limit    int
	Offset   int
}

var (
	// ErrInvalidQuantity indicates a non-positive requested quantity.
	ErrInvalidQuantity = fmt.Errorf("ledger: quantity must be positive: %w", shared.ErrValidation)
	// ErrRequestKeyRequired indicates a missing idempotency key.
	ErrRequestKeyRequired = fmt.Errorf("ledger: request key required: %w", shared.ErrValidation)
	// ErrInvalidStatus indicates an unknown or disallowed target status.
	ErrInvalidStatus = fmt.Errorf("ledger: invalid voucher status: %w", shared.ErrValidation)
	// ErrProductNotFound covers absent, inactive and cross-tenant products alike.
	ErrProductNotFound = fmt.Errorf("ledger: product not found: %w", shared.ErrNotFound)
	// ErrVoucherNotFound covers absent and cross-tenant vouchers alike.
	ErrVoucherNotFound = fmt.Errorf("ledger: voucher not found: %w", shared.ErrNotFound)
	// ErrDuplicateKey surfaces the request_key unique index; the service
	// resolves it into the idempotent-duplicate path, callers never see it.
	ErrDuplicateKey = fmt.Errorf("ledger: request key already used: %w", shared.ErrConflict)
	// ErrStatusFinal rejects transitions out of a terminal status.
	ErrStatusFinal = fmt.Errorf("ledger: voucher status is final: %w", shared.ErrConflict)
)
