package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a resource that is absent or outside the caller's tenant.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input the caller must correct.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a uniqueness violation within scope.
	ErrConflict = errors.New("duplicate entry")
)

// InsufficientStockError rejects a debit that would drive stock negative.
type InsufficientStockError struct {
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: requested %d, available %d", e.Requested, e.Available)
}
