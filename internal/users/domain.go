// Package users manages the tenant-scoped user registry. Voucher rows
// reference users as actors.
package users

import (
	"fmt"
	"time"

	"github.com/valecore/valecore/internal/shared"
)

// User is an account within a tenant. PasswordHash never leaves the package.
type User struct {
	ID           int64
	TenantID     int64
	Email        string
	Name         string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
}

// CreateInput describes a new user.
type CreateInput struct {
	Email    string
	Name     string
	Password string
}

var (
	// ErrUserNotFound covers absent and cross-tenant users alike.
	ErrUserNotFound = fmt.Errorf("users: user not found: %w", shared.ErrNotFound)
	// ErrEmailTaken maps the per-tenant email unique index.
	ErrEmailTaken = fmt.Errorf("users: email already registered: %w", shared.ErrConflict)
	// ErrWeakPassword rejects passwords below the minimum length.
	ErrWeakPassword = fmt.Errorf("users: password too short: %w", shared.ErrValidation)
	// ErrInvalidCredentials covers unknown email and wrong password alike.
	ErrInvalidCredentials = fmt.Errorf("users: invalid credentials: %w", shared.ErrValidation)
)
