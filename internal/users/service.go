package users

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/valecore/valecore/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	CreateUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, tenantID, userID int64) (User, error)
	GetUserByEmail(ctx context.Context, tenantID int64, email string) (User, error)
	ListUsers(ctx context.Context, tenantID int64) ([]User, error)
}

// AuditRecorder records user registry changes.
type AuditRecorder interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

const minPasswordLength = 8

// Service manages users.
type Service struct {
	repo  RepositoryPort
	audit AuditRecorder
}

// NewService builds Service. Audit may be nil.
func NewService(repo RepositoryPort, audit AuditRecorder) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateUser registers a user with a bcrypt password hash.
func (s *Service) CreateUser(ctx context.Context, identity shared.Identity, input CreateInput) (User, error) {
	if identity.TenantID == 0 {
		return User{}, fmt.Errorf("users: tenant required: %w", shared.ErrValidation)
	}
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return User{}, fmt.Errorf("users: invalid email: %w", shared.ErrValidation)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return User{}, fmt.Errorf("users: name required: %w", shared.ErrValidation)
	}
	if len(input.Password) < minPasswordLength {
		return User{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, User{
		TenantID:     identity.TenantID,
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return User{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: identity.TenantID,
			ActorID:  identity.UserID,
			Action:   "user:create",
			Entity:   "user",
			EntityID: strconv.FormatInt(user.ID, 10),
			Meta:     map[string]any{"email": user.Email},
			At:       time.Now().UTC(),
		})
	}
	return user, nil
}

// Authenticate checks a tenant user's credentials. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, tenantID int64, email, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.repo.GetUserByEmail(ctx, tenantID, email)
	if err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !user.Active {
		return User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// GetUser fetches a user scoped to the tenant.
func (s *Service) GetUser(ctx context.Context, tenantID, userID int64) (User, error) {
	if tenantID == 0 || userID == 0 {
		return User{}, fmt.Errorf("users: tenant and user required: %w", shared.ErrValidation)
	}
	return s.repo.GetUser(ctx, tenantID, userID)
}

// ListUsers lists the tenant's users.
func (s *Service) ListUsers(ctx context.Context, tenantID int64) ([]User, error) {
	if tenantID == 0 {
		return nil, fmt.Errorf("users: tenant required: %w", shared.ErrValidation)
	}
	return s.repo.ListUsers(ctx, tenantID)
}
