package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/valecore/valecore/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	CreateTenant(ctx context.Context, input CreateTenantInput) (Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
	CreateProduct(ctx context.Context, input CreateProductInput) (Product, error)
	GetProduct(ctx context.Context, tenantID, productID int64) (Product, error)
	UpdateProduct(ctx context.Context, tenantID, productID int64, input UpdateProductInput) (Product, error)
	ListProducts(ctx context.Context, tenantID int64) ([]Product, error)
	CreateWarehouse(ctx context.Context, input CreateWarehouseInput) (Warehouse, error)
	ListWarehouses(ctx context.Context, tenantID int64) ([]Warehouse, error)
}

// AuditRecorder records catalog changes. Satisfied by shared.AuditLogger.
type AuditRecorder interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Service manages catalog entities.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	cache  *ProductCache
	audit  AuditRecorder
}

// NewService builds Service. Cache and audit may be nil.
func NewService(logger *slog.Logger, repo RepositoryPort, cache *ProductCache, audit AuditRecorder) *Service {
	return &Service{logger: logger, repo: repo, cache: cache, audit: audit}
}

// CreateTenant registers a tenant namespace.
func (s *Service) CreateTenant(ctx context.Context, input CreateTenantInput) (Tenant, error) {
	input.Slug = strings.TrimSpace(strings.ToLower(input.Slug))
	input.Name = strings.TrimSpace(input.Name)
	if !slugPattern.MatchString(input.Slug) {
		return Tenant{}, fmt.Errorf("catalog: slug must be lowercase alphanumerics and hyphens: %w", shared.ErrValidation)
	}
	if input.Name == "" {
		return Tenant{}, fmt.Errorf("catalog: tenant name required: %w", shared.ErrValidation)
	}
	tenant, err := s.repo.CreateTenant(ctx, input)
	if err != nil {
		return Tenant{}, err
	}
	s.recordAudit(ctx, shared.AuditLog{
		TenantID: tenant.ID,
		Action:   "tenant:create",
		Entity:   "tenant",
		EntityID: strconv.FormatInt(tenant.ID, 10),
		Meta:     map[string]any{"slug": tenant.Slug},
		At:       time.Now().UTC(),
	})
	return tenant, nil
}

// GetTenantBySlug resolves an active tenant by slug.
func (s *Service) GetTenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	slug = strings.TrimSpace(strings.ToLower(slug))
	if slug == "" {
		return Tenant{}, ErrTenantNotFound
	}
	return s.repo.GetTenantBySlug(ctx, slug)
}

// ListTenants lists all tenants.
func (s *Service) ListTenants(ctx context.Context) ([]Tenant, error) {
	return s.repo.ListTenants(ctx)
}

// CreateProduct registers a product with its starting stock.
func (s *Service) CreateProduct(ctx context.Context, identity shared.Identity, input CreateProductInput) (Product, error) {
	input.TenantID = identity.TenantID
	input.Name = strings.TrimSpace(input.Name)
	input.SKU = strings.TrimSpace(input.SKU)
	if input.TenantID == 0 {
		return Product{}, fmt.Errorf("catalog: tenant required: %w", shared.ErrValidation)
	}
	if input.Name == "" {
		return Product{}, fmt.Errorf("catalog: product name required: %w", shared.ErrValidation)
	}
	if input.Price < 0 {
		return Product{}, fmt.Errorf("catalog: price must not be negative: %w", shared.ErrValidation)
	}
	if input.InitialStock < 0 {
		return Product{}, fmt.Errorf("catalog: initial stock must not be negative: %w", shared.ErrValidation)
	}
	product, err := s.repo.CreateProduct(ctx, input)
	if err != nil {
		return Product{}, err
	}
	s.cache.Invalidate(ctx, input.TenantID)
	s.recordAudit(ctx, shared.AuditLog{
		TenantID: identity.TenantID,
		ActorID:  identity.UserID,
		Action:   "product:create",
		Entity:   "product",
		EntityID: strconv.FormatInt(product.ID, 10),
		Meta:     map[string]any{"name": product.Name, "sku": product.SKU, "stock": product.Stock},
		At:       time.Now().UTC(),
	})
	return product, nil
}

// GetProduct fetches one product scoped to the tenant.
func (s *Service) GetProduct(ctx context.Context, tenantID, productID int64) (Product, error) {
	if tenantID == 0 || productID == 0 {
		return Product{}, fmt.Errorf("catalog: tenant and product required: %w", shared.ErrValidation)
	}
	return s.repo.GetProduct(ctx, tenantID, productID)
}

// UpdateProduct patches name, price or active flag.
func (s *Service) UpdateProduct(ctx context.Context, identity shared.Identity, productID int64, input UpdateProductInput) (Product, error) {
	if identity.TenantID == 0 || productID == 0 {
		return Product{}, fmt.Errorf("catalog: tenant and product required: %w", shared.ErrValidation)
	}
	if input.Name == nil && input.Price == nil && input.Active == nil {
		return Product{}, fmt.Errorf("catalog: nothing to update: %w", shared.ErrValidation)
	}
	if input.Name != nil {
		trimmed := strings.TrimSpace(*input.Name)
		if trimmed == "" {
			return Product{}, fmt.Errorf("catalog: product name required: %w", shared.ErrValidation)
		}
		input.Name = &trimmed
	}
	if input.Price != nil && *input.Price < 0 {
		return Product{}, fmt.Errorf("catalog: price must not be negative: %w", shared.ErrValidation)
	}
	product, err := s.repo.UpdateProduct(ctx, identity.TenantID, productID, input)
	if err != nil {
		return Product{}, err
	}
	s.cache.Invalidate(ctx, identity.TenantID)
	s.recordAudit(ctx, shared.AuditLog{
		TenantID: identity.TenantID,
		ActorID:  identity.UserID,
		Action:   "product:update",
		Entity:   "product",
		EntityID: strconv.FormatInt(product.ID, 10),
		Meta:     map[string]any{"name": product.Name, "price": product.Price, "active": product.Active},
		At:       time.Now().UTC(),
	})
	return product, nil
}

// ListProducts lists the tenant's products, served from cache when warm.
func (s *Service) ListProducts(ctx context.Context, tenantID int64) ([]Product, error) {
	if tenantID == 0 {
		return nil, fmt.Errorf("catalog: tenant required: %w", shared.ErrValidation)
	}
	return s.cache.Products(ctx, tenantID, func(ctx context.Context) ([]Product, error) {
		return s.repo.ListProducts(ctx, tenantID)
	})
}

// CreateWarehouse registers a warehouse.
func (s *Service) CreateWarehouse(ctx context.Context, identity shared.Identity, input CreateWarehouseInput) (Warehouse, error) {
	input.TenantID = identity.TenantID
	input.Code = strings.TrimSpace(strings.ToUpper(input.Code))
	input.Name = strings.TrimSpace(input.Name)
	if input.TenantID == 0 {
		return Warehouse{}, fmt.Errorf("catalog: tenant required: %w", shared.ErrValidation)
	}
	if input.Code == "" || input.Name == "" {
		return Warehouse{}, fmt.Errorf("catalog: warehouse code and name required: %w", shared.ErrValidation)
	}
	warehouse, err := s.repo.CreateWarehouse(ctx, input)
	if err != nil {
		return Warehouse{}, err
	}
	s.recordAudit(ctx, shared.AuditLog{
		TenantID: identity.TenantID,
		ActorID:  identity.UserID,
		Action:   "warehouse:create",
		Entity:   "warehouse",
		EntityID: strconv.FormatInt(warehouse.ID, 10),
		Meta:     map[string]any{"code": warehouse.Code},
		At:       time.Now().UTC(),
	})
	return warehouse, nil
}

// ListWarehouses lists the tenant's warehouses.
func (s *Service) ListWarehouses(ctx context.Context, tenantID int64) ([]Warehouse, error) {
	if tenantID == 0 {
		return nil, fmt.Errorf("catalog: tenant required: %w", shared.ErrValidation)
	}
	return s.repo.ListWarehouses(ctx, tenantID)
}

func (s *Service) recordAudit(ctx context.Context, entry shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error("catalog audit write failed", "error", err, "action", entry.Action)
	}
}
