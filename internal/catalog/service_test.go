package catalog

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/valecore/valecore/internal/shared"
)

type memoryRepo struct {
	tenants    map[int64]Tenant
	products   map[int64]Product
	warehouses map[int64]Warehouse
	nextID     int64
	listCalls  int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		tenants:    make(map[int64]Tenant),
		products:   make(map[int64]Product),
		warehouses: make(map[int64]Warehouse),
	}
}

func (r *memoryRepo) CreateTenant(ctx context.Context, input CreateTenantInput) (Tenant, error) {
	for _, t := range r.tenants {
		if t.Slug == input.Slug {
			return Tenant{}, ErrSlugTaken
		}
	}
	r.nextID++
	tenant := Tenant{ID: r.nextID, Slug: input.Slug, Name: input.Name, Active: true, CreatedAt: time.Now().UTC()}
	r.tenants[tenant.ID] = tenant
	return tenant, nil
}

func (r *memoryRepo) GetTenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	for _, t := range r.tenants {
		if t.Slug == slug && t.Active {
			return t, nil
		}
	}
	return Tenant{}, ErrTenantNotFound
}

func (r *memoryRepo) ListTenants(ctx context.Context) ([]Tenant, error) {
	out := []Tenant{}
	for _, t := range r.tenants {
		out = append(out, t)
	}
	return out, nil
}

func (r *memoryRepo) CreateProduct(ctx context.Context, input CreateProductInput) (Product, error) {
	for _, p := range r.products {
		if p.TenantID != input.TenantID {
			continue
		}
		if p.Name == input.Name {
			return Product{}, ErrNameTaken
		}
		if input.SKU != "" && p.SKU == input.SKU {
			return Product{}, ErrSKUTaken
		}
	}
	r.nextID++
	now := time.Now().UTC()
	product := Product{
		ID: r.nextID, TenantID: input.TenantID, Name: input.Name, SKU: input.SKU,
		Price: input.Price, Stock: input.InitialStock, Active: true, CreatedAt: now, UpdatedAt: now,
	}
	r.products[product.ID] = product
	return product, nil
}

func (r *memoryRepo) GetProduct(ctx context.Context, tenantID, productID int64) (Product, error) {
	p, ok := r.products[productID]
	if !ok || p.TenantID != tenantID {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (r *memoryRepo) UpdateProduct(ctx context.Context, tenantID, productID int64, input UpdateProductInput) (Product, error) {
	p, ok := r.products[productID]
	if !ok || p.TenantID != tenantID {
		return Product{}, ErrProductNotFound
	}
	if input.Name != nil {
		p.Name = *input.Name
	}
	if input.Price != nil {
		p.Price = *input.Price
	}
	if input.Active != nil {
		p.Active = *input.Active
	}
	p.UpdatedAt = time.Now().UTC()
	r.products[productID] = p
	return p, nil
}

func (r *memoryRepo) ListProducts(ctx context.Context, tenantID int64) ([]Product, error) {
	r.listCalls++
	out := []Product{}
	for _, p := range r.products {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateWarehouse(ctx context.Context, input CreateWarehouseInput) (Warehouse, error) {
	for _, w := range r.warehouses {
		if w.TenantID == input.TenantID && w.Code == input.Code {
			return Warehouse{}, ErrCodeTaken
		}
	}
	r.nextID++
	warehouse := Warehouse{ID: r.nextID, TenantID: input.TenantID, Code: input.Code, Name: input.Name, CreatedAt: time.Now().UTC()}
	r.warehouses[warehouse.ID] = warehouse
	return warehouse, nil
}

func (r *memoryRepo) ListWarehouses(ctx context.Context, tenantID int64) ([]Warehouse, error) {
	out := []Warehouse{}
	for _, w := range r.warehouses {
		if w.TenantID == tenantID {
			out = append(out, w)
		}
	}
	return out, nil
}

func newTestService(repo *memoryRepo) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(logger, repo, nil, nil)
}

func identityFor(tenantID int64) shared.Identity {
	return shared.Identity{TenantID: tenantID, UserID: 7}
}

func TestCreateTenant(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	tenant, err := svc.CreateTenant(ctx, CreateTenantInput{Slug: " Acme-Corp ", Name: "Acme Corp"})
	require.NoError(t, err)
	require.Equal(t, "acme-corp", tenant.Slug)

	_, err = svc.CreateTenant(ctx, CreateTenantInput{Slug: "acme-corp", Name: "Other"})
	require.ErrorIs(t, err, ErrSlugTaken)

	_, err = svc.CreateTenant(ctx, CreateTenantInput{Slug: "Bad Slug!", Name: "Broken"})
	require.ErrorIs(t, err, shared.ErrValidation)

	resolved, err := svc.GetTenantBySlug(ctx, "ACME-CORP")
	require.NoError(t, err)
	require.Equal(t, tenant.ID, resolved.ID)

	_, err = svc.GetTenantBySlug(ctx, "nope")
	require.ErrorIs(t, err, ErrTenantNotFound)
}

func TestProductNamesUniquePerTenant(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, identityFor(10), CreateProductInput{Name: "Helmet", SKU: "H-1", Price: 10, InitialStock: 5})
	require.NoError(t, err)

	// Same tenant conflicts on name and on SKU.
	_, err = svc.CreateProduct(ctx, identityFor(10), CreateProductInput{Name: "Helmet", Price: 12})
	require.ErrorIs(t, err, ErrNameTaken)
	_, err = svc.CreateProduct(ctx, identityFor(10), CreateProductInput{Name: "Helmet XL", SKU: "H-1", Price: 12})
	require.ErrorIs(t, err, ErrSKUTaken)

	// A different tenant is free to reuse both.
	_, err = svc.CreateProduct(ctx, identityFor(20), CreateProductInput{Name: "Helmet", SKU: "H-1", Price: 9})
	require.NoError(t, err)
}

func TestProductValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, identityFor(10), CreateProductInput{Name: "  ", Price: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateProduct(ctx, identityFor(10), CreateProductInput{Name: "X", Price: -1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateProduct(ctx, identityFor(10), CreateProductInput{Name: "X", InitialStock: -1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateProduct(ctx, identityFor(0), CreateProductInput{Name: "X"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateProduct(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, identityFor(10), CreateProductInput{Name: "Helmet", Price: 10})
	require.NoError(t, err)

	price := 15.5
	active := false
	updated, err := svc.UpdateProduct(ctx, identityFor(10), created.ID, UpdateProductInput{Price: &price, Active: &active})
	require.NoError(t, err)
	require.InDelta(t, 15.5, updated.Price, 0.0001)
	require.False(t, updated.Active)

	_, err = svc.UpdateProduct(ctx, identityFor(10), created.ID, UpdateProductInput{})
	require.ErrorIs(t, err, shared.ErrValidation)

	// Cross-tenant update reads as missing.
	_, err = svc.UpdateProduct(ctx, identityFor(20), created.ID, UpdateProductInput{Price: &price})
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestCreateWarehouse(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	warehouse, err := svc.CreateWarehouse(ctx, identityFor(10), CreateWarehouseInput{Code: "main", Name: "Main"})
	require.NoError(t, err)
	require.Equal(t, "MAIN", warehouse.Code)

	_, err = svc.CreateWarehouse(ctx, identityFor(10), CreateWarehouseInput{Code: "MAIN", Name: "Other"})
	require.ErrorIs(t, err, ErrCodeTaken)

	_, err = svc.CreateWarehouse(ctx, identityFor(20), CreateWarehouseInput{Code: "MAIN", Name: "Theirs"})
	require.NoError(t, err)

	_, err = svc.CreateWarehouse(ctx, identityFor(10), CreateWarehouseInput{Code: "", Name: "Nameless"})
	require.ErrorIs(t, err, shared.ErrValidation)
}
