package catalog

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/valecore/valecore/internal/platform/db"
)

// Repository persists catalog entities in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const (
	tenantColumns    = `id, slug, name, active, created_at`
	productColumns   = `id, tenant_id, name, sku, price, stock, active, created_at, updated_at`
	warehouseColumns = `id, tenant_id, code, name, created_at`
)

func (r *Repository) CreateTenant(ctx context.Context, input CreateTenantInput) (Tenant, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO tenants (slug, name, active) VALUES ($1,$2,TRUE) RETURNING `+tenantColumns, input.Slug, input.Name)
	tenant, err := scanTenant(row)
	if err != nil {
		return Tenant{}, mapConstraint(err)
	}
	return tenant, nil
}

func (r *Repository) GetTenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug=$1 AND active`, slug)
	tenant, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrTenantNotFound
		}
		return Tenant{}, err
	}
	return tenant, nil
}

func (r *Repository) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tenants := []Tenant{}
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

func (r *Repository) CreateProduct(ctx context.Context, input CreateProductInput) (Product, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO products (tenant_id, name, sku, price, stock, active)
VALUES ($1,$2,$3,$4,$5,TRUE) RETURNING `+productColumns,
		input.TenantID, input.Name, input.SKU, input.Price, input.InitialStock)
	product, err := scanProduct(row)
	if err != nil {
		return Product{}, mapConstraint(err)
	}
	return product, nil
}

func (r *Repository) GetProduct(ctx context.Context, tenantID, productID int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1 AND tenant_id=$2`, productID, tenantID)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return product, nil
}

// UpdateProduct patches the provided fields only.
func (r *Repository) UpdateProduct(ctx context.Context, tenantID, productID int64, input UpdateProductInput) (Product, error) {
	set := "updated_at = NOW()"
	args := []any{productID, tenantID}
	if input.Name != nil {
		args = append(args, *input.Name)
		set += ", name = $" + strconv.Itoa(len(args))
	}
	if input.Price != nil {
		args = append(args, *input.Price)
		set += ", price = $" + strconv.Itoa(len(args))
	}
	if input.Active != nil {
		args = append(args, *input.Active)
		set += ", active = $" + strconv.Itoa(len(args))
	}

	row := r.pool.QueryRow(ctx, `UPDATE products SET `+set+` WHERE id=$1 AND tenant_id=$2 RETURNING `+productColumns, args...)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, mapConstraint(err)
	}
	return product, nil
}

func (r *Repository) ListProducts(ctx context.Context, tenantID int64) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE tenant_id=$1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

func (r *Repository) CreateWarehouse(ctx context.Context, input CreateWarehouseInput) (Warehouse, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO warehouses (tenant_id, code, name) VALUES ($1,$2,$3) RETURNING `+warehouseColumns,
		input.TenantID, input.Code, input.Name)
	warehouse, err := scanWarehouse(row)
	if err != nil {
		return Warehouse{}, mapConstraint(err)
	}
	return warehouse, nil
}

func (r *Repository) ListWarehouses(ctx context.Context, tenantID int64) ([]Warehouse, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE tenant_id=$1 ORDER BY code`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	warehouses := []Warehouse{}
	for rows.Next() {
		warehouse, err := scanWarehouse(rows)
		if err != nil {
			return nil, err
		}
		warehouses = append(warehouses, warehouse)
	}
	return warehouses, rows.Err()
}

// mapConstraint translates unique-index violations into domain conflicts.
func mapConstraint(err error) error {
	if !db.IsUniqueViolation(err) {
		return err
	}
	switch db.ConstraintName(err) {
	case "uq_tenants_slug":
		return ErrSlugTaken
	case "uq_products_tenant_name":
		return ErrNameTaken
	case "uq_products_tenant_sku":
		return ErrSKUTaken
	case "uq_warehouses_tenant_code":
		return ErrCodeTaken
	default:
		return err
	}
}

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.Active, &t.CreatedAt)
	return t, err
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.SKU, &p.Price, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanWarehouse(row pgx.Row) (Warehouse, error) {
	var w Warehouse
	err := row.Scan(&w.ID, &w.TenantID, &w.Code, &w.Name, &w.CreatedAt)
	return w, err
}
