package catalog

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/valecore/valecore/internal/platform/httpx"
	"github.com/valecore/valecore/internal/shared"
)

// Handler exposes the catalog API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountAdminRoutes registers tenant management routes. These sit outside the
// tenant-scoped group; a tenant cannot be created from within one.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Route("/tenants", func(r chi.Router) {
		r.Post("/", h.createTenant)
		r.Get("/", h.listTenants)
	})
}

// MountRoutes registers tenant-scoped catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Post("/", h.createProduct)
		r.Get("/", h.listProducts)
		r.Get("/{productID}", h.getProduct)
		r.Patch("/{productID}", h.updateProduct)
	})
	r.Route("/warehouses", func(r chi.Router) {
		r.Post("/", h.createWarehouse)
		r.Get("/", h.listWarehouses)
	})
}

type createTenantRequest struct {
	Slug string `json:"slug" validate:"required,max=64"`
	Name string `json:"name" validate:"required,max=200"`
}

type createProductRequest struct {
	Name         string  `json:"name" validate:"required,max=200"`
	SKU          string  `json:"sku" validate:"max=64"`
	Price        float64 `json:"price" validate:"gte=0"`
	InitialStock int64   `json:"initial_stock" validate:"gte=0"`
}

type updateProductRequest struct {
	Name   *string  `json:"name" validate:"omitempty,max=200"`
	Price  *float64 `json:"price" validate:"omitempty,gte=0"`
	Active *bool    `json:"active"`
}

type createWarehouseRequest struct {
	Code string `json:"code" validate:"required,max=32"`
	Name string `json:"name" validate:"required,max=200"`
}

type tenantResponse struct {
	ID        int64  `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

type productResponse struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	SKU       string  `json:"sku,omitempty"`
	Price     float64 `json:"price"`
	Stock     int64   `json:"stock"`
	Active    bool    `json:"active"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type warehouseResponse struct {
	ID        int64  `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

func toTenantResponse(t Tenant) tenantResponse {
	return tenantResponse{
		ID:        t.ID,
		Slug:      t.Slug,
		Name:      t.Name,
		Active:    t.Active,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toProductResponse(p Product) productResponse {
	return productResponse{
		ID:        p.ID,
		Name:      p.Name,
		SKU:       p.SKU,
		Price:     p.Price,
		Stock:     p.Stock,
		Active:    p.Active,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toWarehouseResponse(w Warehouse) warehouseResponse {
	return warehouseResponse{
		ID:        w.ID,
		Code:      w.Code,
		Name:      w.Name,
		CreatedAt: w.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) createTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	tenant, err := h.service.CreateTenant(r.Context(), CreateTenantInput{Slug: req.Slug, Name: req.Name})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTenantResponse(tenant))
}

func (h *Handler) listTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.service.ListTenants(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items := make([]tenantResponse, 0, len(tenants))
	for _, t := range tenants {
		items = append(items, toTenantResponse(t))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tenants": items})
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	var req createProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	product, err := h.service.CreateProduct(r.Context(), identity, CreateProductInput{
		Name:         req.Name,
		SKU:          req.SKU,
		Price:        req.Price,
		InitialStock: req.InitialStock,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toProductResponse(product))
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	product, err := h.service.GetProduct(r.Context(), identity.TenantID, productID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	var req updateProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	product, err := h.service.UpdateProduct(r.Context(), identity, productID, UpdateProductInput{
		Name:   req.Name,
		Price:  req.Price,
		Active: req.Active,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	products, err := h.service.ListProducts(r.Context(), identity.TenantID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items := make([]productResponse, 0, len(products))
	for _, p := range products {
		items = append(items, toProductResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": items})
}

func (h *Handler) createWarehouse(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	var req createWarehouseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	warehouse, err := h.service.CreateWarehouse(r.Context(), identity, CreateWarehouseInput{Code: req.Code, Name: req.Name})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toWarehouseResponse(warehouse))
}

func (h *Handler) listWarehouses(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	warehouses, err := h.service.ListWarehouses(r.Context(), identity.TenantID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items := make([]warehouseResponse, 0, len(warehouses))
	for _, wh := range warehouses {
		items = append(items, toWarehouseResponse(wh))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"warehouses": items})
}
