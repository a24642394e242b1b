package stock

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

// Handler exposes the warehouse stock API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stock", func(r chi.Router) {
		r.Get("/", h.listCells)
		r.Put("/", h.setStock)
		r.Post("/adjust", h.adjustStock)
	})
}

type setStockRequest struct {
	WarehouseID int64 `json:"warehouse_id" validate:"required,gt=0"`
	ProductID   int64 `json:"product_id" validate:"required,gt=0"`
	Quantity    int64 `json:"quantity" validate:"gte=0"`
}

type adjustStockRequest struct {
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	Delta       int64  `json:"delta" validate:"required"`
	Reason      string `json:"reason" validate:"max=500"`
}

type cellResponse struct {
	WarehouseID int64  `json:"warehouse_id"`
	ProductID   int64  `json:"product_id"`
	Quantity    int64  `json:"quantity"`
	UpdatedAt   string `json:"updated_at"`
}

func toCellResponse(c Cell) cellResponse {
	return cellResponse{
		WarehouseID: c.WarehouseID,
		ProductID:   c.ProductID,
		Quantity:    c.Quantity,
		UpdatedAt:   c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) setStock(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	var req setStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cell, err := h.service.SetStock(r.Context(), identity, SetInput{
		WarehouseID: req.WarehouseID,
		ProductID:   req.ProductID,
		Quantity:    req.Quantity,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCellResponse(cell))
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	var req adjustStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cell, err := h.service.AdjustStock(r.Context(), identity, AdjustInput{
		WarehouseID: req.WarehouseID,
		ProductID:   req.ProductID,
		Delta:       req.Delta,
		Reason:      req.Reason,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCellResponse(cell))
}

func (h *Handler) listCells(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	filter := ListFilter{TenantID: identity.TenantID}
	query := r.URL.Query()
	if raw := query.Get("warehouse_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid warehouse_id")
			return
		}
		filter.WarehouseID = id
	}
	if raw := query.Get("product_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product_id")
			return
		}
		filter.ProductID = id
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid offset")
			return
		}
		filter.Offset = offset
	}

	cells, err := h.service.ListCells(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items := make([]cellResponse, 0, len(cells))
	for _, c := range cells {
		items = append(items, toCellResponse(c))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"cells":  items,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}
