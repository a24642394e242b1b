package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/valecore/valecore/internal/observability"
	"github.com/valecore/valecore/internal/platform/httpx"
	"github.com/valecore/valecore/internal/shared"
)

// Handler exposes the voucher API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	metrics  *observability.LedgerMetrics
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.LedgerMetrics) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		metrics:  metrics,
	}
}

// MountRoutes registers voucher routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/vouchers", func(r chi.Router) {
		r.Post("/", h.createVoucher)
		r.Get("/", h.listVouchers)
		r.Get("/export.csv", h.exportVouchers)
		r.Get("/{voucherID}", h.getVoucher)
		r.Patch("/{voucherID}", h.updateVoucherStatus)
	})
}

type createVoucherRequest struct {
	ProductID  int64  `json:"product_id" validate:"required,gt=0"`
	Quantity   int64  `json:"quantity" validate:"required,gt=0"`
	RequestKey string `json:"request_key" validate:"required,max=128"`
	Comment    string `json:"comment" validate:"max=500"`
}

type updateStatusRequest struct {
	Status  string  `json:"status" validate:"required,oneof=completed cancelled"`
	Comment *string `json:"comment" validate:"omitempty,max=500"`
}

type voucherResponse struct {
	ID         int64   `json:"id"`
	ProductID  int64   `json:"product_id"`
	UserID     int64   `json:"user_id"`
	RequestKey string  `json:"request_key"`
	Quantity   int64   `json:"quantity"`
	Amount     float64 `json:"amount"`
	Status     string  `json:"status"`
	Comment    string  `json:"comment,omitempty"`
	Duplicate  bool    `json:"duplicate,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

func toVoucherResponse(v Voucher, duplicate bool) voucherResponse {
	return voucherResponse{
		ID:         v.ID,
		ProductID:  v.ProductID,
		UserID:     v.UserID,
		RequestKey: v.RequestKey,
		Quantity:   v.Quantity,
		Amount:     v.Amount,
		Status:     string(v.Status),
		Comment:    v.Comment,
		Duplicate:  duplicate,
		CreatedAt:  v.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) createVoucher(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	var req createVoucherRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.CreateVoucher(r.Context(), CreateVoucherInput{
		TenantID:   identity.TenantID,
		UserID:     identity.UserID,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		RequestKey: req.RequestKey,
		Comment:    req.Comment,
	})
	if err != nil {
		h.observeFailure("create", err)
		var stockErr *shared.InsufficientStockError
		if !errors.As(err, &stockErr) && !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("create voucher failed", "error", err, "tenant", identity.TenantSlug)
		}
		httpx.RespondError(w, err)
		return
	}
	// Replays return the original voucher with 200, not 201; nothing was
	// created on this request.
	if result.Duplicate {
		h.metrics.Observe("create", "duplicate")
		httpx.JSON(w, http.StatusOK, toVoucherResponse(result.Voucher, true))
		return
	}
	h.metrics.Observe("create", "created")
	httpx.JSON(w, http.StatusCreated, toVoucherResponse(result.Voucher, false))
}

func (h *Handler) getVoucher(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	voucherID, err := strconv.ParseInt(chi.URLParam(r, "voucherID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid voucher id")
		return
	}
	voucher, err := h.service.GetVoucher(r.Context(), identity.TenantID, voucherID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toVoucherResponse(voucher, false))
}

func (h *Handler) listVouchers(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	filter, err := h.listFilterFromQuery(r, identity)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	vouchers, err := h.service.ListVouchers(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items := make([]voucherResponse, 0, len(vouchers))
	for _, v := range vouchers {
		items = append(items, toVoucherResponse(v, false))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"vouchers": items,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func (h *Handler) updateVoucherStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	voucherID, err := strconv.ParseInt(chi.URLParam(r, "voucherID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid voucher id")
		return
	}
	var req updateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	voucher, err := h.service.UpdateVoucherStatus(r.Context(), identity.TenantID, voucherID, VoucherStatus(req.Status), req.Comment)
	if err != nil {
		h.observeFailure("transition", err)
		httpx.RespondError(w, err)
		return
	}
	h.metrics.Observe("transition", string(voucher.Status))
	httpx.JSON(w, http.StatusOK, toVoucherResponse(voucher, false))
}

// exportVouchers streams the tenant's vouchers as CSV, same filters as the
// list endpoint.
func (h *Handler) exportVouchers(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	filter, err := h.listFilterFromQuery(r, identity)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	vouchers, err := h.service.ListVouchers(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="vouchers.csv"`)

	printer := message.NewPrinter(language.English)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "status", "product_id", "quantity", "amount", "request_key", "created_at"})
	for _, v := range vouchers {
		_ = cw.Write([]string{
			strconv.FormatInt(v.ID, 10),
			string(v.Status),
			strconv.FormatInt(v.ProductID, 10),
			strconv.FormatInt(v.Quantity, 10),
			printer.Sprintf("%.2f", v.Amount),
			v.RequestKey,
			v.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Error("voucher csv export failed", "error", err, "tenant", identity.TenantSlug)
	}
}

func (h *Handler) listFilterFromQuery(r *http.Request, identity shared.Identity) (ListFilter, error) {
	filter := ListFilter{TenantID: identity.TenantID}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = VoucherStatus(status)
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return ListFilter{}, fmt.Errorf("ledger: invalid limit: %w", shared.ErrValidation)
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return ListFilter{}, fmt.Errorf("ledger: invalid offset: %w", shared.ErrValidation)
		}
		filter.Offset = offset
	}
	return filter, nil
}

func (h *Handler) observeFailure(op string, err error) {
	var stockErr *shared.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		h.metrics.Observe(op, "insufficient_stock")
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrConflict):
		h.metrics.Observe(op, "rejected")
	default:
		h.metrics.Observe(op, "error")
	}
}
