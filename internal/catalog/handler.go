package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockyard-pos/stockyard/internal/barcode"
	"github.com/stockyard-pos/stockyard/internal/platform/httpx"
)

// Handler exposes catalog endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/products", h.handleCreateProduct)
	r.Get("/products", h.handleListProducts)
	r.Get("/products/{id}", h.handleGetProduct)
	r.Get("/products/barcode/{code}", h.handleGetByBarcode)
	r.Post("/products/{id}/repair-stock", h.handleRepairStock)
	r.Post("/products/{id}/refresh-prices", h.handleRefreshPrices)
	r.Post("/products/repair-stock", h.handleRepairAll)
}

type createProductRequest struct {
	SKU          string  `json:"sku" validate:"required,max=64"`
	Name         string  `json:"name" validate:"required,max=200"`
	Barcode      string  `json:"barcode" validate:"omitempty,len=13,numeric"`
	CostPrice    float64 `json:"cost_price" validate:"gte=0"`
	SellingPrice float64 `json:"selling_price" validate:"gte=0"`
	MRP          float64 `json:"mrp" validate:"gte=0"`
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.CreateProduct(r.Context(), CreateProductInput{
		SKU:          req.SKU,
		Name:         req.Name,
		Barcode:      req.Barcode,
		CostPrice:    req.CostPrice,
		SellingPrice: req.SellingPrice,
		MRP:          req.MRP,
	})
	if err != nil {
		h.respondError(w, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	activeOnly := r.URL.Query().Get("active") == "true"
	products, err := h.service.ListProducts(r.Context(), activeOnly, limit, offset)
	if err != nil {
		h.respondError(w, "list products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be numeric")
		return
	}
	p, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.respondError(w, "get product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleGetByBarcode(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetProductByBarcode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, "get product by barcode", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleRepairStock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be numeric")
		return
	}
	repair, err := h.service.RepairStock(r.Context(), id)
	if err != nil {
		h.respondError(w, "repair stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, repair)
}

func (h *Handler) handleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be numeric")
		return
	}
	if err := h.service.RefreshPriceSnapshot(r.Context(), id); err != nil {
		h.respondError(w, "refresh prices", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRepairAll(w http.ResponseWriter, r *http.Request) {
	repairs, err := h.service.RepairAllStock(r.Context())
	if err != nil {
		h.respondError(w, "repair all stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"repaired": len(repairs), "repairs": repairs})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateSKU), errors.Is(err, barcode.ErrDuplicate):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, barcode.ErrRetriesExhausted):
		httpx.Problem(w, http.StatusConflict, "Barcode Exhausted",
			"barcode generation kept colliding, run a counter resync")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
