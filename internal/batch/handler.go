package batch

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockyard-pos/stockyard/internal/catalog"
	"github.com/stockyard-pos/stockyard/internal/platform/httpx"
	"github.com/stockyard-pos/stockyard/internal/shared"
)

// Handler exposes batch and sale endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers batch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/batches", h.handleCreateBatch)
	r.Get("/batches/{id}", h.handleGetBatch)
	r.Get("/batches/{id}/movements", h.handleBatchMovements)
	r.Patch("/batches/{id}/status", h.handleUpdateStatus)
	r.Patch("/batches/{id}/quantity", h.handleCorrectQuantity)

	r.Get("/products/{id}/batches", h.handleProductBatches)
	r.Get("/products/{id}/movements", h.handleProductMovements)

	r.Post("/sales/fifo", h.handleSaleFIFO)

	r.Get("/inventory/valuation", h.handleValuation)
	r.Get("/inventory/expiring", h.handleExpiring)
}

type createBatchRequest struct {
	ProductID       int64   `json:"product_id" validate:"required,gt=0"`
	Quantity        int64   `json:"quantity" validate:"required,gt=0"`
	CostPrice       float64 `json:"cost_price" validate:"gte=0"`
	SellingPrice    float64 `json:"selling_price" validate:"gte=0"`
	MRP             float64 `json:"mrp" validate:"gte=0"`
	SupplierID      int64   `json:"supplier_id"`
	PurchaseOrderID int64   `json:"purchase_order_id"`
	ExpiryDate      string  `json:"expiry_date"`
	ManufactureDate string  `json:"manufacture_date"`
	Location        string  `json:"location" validate:"max=100"`
	Notes           string  `json:"notes" validate:"max=500"`
}

func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	expiry, err := parseDate(req.ExpiryDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiry_date must be YYYY-MM-DD")
		return
	}
	manufacture, err := parseDate(req.ManufactureDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "manufacture_date must be YYYY-MM-DD")
		return
	}

	created, err := h.service.CreateBatch(r.Context(), CreateInput{
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		CostPrice:       req.CostPrice,
		SellingPrice:    req.SellingPrice,
		MRP:             req.MRP,
		SupplierID:      req.SupplierID,
		PurchaseOrderID: req.PurchaseOrderID,
		ExpiryDate:      expiry,
		ManufactureDate: manufacture,
		Location:        req.Location,
		Notes:           req.Notes,
		CreatedBy:       actorID(r),
	})
	if err != nil {
		h.respondError(w, r, "create batch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be numeric")
		return
	}
	b, err := h.service.GetBatch(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) handleBatchMovements(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be numeric")
		return
	}
	movements, err := h.service.MovementsByBatch(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "batch movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=expired damaged returned"`
	Notes  string `json:"notes" validate:"max=500"`
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be numeric")
		return
	}
	var req updateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	b, err := h.service.UpdateBatchStatus(r.Context(), id, Status(req.Status), req.Notes, actorID(r))
	if err != nil {
		h.respondError(w, r, "update batch status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

type correctQuantityRequest struct {
	Quantity int64  `json:"quantity" validate:"gte=0"`
	Notes    string `json:"notes" validate:"max=500"`
}

func (h *Handler) handleCorrectQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be numeric")
		return
	}
	var req correctQuantityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	b, err := h.service.CorrectQuantity(r.Context(), id, req.Quantity, req.Notes, actorID(r))
	if err != nil {
		h.respondError(w, r, "correct batch quantity", err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

// The {id} segment also accepts a 13-digit barcode; the service resolves
// whichever was sent.
func (h *Handler) handleProductBatches(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetBatchesByProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, "product batches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleProductMovements(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be numeric")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.MovementsByProduct(r.Context(), id, limit)
	if err != nil {
		h.respondError(w, r, "product movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

type saleRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	Reference string `json:"reference" validate:"max=100"`
	Notes     string `json:"notes" validate:"max=500"`
}

func (h *Handler) handleSaleFIFO(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.ProcessSaleFIFO(r.Context(), SaleInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		ActorID:   actorID(r),
		Reference: req.Reference,
		Notes:     req.Notes,
	})
	if err != nil {
		h.respondError(w, r, "process sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleValuation(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.GetInventoryValuation(r.Context())
	if err != nil {
		h.respondError(w, r, "inventory valuation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) handleExpiring(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	batches, err := h.service.GetExpiringBatches(r.Context(), days)
	if err != nil {
		h.respondError(w, r, "expiring batches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"count": len(batches), "batches": batches})
}

// respondError translates domain errors into problem responses; anything
// unexpected is logged and masked.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrBatchNotFound), errors.Is(err, catalog.ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrInvalidDates), errors.Is(err, ErrExpiredBatch):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrTerminalStatus):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, ErrNumberTaken), errors.Is(err, shared.ErrDuplicateReference):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", value)
}

func actorID(r *http.Request) int64 {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		return 0
	}
	return actor.ID
}
