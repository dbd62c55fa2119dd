package expiry

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stockyard-pos/stockyard/internal/platform/httpx"
)

// Handler exposes expiry endpoints.
type Handler struct {
	logger  *slog.Logger
	sweeper *Sweeper
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, sweeper *Sweeper) *Handler {
	return &Handler{logger: logger, sweeper: sweeper}
}

// MountRoutes registers expiry routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/expiry/sweep", h.handleSweep)
	r.Get("/expiry/statistics", h.handleStatistics)
	r.Get("/expiry/soon", h.handleExpiringSoon)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		h.logger.Error("manual expiry sweep", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sweeper.Statistics(r.Context())
	if err != nil {
		h.logger.Error("expiry statistics", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleExpiringSoon(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	batches, err := h.sweeper.ExpiringSoon(r.Context(), days)
	if err != nil {
		h.logger.Error("expiring soon", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"count": len(batches), "batches": batches})
}
