package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/rl1809/inventory-sync/internal/core/domain"
)

type InventoryLister interface {
	ListAll(ctx context.Context) ([]domain.InventoryItem, error)
}

type StockValidator interface {
	ValidateStock(ctx context.Context) (int, error)
}

type HTTPHandler struct {
	inventory InventoryLister
	validator StockValidator
	log       *zap.Logger
}

func NewHTTPHandler(inventory InventoryLister, validator StockValidator, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		inventory: inventory,
		validator: validator,
		log:       logger.With(zap.String("component", "http_handler")),
	}
}

func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /inventory", h.ListInventory)
	mux.HandleFunc("GET /inventory/stock", h.ValidateStock)
}

func (h *HTTPHandler) ListInventory(w http.ResponseWriter, r *http.Request) {
	items, err := h.inventory.ListAll(r.Context())
	if err != nil {
		h.log.Error("list_inventory_failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, items)
}

func (h *HTTPHandler) ValidateStock(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if _, err := h.validator.ValidateStock(r.Context()); err != nil {
		h.log.Error("stock_validation_request_failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Stock Validation Failed"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Stock Validated"))
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
