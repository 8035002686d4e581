package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/otcindex/internal/domain"
)

// OrderHandler serves the projected order book.
type OrderHandler struct {
	orders domain.OrderStore
	fills  domain.FillStore
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders domain.OrderStore, fills domain.FillStore, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		fills:  fills,
		logger: logHandler(logger, "orders"),
	}
}

// ListOrders returns orders for an owner, or the most recently updated orders
// when no owner filter is given.
// GET /api/orders?owner=0x..&limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		orders []domain.Order
		err    error
	)
	if owner := r.URL.Query().Get("owner"); owner != "" {
		orders, err = h.orders.ListByOwner(r.Context(), owner, opts)
	} else {
		orders, err = h.orders.ListRecentlyUpdated(r.Context(), opts.Limit)
	}
	if err != nil {
		h.logger.Error("list orders failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orders": newOrderViews(orders),
		"count":  len(orders),
	})
}

// GetOrder returns a single order with its fill history.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	o, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("get order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}

	fills, err := h.fills.ListByOrder(r.Context(), id)
	if err != nil {
		h.logger.Error("list fills failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load fills")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order": newOrderView(o),
		"fills": newFillViews(fills),
	})
}

// ListOrderFills returns the fill history of one order.
// GET /api/orders/{id}/fills
func (h *OrderHandler) ListOrderFills(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if _, err := h.orders.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}

	fills, err := h.fills.ListByOrder(r.Context(), id)
	if err != nil {
		h.logger.Error("list fills failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load fills")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fills": newFillViews(fills),
		"count": len(fills),
	})
}
