package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gavelworks/gaveld/internal/domain"
)

// OrderService defines the methods the order handler requires from the
// service layer.
type OrderService interface {
	Get(ctx context.Context, id, userID string) (domain.Order, error)
	GetByListing(ctx context.Context, listingID, userID string) (domain.Order, error)
	Transition(ctx context.Context, id, userID string, to domain.OrderStatus) (domain.Order, error)
}

// OrderHandler serves fulfillment order endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

// GetOrder returns an order visible to one of its parties.
// GET /api/orders/{id}?user_id=...
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	userID := r.URL.Query().Get("user_id")
	if id == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "order id and user_id are required")
		return
	}

	o, err := h.orders.Get(r.Context(), id, userID)
	if err != nil {
		writeDomainError(h.logger, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

// GetListingOrder returns the live order for a listing.
// GET /api/listings/{id}/order?user_id=...
func (h *OrderHandler) GetListingOrder(w http.ResponseWriter, r *http.Request) {
	listingID := pathParam(r, "id")
	userID := r.URL.Query().Get("user_id")
	if listingID == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "listing id and user_id are required")
		return
	}

	o, err := h.orders.GetByListing(r.Context(), listingID, userID)
	if err != nil {
		writeDomainError(h.logger, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

// transitionRequest names the requested fulfillment move.
type transitionRequest struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// Transition moves an order through its fulfillment state machine.
// POST /api/orders/{id}/transition
func (h *OrderHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" || req.Status == "" {
		writeError(w, http.StatusBadRequest, "user_id and status are required")
		return
	}

	o, err := h.orders.Transition(r.Context(), id, req.UserID, domain.OrderStatus(req.Status))
	if err != nil {
		writeDomainError(h.logger, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}
