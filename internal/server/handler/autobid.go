package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/gavelworks/gaveld/internal/domain"
)

// AutoBidService defines the methods the standing-order handler requires from
// the service layer.
type AutoBidService interface {
	Register(ctx context.Context, listingID, bidderID string, maxAmount, increment decimal.Decimal) (domain.AutoBid, error)
	Get(ctx context.Context, id int64, bidderID string) (domain.AutoBid, error)
	GetByPair(ctx context.Context, listingID, bidderID string) (domain.AutoBid, error)
	Update(ctx context.Context, id int64, bidderID string, upd domain.AutoBidUpdate) (domain.AutoBid, error)
	Cancel(ctx context.Context, id int64, bidderID string) error
}

// AutoBidHandler serves standing-order CRUD endpoints.
type AutoBidHandler struct {
	autoBids AutoBidService
	logger   *slog.Logger
}

// NewAutoBidHandler creates an AutoBidHandler with the given service and logger.
func NewAutoBidHandler(autoBids AutoBidService, logger *slog.Logger) *AutoBidHandler {
	return &AutoBidHandler{
		autoBids: autoBids,
		logger:   logger,
	}
}

// registerAutoBidRequest is the payload for a new standing order.
type registerAutoBidRequest struct {
	ListingID string          `json:"listing_id"`
	BidderID  string          `json:"bidder_id"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	Increment decimal.Decimal `json:"increment"`
}

// Register creates or raises a standing order.
// POST /api/autobids
func (h *AutoBidHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerAutoBidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ListingID == "" || req.BidderID == "" {
		writeError(w, http.StatusBadRequest, "listing_id and bidder_id are required")
		return
	}
	if !req.MaxAmount.IsPositive() {
		writeError(w, http.StatusBadRequest, "max_amount must be positive")
		return
	}

	ab, err := h.autoBids.Register(r.Context(), req.ListingID, req.BidderID, req.MaxAmount, req.Increment)
	if err != nil {
		writeDomainError(h.logger, w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ab)
}

// Get returns a standing order.
// GET /api/autobids/{id}?bidder_id=...
func (h *AutoBidHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := autoBidID(w, r)
	if !ok {
		return
	}
	bidderID := r.URL.Query().Get("bidder_id")
	if bidderID == "" {
		writeError(w, http.StatusBadRequest, "bidder_id is required")
		return
	}

	ab, err := h.autoBids.Get(r.Context(), id, bidderID)
	if err != nil {
		writeDomainError(h.logger, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ab)
}

// GetByPair looks up the active standing order on a listing for a bidder.
// GET /api/autobids?listing_id=...&bidder_id=...
func (h *AutoBidHandler) GetByPair(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	listingID := q.Get("listing_id")
	bidderID := q.Get("bidder_id")
	if listingID == "" || bidderID == "" {
		writeError(w, http.StatusBadRequest, "listing_id and bidder_id are required")
		return
	}

	ab, err := h.autoBids.GetByPair(r.Context(), listingID, bidderID)
	if err != nil {
		writeDomainError(h.logger, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ab)
}

// updateAutoBidRequest carries a partial update; absent fields stay unchanged.
type updateAutoBidRequest struct {
	BidderID  string           `json:"bidder_id"`
	MaxAmount *decimal.Decimal `json:"max_amount,omitempty"`
	Increment *decimal.Decimal `json:"increment,omitempty"`
}

// Update raises or adjusts a standing order.
// PUT /api/autobids/{id}
func (h *AutoBidHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := autoBidID(w, r)
	if !ok {
		return
	}

	var req updateAutoBidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.BidderID == "" {
		writeError(w, http.StatusBadRequest, "bidder_id is required")
		return
	}
	if req.MaxAmount == nil && req.Increment == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	ab, err := h.autoBids.Update(r.Context(), id, req.BidderID, domain.AutoBidUpdate{
		MaxAmount: req.MaxAmount,
		Increment: req.Increment,
	})
	if err != nil {
		writeDomainError(h.logger, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ab)
}

// Cancel retires a standing order.
// DELETE /api/autobids/{id}?bidder_id=...
func (h *AutoBidHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := autoBidID(w, r)
	if !ok {
		return
	}
	bidderID := r.URL.Query().Get("bidder_id")
	if bidderID == "" {
		writeError(w, http.StatusBadRequest, "bidder_id is required")
		return
	}

	if err := h.autoBids.Cancel(r.Context(), id, bidderID); err != nil {
		writeDomainError(h.logger, w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// autoBidID parses the numeric {id} path parameter, writing a 400 on failure.
func autoBidID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := pathParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid autobid id")
		return 0, false
	}
	return id, true
}
