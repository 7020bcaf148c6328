package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/gavelworks/gaveld/internal/auction"
	"github.com/gavelworks/gaveld/internal/service"
)

// BidService defines the methods the bid handler requires from the service
// layer.
type BidService interface {
	PlaceBid(ctx context.Context, req auction.BidRequest) (service.BidResult, error)
}

// BidHandler serves bid submission.
type BidHandler struct {
	bids   BidService
	logger *slog.Logger
}

// NewBidHandler creates a BidHandler with the given service and logger.
func NewBidHandler(bids BidService, logger *slog.Logger) *BidHandler {
	return &BidHandler{
		bids:   bids,
		logger: logger,
	}
}

// placeBidRequest is the submission payload. Amounts are decimal strings.
type placeBidRequest struct {
	ListingID string           `json:"listing_id"`
	BidderID  string           `json:"bidder_id"`
	Amount    decimal.Decimal  `json:"amount"`
	MaxPrice  *decimal.Decimal `json:"max_price,omitempty"`
}

// PlaceBid submits a bid and returns the settlement result.
// POST /api/bids
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ListingID == "" || req.BidderID == "" {
		writeError(w, http.StatusBadRequest, "listing_id and bidder_id are required")
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	res, err := h.bids.PlaceBid(r.Context(), auction.BidRequest{
		ListingID: req.ListingID,
		BidderID:  req.BidderID,
		Amount:    req.Amount,
		MaxPrice:  req.MaxPrice,
	})
	if err != nil {
		writeDomainError(h.logger, w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}
