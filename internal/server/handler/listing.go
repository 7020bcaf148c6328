package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gavelworks/gaveld/internal/domain"
	"github.com/gavelworks/gaveld/internal/service"
)

// topBidsShown caps the ledger preview on the listing detail endpoint.
const topBidsShown = 10

// ListingService defines the methods the listing handler requires from the
// service layer.
type ListingService interface {
	Create(ctx context.Context, req service.CreateListingRequest) (domain.Listing, error)
	GetDetail(ctx context.Context, id string, topN int) (service.ListingDetail, error)
	ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error)
	Ledger(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Bid, error)
	BuyNow(ctx context.Context, listingID, buyerID string) (domain.Order, error)
}

// ListingHandler serves listing lifecycle and read endpoints.
type ListingHandler struct {
	listings ListingService
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler with the given service and logger.
func NewListingHandler(listings ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		logger:   logger,
	}
}

// createListingRequest is the seller's payload for a new listing.
type createListingRequest struct {
	SellerID      string           `json:"seller_id"`
	Title         string           `json:"title"`
	StartingPrice decimal.Decimal  `json:"starting_price"`
	StepIncrement decimal.Decimal  `json:"step_increment"`
	BuyNowPrice   *decimal.Decimal `json:"buy_now_price,omitempty"`
	CloseTime     time.Time        `json:"close_time"`
	AutoExtend    bool             `json:"auto_extend"`
	AllowUnrated  bool             `json:"allow_unrated"`
	Rejected      []string         `json:"rejected_bidders,omitempty"`
}

// CreateListing creates a new listing.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SellerID == "" {
		writeError(w, http.StatusBadRequest, "seller_id is required")
		return
	}

	l, err := h.listings.Create(r.Context(), service.CreateListingRequest{
		SellerID:      req.SellerID,
		Title:         req.Title,
		StartingPrice: req.StartingPrice,
		StepIncrement: req.StepIncrement,
		BuyNowPrice:   req.BuyNowPrice,
		CloseTime:     req.CloseTime,
		AutoExtend:    req.AutoExtend,
		AllowUnrated:  req.AllowUnrated,
		Rejected:      req.Rejected,
	})
	if err != nil {
		writeDomainError(h.logger, w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, l)
}

// listListingsResponse wraps the list endpoint output with pagination
// metadata.
type listListingsResponse struct {
	Listings []domain.Listing `json:"listings"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// ListListings returns active listings with pagination.
// GET /api/listings?limit=50&offset=0
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	listings, err := h.listings.ListActive(r.Context(), opts)
	if err != nil {
		writeDomainError(h.logger, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listListingsResponse{
		Listings: listings,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// GetListing returns a single listing with its ledger preview.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing listing id")
		return
	}

	detail, err := h.listings.GetDetail(r.Context(), id, topBidsShown)
	if err != nil {
		writeDomainError(h.logger, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// GetLedger returns the full bid history for a listing, leader first.
// GET /api/listings/{id}/bids
func (h *ListingHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing listing id")
		return
	}

	bids, err := h.listings.Ledger(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(h.logger, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bids": bids})
}

// buyNowRequest identifies the buyer for an immediate purchase.
type buyNowRequest struct {
	BuyerID string `json:"buyer_id"`
}

// BuyNow sells the listing immediately at its buy-now price.
// POST /api/listings/{id}/buy-now
func (h *ListingHandler) BuyNow(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing listing id")
		return
	}

	var req buyNowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.BuyerID == "" {
		writeError(w, http.StatusBadRequest, "buyer_id is required")
		return
	}

	order, err := h.listings.BuyNow(r.Context(), id, req.BuyerID)
	if err != nil {
		writeDomainError(h.logger, w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}
