package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gavelworks/gaveld/internal/domain"
	"github.com/gavelworks/gaveld/internal/notify"
)

// CreateListingRequest carries the seller's input for a new listing.
type CreateListingRequest struct {
	SellerID      string
	Title         string
	StartingPrice decimal.Decimal
	StepIncrement decimal.Decimal
	BuyNowPrice   *decimal.Decimal
	CloseTime     time.Time
	AutoExtend    bool
	AllowUnrated  bool
	Rejected      []string
}

// ListingDetail is a listing plus the read-path enrichments: the top of the
// ledger and the bid count.
type ListingDetail struct {
	Listing  domain.Listing `json:"listing"`
	TopBids  []domain.Bid   `json:"top_bids,omitempty"`
	BidCount int64          `json:"bid_count"`
}

// ListingService handles listing lifecycle and reads.
type ListingService struct {
	listings domain.ListingStore
	bids     domain.BidStore
	autoBids domain.AutoBidStore
	users    domain.UserStore
	orders   domain.OrderStore
	audit    domain.AuditStore
	cache    domain.ListingCache
	locks    domain.LockManager
	bus      domain.SignalBus
	notifier *notify.Notifier
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewListingService creates a ListingService with all required dependencies.
func NewListingService(
	listings domain.ListingStore,
	bids domain.BidStore,
	autoBids domain.AutoBidStore,
	users domain.UserStore,
	orders domain.OrderStore,
	audit domain.AuditStore,
	cache domain.ListingCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	lockTTL time.Duration,
	logger *slog.Logger,
) *ListingService {
	return &ListingService{
		listings: listings,
		bids:     bids,
		autoBids: autoBids,
		users:    users,
		orders:   orders,
		audit:    audit,
		cache:    cache,
		locks:    locks,
		bus:      bus,
		notifier: notifier,
		lockTTL:  lockTTL,
		logger:   logger.With(slog.String("component", "listing_service")),
	}
}

// Create validates and inserts a new listing for a seller.
func (s *ListingService) Create(ctx context.Context, req CreateListingRequest) (domain.Listing, error) {
	seller, err := s.users.GetByID(ctx, req.SellerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Listing{}, fmt.Errorf("%w: seller %s", domain.ErrNotFound, req.SellerID)
		}
		return domain.Listing{}, fmt.Errorf("listing_service: load seller: %w", err)
	}
	if seller.Role != domain.RoleSeller && seller.Role != domain.RoleAdmin {
		return domain.Listing{}, fmt.Errorf("%w: account role %q cannot sell", domain.ErrForbidden, seller.Role)
	}

	if req.Title == "" {
		return domain.Listing{}, fmt.Errorf("%w: title must not be empty", domain.ErrInvalidBid)
	}
	if !req.StartingPrice.IsPositive() {
		return domain.Listing{}, fmt.Errorf("%w: starting price must be positive", domain.ErrInvalidBid)
	}
	if !req.StepIncrement.IsPositive() {
		return domain.Listing{}, fmt.Errorf("%w: step increment must be positive", domain.ErrInvalidBid)
	}
	if req.BuyNowPrice != nil && !req.BuyNowPrice.GreaterThan(req.StartingPrice) {
		return domain.Listing{}, fmt.Errorf("%w: buy-now price must exceed the starting price", domain.ErrInvalidBid)
	}
	if !req.CloseTime.After(time.Now().UTC()) {
		return domain.Listing{}, fmt.Errorf("%w: close time must be in the future", domain.ErrInvalidBid)
	}

	l := domain.Listing{
		ID:              uuid.New().String(),
		SellerID:        req.SellerID,
		Title:           req.Title,
		StartingPrice:   req.StartingPrice,
		CurrentPrice:    req.StartingPrice,
		StepIncrement:   req.StepIncrement,
		BuyNowPrice:     req.BuyNowPrice,
		CloseTime:       req.CloseTime.UTC(),
		Status:          domain.ListingStatusActive,
		AutoExtend:      req.AutoExtend,
		RejectedBidders: req.Rejected,
		AllowUnrated:    req.AllowUnrated,
	}
	if err := s.listings.Create(ctx, l); err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: create: %w", err)
	}

	if err := s.audit.Log(ctx, "listing.created", map[string]any{
		"listing_id": l.ID,
		"seller_id":  l.SellerID,
		"starting":   l.StartingPrice.String(),
		"close_time": l.CloseTime.Format(time.RFC3339),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}

	return l, nil
}

// Get retrieves a listing, checking the cache first and falling back to the
// persistent store on a cache miss.
func (s *ListingService) Get(ctx context.Context, id string) (domain.Listing, error) {
	l, err := s.cache.Get(ctx, id)
	if err == nil {
		return l, nil
	}

	l, err = s.listings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Listing{}, err
		}
		return domain.Listing{}, fmt.Errorf("listing_service: get %q: %w", id, err)
	}

	// Back-fill cache; log but do not fail on cache write errors.
	if cacheErr := s.cache.Set(ctx, l); cacheErr != nil {
		s.logger.WarnContext(ctx, "cache set failed",
			slog.String("listing_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}

	return l, nil
}

// GetDetail retrieves a listing enriched with the top of its ledger.
func (s *ListingService) GetDetail(ctx context.Context, id string, topN int) (ListingDetail, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return ListingDetail{}, err
	}

	top, err := s.bids.ListByListing(ctx, id, domain.ListOpts{Limit: topN})
	if err != nil {
		return ListingDetail{}, fmt.Errorf("listing_service: ledger for %q: %w", id, err)
	}
	count, err := s.bids.CountByListing(ctx, id)
	if err != nil {
		return ListingDetail{}, fmt.Errorf("listing_service: count for %q: %w", id, err)
	}

	return ListingDetail{Listing: l, TopBids: top, BidCount: count}, nil
}

// ListActive returns active listings directly from the persistent store.
func (s *ListingService) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	listings, err := s.listings.ListActive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing_service: list active: %w", err)
	}
	return listings, nil
}

// Ledger returns the full bid history for a listing, leader first.
func (s *ListingService) Ledger(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Bid, error) {
	if _, err := s.listings.GetByID(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("listing_service: get %q: %w", id, err)
	}
	bids, err := s.bids.ListByListing(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("listing_service: ledger for %q: %w", id, err)
	}
	return bids, nil
}

// BuyNow sells the listing immediately to the buyer at the buy-now price,
// bypassing settlement. It serializes on the same per-listing lock as the bid
// path.
func (s *ListingService) BuyNow(ctx context.Context, listingID, buyerID string) (domain.Order, error) {
	unlock, err := s.locks.Acquire(ctx, "listing:"+listingID, s.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.Order{}, fmt.Errorf("%w: listing %s is under contention", domain.ErrConflict, listingID)
		}
		return domain.Order{}, fmt.Errorf("listing_service: acquire lock: %w", err)
	}
	defer unlock()

	l, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("listing_service: load listing: %w", err)
	}

	now := time.Now().UTC()
	switch {
	case !l.IsOpen(now):
		return domain.Order{}, fmt.Errorf("%w: listing %s is not active or already ended", domain.ErrListingClosed, l.ID)
	case l.BuyNowPrice == nil:
		return domain.Order{}, fmt.Errorf("%w: listing %s has no buy-now price", domain.ErrInvalidBid, l.ID)
	case buyerID == l.SellerID:
		return domain.Order{}, fmt.Errorf("%w: sellers cannot buy their own listing", domain.ErrForbidden)
	case l.HasRejected(buyerID):
		return domain.Order{}, fmt.Errorf("%w: buyer is rejected for this listing", domain.ErrForbidden)
	}

	buyer, err := s.users.GetByID(ctx, buyerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Order{}, fmt.Errorf("%w: buyer %s", domain.ErrNotFound, buyerID)
		}
		return domain.Order{}, fmt.Errorf("listing_service: load buyer: %w", err)
	}
	if buyer.Role != domain.RoleBidder {
		return domain.Order{}, fmt.Errorf("%w: account role %q cannot buy", domain.ErrForbidden, buyer.Role)
	}

	if err := s.listings.UpdateStatus(ctx, l.ID, domain.ListingStatusSold, buyerID); err != nil {
		return domain.Order{}, fmt.Errorf("listing_service: mark sold: %w", err)
	}
	if err := s.autoBids.DeactivateByListing(ctx, l.ID); err != nil {
		s.logger.WarnContext(ctx, "order book deactivation failed",
			slog.String("listing_id", l.ID),
			slog.String("error", err.Error()),
		)
	}

	order := domain.Order{
		ID:        uuid.New().String(),
		ListingID: l.ID,
		BuyerID:   buyerID,
		SellerID:  l.SellerID,
		Amount:    *l.BuyNowPrice,
		Status:    domain.OrderStatusPending,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Order{}, fmt.Errorf("%w: listing %s already has an order", domain.ErrConflict, l.ID)
		}
		return domain.Order{}, fmt.Errorf("listing_service: create order: %w", err)
	}

	if err := s.cache.Invalidate(ctx, l.ID); err != nil {
		s.logger.WarnContext(ctx, "cache invalidate failed",
			slog.String("listing_id", l.ID),
			slog.String("error", err.Error()),
		)
	}

	s.publishListingEvent(ctx, map[string]any{
		"type":       "listing.sold",
		"listing_id": l.ID,
		"buyer_id":   buyerID,
		"price":      l.BuyNowPrice,
	})

	if err := s.audit.Log(ctx, "listing.buy_now", map[string]any{
		"listing_id": l.ID,
		"buyer_id":   buyerID,
		"price":      l.BuyNowPrice.String(),
		"order_id":   order.ID,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}

	wonMsg := fmt.Sprintf("You bought %q for %s.", l.Title, l.BuyNowPrice)
	if err := s.notifier.Notify(ctx, notify.EventListingSold, "Purchase confirmed",
		notify.To(buyer.Email, wonMsg)); err != nil {
		s.logger.WarnContext(ctx, "buyer notification failed", slog.String("error", err.Error()))
	}
	soldMsg := fmt.Sprintf("%q sold for %s via buy-now.", l.Title, l.BuyNowPrice)
	if err := s.notifier.Notify(ctx, notify.EventListingSold, "Listing sold",
		notify.To(s.emailOf(ctx, l.SellerID), soldMsg)); err != nil {
		s.logger.WarnContext(ctx, "sold notification failed", slog.String("error", err.Error()))
	}

	return order, nil
}

// emailOf resolves a user's notification address. A failed lookup returns ""
// and the message falls back to the operator alias.
func (s *ListingService) emailOf(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "recipient lookup failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return u.Email
}

func (s *ListingService) publishListingEvent(ctx context.Context, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WarnContext(ctx, "event marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, ChannelListings, data); err != nil {
		s.logger.WarnContext(ctx, "event publish failed", slog.String("error", err.Error()))
	}
}
