package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gavelworks/gaveld/internal/domain"
)

// AutoBidService manages the standing-order book outside the bid path.
type AutoBidService struct {
	listings domain.ListingStore
	autoBids domain.AutoBidStore
	users    domain.UserStore
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewAutoBidService creates an AutoBidService with all required dependencies.
func NewAutoBidService(
	listings domain.ListingStore,
	autoBids domain.AutoBidStore,
	users domain.UserStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *AutoBidService {
	return &AutoBidService{
		listings: listings,
		autoBids: autoBids,
		users:    users,
		audit:    audit,
		logger:   logger.With(slog.String("component", "autobid_service")),
	}
}

// Register creates or raises the bidder's standing order on an open listing.
// The ceiling does not compete until the next bid arrives on the listing.
func (s *AutoBidService) Register(ctx context.Context, listingID, bidderID string, maxAmount, increment decimal.Decimal) (domain.AutoBid, error) {
	l, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.AutoBid{}, fmt.Errorf("%w: listing %s", domain.ErrNotFound, listingID)
		}
		return domain.AutoBid{}, fmt.Errorf("autobid_service: load listing: %w", err)
	}
	if !l.IsOpen(time.Now().UTC()) {
		return domain.AutoBid{}, fmt.Errorf("%w: listing %s is not active or already ended", domain.ErrListingClosed, l.ID)
	}
	if bidderID == l.SellerID {
		return domain.AutoBid{}, fmt.Errorf("%w: sellers cannot bid on their own listing", domain.ErrForbidden)
	}
	if l.HasRejected(bidderID) {
		return domain.AutoBid{}, fmt.Errorf("%w: bidder is rejected for this listing", domain.ErrForbidden)
	}

	bidder, err := s.users.GetByID(ctx, bidderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.AutoBid{}, fmt.Errorf("%w: bidder %s", domain.ErrNotFound, bidderID)
		}
		return domain.AutoBid{}, fmt.Errorf("autobid_service: load bidder: %w", err)
	}
	if bidder.Role != domain.RoleBidder {
		return domain.AutoBid{}, fmt.Errorf("%w: account role %q cannot bid", domain.ErrForbidden, bidder.Role)
	}

	if !maxAmount.GreaterThan(l.CurrentPrice) {
		return domain.AutoBid{}, fmt.Errorf("%w: max amount %s must exceed the current price %s",
			domain.ErrInvalidBid, maxAmount, l.CurrentPrice)
	}
	if increment.IsZero() {
		increment = l.StepIncrement
	}
	if !increment.IsPositive() {
		return domain.AutoBid{}, fmt.Errorf("%w: increment must be positive", domain.ErrInvalidBid)
	}

	ab, err := s.autoBids.Upsert(ctx, domain.AutoBid{
		ListingID:     listingID,
		BidderID:      bidderID,
		MaxAmount:     maxAmount,
		Increment:     increment,
		CurrentAmount: decimal.Zero,
	})
	if err != nil {
		return domain.AutoBid{}, fmt.Errorf("autobid_service: upsert: %w", err)
	}

	if err := s.audit.Log(ctx, "autobid.registered", map[string]any{
		"listing_id": listingID,
		"bidder_id":  bidderID,
		"max_amount": maxAmount.String(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}

	return ab, nil
}

// Get returns the bidder's standing order, enforcing ownership.
func (s *AutoBidService) Get(ctx context.Context, id int64, bidderID string) (domain.AutoBid, error) {
	ab, err := s.autoBids.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.AutoBid{}, err
		}
		return domain.AutoBid{}, fmt.Errorf("autobid_service: get %d: %w", id, err)
	}
	if ab.BidderID != bidderID {
		return domain.AutoBid{}, fmt.Errorf("%w: standing order belongs to another bidder", domain.ErrForbidden)
	}
	return ab, nil
}

// GetByPair returns the bidder's active standing order on a listing.
func (s *AutoBidService) GetByPair(ctx context.Context, listingID, bidderID string) (domain.AutoBid, error) {
	ab, err := s.autoBids.GetByPair(ctx, listingID, bidderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.AutoBid{}, err
		}
		return domain.AutoBid{}, fmt.Errorf("autobid_service: get pair (%s, %s): %w", listingID, bidderID, err)
	}
	return ab, nil
}

// Update applies a partial update to the bidder's standing order.
func (s *AutoBidService) Update(ctx context.Context, id int64, bidderID string, upd domain.AutoBidUpdate) (domain.AutoBid, error) {
	cur, err := s.Get(ctx, id, bidderID)
	if err != nil {
		return domain.AutoBid{}, err
	}

	if upd.MaxAmount != nil {
		// A lowered ceiling must still cover what the order has already bid.
		if upd.MaxAmount.LessThan(cur.CurrentAmount) {
			return domain.AutoBid{}, fmt.Errorf("%w: max amount %s below already committed %s",
				domain.ErrInvalidBid, upd.MaxAmount, cur.CurrentAmount)
		}
		if !upd.MaxAmount.IsPositive() {
			return domain.AutoBid{}, fmt.Errorf("%w: max amount must be positive", domain.ErrInvalidBid)
		}
	}
	if upd.Increment != nil && !upd.Increment.IsPositive() {
		return domain.AutoBid{}, fmt.Errorf("%w: increment must be positive", domain.ErrInvalidBid)
	}

	ab, err := s.autoBids.Update(ctx, id, upd)
	if err != nil {
		return domain.AutoBid{}, fmt.Errorf("autobid_service: update %d: %w", id, err)
	}

	if err := s.audit.Log(ctx, "autobid.updated", map[string]any{
		"autobid_id": id,
		"bidder_id":  bidderID,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}

	return ab, nil
}

// Cancel retires the bidder's standing order. Ledger rows it already produced
// stand; only future automation stops.
func (s *AutoBidService) Cancel(ctx context.Context, id int64, bidderID string) error {
	if _, err := s.Get(ctx, id, bidderID); err != nil {
		return err
	}
	if err := s.autoBids.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("autobid_service: deactivate %d: %w", id, err)
	}

	if err := s.audit.Log(ctx, "autobid.cancelled", map[string]any{
		"autobid_id": id,
		"bidder_id":  bidderID,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
	return nil
}
