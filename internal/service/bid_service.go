// Package service implements the application use cases on top of the domain
// stores and the auction engine.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gavelworks/gaveld/internal/auction"
	"github.com/gavelworks/gaveld/internal/domain"
	"github.com/gavelworks/gaveld/internal/notify"
)

// Pub/sub channels carrying auction events.
const (
	ChannelBids     = "bids"
	ChannelListings = "listings"
)

// retryBackoff is the pause between settlement attempts after a lost race.
const retryBackoff = 50 * time.Millisecond

// BidServiceConfig holds the tunables for the bid path.
type BidServiceConfig struct {
	Auction       auction.Config
	SettleRetries int
	LockTTL       time.Duration
	RateLimit     int
	RateWindow    time.Duration
}

// noteProxyOutbid is attached to a bid result when the incoming bid was
// immediately topped by a standing order.
const noteProxyOutbid = "outbid by automatic bidding"

// BidResult is what a successful bid submission returns: the manual ledger
// row, the listing as it stands after settlement, and what the engine did.
type BidResult struct {
	Bid      domain.Bid     `json:"bid"`
	Listing  domain.Listing `json:"listing"`
	Extended bool           `json:"extended"`
	// Note carries the "outbid by automatic bidding" remark when it applies.
	Note        string       `json:"note,omitempty"`
	ProxyOutbid bool         `json:"-"`
	Entries     []domain.Bid `json:"entries,omitempty"`
}

// BidService runs the full bid path: admission, clock extension, proxy
// settlement, and the follow-on notifications.
type BidService struct {
	listings domain.ListingStore
	bids     domain.BidStore
	autoBids domain.AutoBidStore
	settle   domain.SettlementStore
	users    domain.UserStore
	ratings  domain.RatingStore
	orders   domain.OrderStore
	audit    domain.AuditStore
	cache    domain.ListingCache
	locks    domain.LockManager
	limiter  domain.RateLimiter
	bus      domain.SignalBus
	notifier *notify.Notifier
	cfg      BidServiceConfig
	logger   *slog.Logger
}

// NewBidService creates a BidService with all required dependencies.
func NewBidService(
	listings domain.ListingStore,
	bids domain.BidStore,
	autoBids domain.AutoBidStore,
	settle domain.SettlementStore,
	users domain.UserStore,
	ratings domain.RatingStore,
	orders domain.OrderStore,
	audit domain.AuditStore,
	cache domain.ListingCache,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	cfg BidServiceConfig,
	logger *slog.Logger,
) *BidService {
	return &BidService{
		listings: listings,
		bids:     bids,
		autoBids: autoBids,
		settle:   settle,
		users:    users,
		ratings:  ratings,
		orders:   orders,
		audit:    audit,
		cache:    cache,
		locks:    locks,
		limiter:  limiter,
		bus:      bus,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "bid_service")),
	}
}

// PlaceBid admits, settles, and commits one bid. Settlement runs under a
// per-listing lock against a versioned listing snapshot; a lost race is
// retried transparently a bounded number of times before surfacing
// ErrConflict.
func (s *BidService) PlaceBid(ctx context.Context, req auction.BidRequest) (BidResult, error) {
	// A zero limit disables the throttle entirely.
	if s.cfg.RateLimit > 0 {
		allowed, err := s.limiter.Allow(ctx, "bid:"+req.BidderID, s.cfg.RateLimit, s.cfg.RateWindow)
		if err != nil {
			return BidResult{}, fmt.Errorf("bid_service: rate limit: %w", err)
		}
		if !allowed {
			return BidResult{}, fmt.Errorf("%w: too many bids from %s", domain.ErrRateLimited, req.BidderID)
		}
	}

	bidder, err := s.users.GetByID(ctx, req.BidderID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return BidResult{}, fmt.Errorf("bid_service: load bidder: %w", err)
	}
	var bidderPtr *domain.User
	if err == nil {
		bidderPtr = &bidder
	}

	rating, err := s.ratings.Summary(ctx, req.BidderID, domain.RoleBidder)
	if err != nil {
		return BidResult{}, fmt.Errorf("bid_service: load rating: %w", err)
	}

	var res BidResult
	for attempt := 1; ; attempt++ {
		res, err = s.settleOnce(ctx, req, bidderPtr, rating)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrVersionMismatch) && !errors.Is(err, domain.ErrLockHeld) {
			return BidResult{}, err
		}
		if attempt >= s.cfg.SettleRetries {
			return BidResult{}, fmt.Errorf("%w: listing %s is under contention", domain.ErrConflict, req.ListingID)
		}

		s.logger.DebugContext(ctx, "settlement race lost, retrying",
			slog.String("listing_id", req.ListingID),
			slog.Int("attempt", attempt),
		)
		timer := time.NewTimer(retryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return BidResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	s.afterSettle(ctx, req, &res)
	return res, nil
}

// settleOnce runs a single admission + settlement attempt under the listing
// lock. It returns ErrLockHeld or ErrVersionMismatch when the attempt lost a
// race and should be retried.
func (s *BidService) settleOnce(ctx context.Context, req auction.BidRequest, bidder *domain.User, rating domain.RatingSummary) (BidResult, error) {
	unlock, err := s.locks.Acquire(ctx, "listing:"+req.ListingID, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return BidResult{}, err
		}
		return BidResult{}, fmt.Errorf("bid_service: acquire lock: %w", err)
	}
	defer unlock()

	listing, err := s.listings.GetByID(ctx, req.ListingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return BidResult{}, fmt.Errorf("%w: listing %s", domain.ErrNotFound, req.ListingID)
		}
		return BidResult{}, fmt.Errorf("bid_service: load listing: %w", err)
	}

	now := time.Now().UTC()
	st := auction.AdmissionState{
		Listing: &listing,
		Bidder:  bidder,
		Rating:  rating,
		Now:     now,
	}
	if err := auction.CheckAdmission(s.cfg.Auction, req, st); err != nil {
		return BidResult{}, err
	}

	// The clock moves as soon as the bid is admitted, before settlement, so a
	// failed commit still leaves honest extra time on the listing.
	extended := false
	if newClose, ok := auction.ShouldExtend(s.cfg.Auction, listing, now); ok {
		if err := s.listings.ExtendClose(ctx, listing.ID, newClose, now); err != nil {
			return BidResult{}, fmt.Errorf("bid_service: extend close: %w", err)
		}
		listing.CloseTime = newClose
		listing.Extensions = append(listing.Extensions, now)
		extended = true
	}

	orders, err := s.autoBids.ListActive(ctx, listing.ID)
	if err != nil {
		return BidResult{}, fmt.Errorf("bid_service: load order book: %w", err)
	}

	outcome := auction.Resolve(req.BidderID, req.Amount, listing.StepIncrement, orders)

	manual := domain.Bid{
		ID:        uuid.New().String(),
		ListingID: listing.ID,
		BidderID:  req.BidderID,
		Amount:    req.Amount,
		CreatedAt: now,
	}
	rows := make([]domain.Bid, 0, 1+len(outcome.Entries))
	rows = append(rows, manual)
	for i, e := range outcome.Entries {
		rows = append(rows, domain.Bid{
			ID:        uuid.New().String(),
			ListingID: listing.ID,
			BidderID:  e.BidderID,
			Amount:    e.Amount,
			Synthetic: true,
			// Preserve ledger ordering within the settlement.
			CreatedAt: now.Add(time.Duration(i+1) * time.Microsecond),
		})
	}

	commit := domain.SettlementCommit{
		ListingID:       listing.ID,
		ExpectedVersion: listing.Version,
		NewPrice:        outcome.FinalPrice,
		LeaderID:        outcome.LeaderID,
		Bids:            rows,
	}
	if err := s.settle.Commit(ctx, commit); err != nil {
		if errors.Is(err, domain.ErrVersionMismatch) {
			return BidResult{}, err
		}
		return BidResult{}, fmt.Errorf("bid_service: commit settlement: %w", err)
	}

	prevLeader := listing.LeaderID
	listing.CurrentPrice = outcome.FinalPrice
	listing.LeaderID = outcome.LeaderID
	listing.Version++

	res := BidResult{
		Bid:         manual,
		Listing:     listing,
		Extended:    extended,
		ProxyOutbid: outcome.ProxyOutbid,
		Entries:     rows[1:],
	}
	if outcome.ProxyOutbid {
		res.Note = noteProxyOutbid
	}

	// Register or raise the bidder's standing order once the bid is on the
	// table. The new ceiling only competes against later bids by others.
	if req.MaxPrice != nil {
		_, err := s.autoBids.Upsert(ctx, domain.AutoBid{
			ListingID:     listing.ID,
			BidderID:      req.BidderID,
			MaxAmount:     *req.MaxPrice,
			Increment:     listing.StepIncrement,
			CurrentAmount: req.Amount,
		})
		if err != nil {
			s.logger.WarnContext(ctx, "standing order upsert failed",
				slog.String("listing_id", listing.ID),
				slog.String("bidder_id", req.BidderID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.notifyOutbid(ctx, req, res, prevLeader, bidder)

	// A settled price at or above the buy-now threshold sells the listing
	// while the lock is still held, so no further bid can be admitted against
	// a listing that has already met its threshold.
	if listing.BuyNowPrice != nil && listing.CurrentPrice.GreaterThanOrEqual(*listing.BuyNowPrice) && listing.LeaderID != "" {
		if err := s.finalizeSale(ctx, listing); err != nil {
			s.logger.ErrorContext(ctx, "buy-now finalization failed",
				slog.String("listing_id", listing.ID),
				slog.String("error", err.Error()),
			)
		} else {
			res.Listing.Status = domain.ListingStatusSold
		}
	}

	return res, nil
}

// notifyOutbid alerts the displaced leader and, on a proxy outbid, the
// incoming bidder, each addressed to their own account. Delivery failures
// never fail the bid.
func (s *BidService) notifyOutbid(ctx context.Context, req auction.BidRequest, res BidResult, prevLeader string, bidder *domain.User) {
	if prevLeader != "" && prevLeader != res.Listing.LeaderID {
		msg := fmt.Sprintf("You have been outbid on %q. The price is now %s.",
			res.Listing.Title, res.Listing.CurrentPrice)
		if err := s.notifier.Notify(ctx, notify.EventOutbid, "Outbid",
			notify.To(s.emailOf(ctx, prevLeader), msg)); err != nil {
			s.logger.WarnContext(ctx, "outbid notification failed", slog.String("error", err.Error()))
		}
	}
	if res.ProxyOutbid {
		var addr string
		if bidder != nil {
			addr = bidder.Email
		}
		msg := fmt.Sprintf("Your bid of %s on %q was immediately outbid by a standing order. The price is now %s.",
			req.Amount, res.Listing.Title, res.Listing.CurrentPrice)
		if err := s.notifier.Notify(ctx, notify.EventProxyOutbid, "Outbid by proxy",
			notify.To(addr, msg)); err != nil {
			s.logger.WarnContext(ctx, "proxy outbid notification failed", slog.String("error", err.Error()))
		}
	}
}

// emailOf resolves a user's notification address. A failed lookup returns ""
// and the message falls back to the operator alias.
func (s *BidService) emailOf(ctx context.Context, userID string) string {
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

// afterSettle runs the non-critical follow-ons: cache invalidation, event
// publication, and the audit trail.
func (s *BidService) afterSettle(ctx context.Context, req auction.BidRequest, res *BidResult) {
	if err := s.cache.Invalidate(ctx, res.Listing.ID); err != nil {
		s.logger.WarnContext(ctx, "cache invalidate failed",
			slog.String("listing_id", res.Listing.ID),
			slog.String("error", err.Error()),
		)
	}

	s.publish(ctx, ChannelBids, map[string]any{
		"type":         "bid.settled",
		"listing_id":   res.Listing.ID,
		"bidder_id":    req.BidderID,
		"price":        res.Listing.CurrentPrice,
		"leader_id":    res.Listing.LeaderID,
		"proxy_outbid": res.ProxyOutbid,
		"extended":     res.Extended,
	})

	if err := s.audit.Log(ctx, "bid.placed", map[string]any{
		"listing_id":   res.Listing.ID,
		"bidder_id":    req.BidderID,
		"amount":       req.Amount.String(),
		"final_price":  res.Listing.CurrentPrice.String(),
		"leader_id":    res.Listing.LeaderID,
		"proxy_outbid": res.ProxyOutbid,
		"synthetic":    len(res.Entries),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}

// finalizeSale moves a listing to sold, retires its order book, opens the
// fulfillment order, and announces the sale.
func (s *BidService) finalizeSale(ctx context.Context, l domain.Listing) error {
	if err := s.listings.UpdateStatus(ctx, l.ID, domain.ListingStatusSold, l.LeaderID); err != nil {
		return fmt.Errorf("bid_service: mark sold: %w", err)
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
		BuyerID:   l.LeaderID,
		SellerID:  l.SellerID,
		Amount:    l.CurrentPrice,
		Status:    domain.OrderStatusPending,
	}
	if err := s.orders.Create(ctx, order); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return fmt.Errorf("bid_service: create order: %w", err)
	}

	if err := s.cache.Invalidate(ctx, l.ID); err != nil {
		s.logger.WarnContext(ctx, "cache invalidate failed",
			slog.String("listing_id", l.ID),
			slog.String("error", err.Error()),
		)
	}

	s.publish(ctx, ChannelListings, map[string]any{
		"type":       "listing.sold",
		"listing_id": l.ID,
		"buyer_id":   l.LeaderID,
		"price":      l.CurrentPrice,
	})

	if err := s.audit.Log(ctx, "listing.sold", map[string]any{
		"listing_id": l.ID,
		"buyer_id":   l.LeaderID,
		"price":      l.CurrentPrice.String(),
		"order_id":   order.ID,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}

	wonMsg := fmt.Sprintf("You won %q at %s.", l.Title, l.CurrentPrice)
	if err := s.notifier.Notify(ctx, notify.EventListingSold, "Auction won",
		notify.To(s.emailOf(ctx, l.LeaderID), wonMsg)); err != nil {
		s.logger.WarnContext(ctx, "winner notification failed", slog.String("error", err.Error()))
	}
	soldMsg := fmt.Sprintf("%q sold for %s.", l.Title, l.CurrentPrice)
	if err := s.notifier.Notify(ctx, notify.EventListingSold, "Listing sold",
		notify.To(s.emailOf(ctx, l.SellerID), soldMsg)); err != nil {
		s.logger.WarnContext(ctx, "sold notification failed", slog.String("error", err.Error()))
	}
	return nil
}

// publish serializes the payload and fires it at the bus. Failures are logged
// and swallowed; live updates are best effort.
func (s *BidService) publish(ctx context.Context, channel string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WarnContext(ctx, "event marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, channel, data); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
