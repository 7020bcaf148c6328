// Package pipeline contains the background loops: the close sweep that ends
// expired listings and the archive loop that moves closed ledgers to blob
// storage.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gavelworks/gaveld/internal/domain"
	"github.com/gavelworks/gaveld/internal/notify"
)

// Sweeper closes listings whose clock has run out: the leader at close wins,
// the order book retires, and a fulfillment order opens when there is a
// winner.
type Sweeper struct {
	listings  domain.ListingStore
	bids      domain.BidStore
	autoBids  domain.AutoBidStore
	users     domain.UserStore
	orders    domain.OrderStore
	audit     domain.AuditStore
	cache     domain.ListingCache
	locks     domain.LockManager
	bus       domain.SignalBus
	notifier  *notify.Notifier
	interval  time.Duration
	batchSize int
	lockTTL   time.Duration
	logger    *slog.Logger
}

// NewSweeper creates a Sweeper with all required dependencies.
func NewSweeper(
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
	interval time.Duration,
	batchSize int,
	lockTTL time.Duration,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		listings:  listings,
		bids:      bids,
		autoBids:  autoBids,
		users:     users,
		orders:    orders,
		audit:     audit,
		cache:     cache,
		locks:     locks,
		bus:       bus,
		notifier:  notifier,
		interval:  interval,
		batchSize: batchSize,
		lockTTL:   lockTTL,
		logger:    logger.With(slog.String("component", "sweeper")),
	}
}

// Run executes the sweep loop until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("sweeper started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep runs one pass: every active listing whose close time has passed is
// closed. Listings that cannot be locked are skipped and picked up on the
// next pass.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := time.Now().UTC()

	expired, err := s.listings.ListExpired(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("sweeper: list expired: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	var closed int
	for i := range expired {
		if err := s.closeListing(ctx, expired[i]); err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				continue
			}
			s.logger.Error("close failed",
				slog.String("listing_id", expired[i].ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		closed++
	}

	s.logger.Info("sweep complete",
		slog.Int("expired", len(expired)),
		slog.Int("closed", closed),
	)
	return nil
}

// closeListing ends one expired listing under the same per-listing lock the
// bid path uses, so a close never races a settlement.
func (s *Sweeper) closeListing(ctx context.Context, l domain.Listing) error {
	unlock, err := s.locks.Acquire(ctx, "listing:"+l.ID, s.lockTTL)
	if err != nil {
		return err
	}
	defer unlock()

	// Re-read under the lock: a bid in the window may have extended the clock
	// or a buy-now may have sold the listing already.
	l, err = s.listings.GetByID(ctx, l.ID)
	if err != nil {
		return fmt.Errorf("reload listing: %w", err)
	}
	now := time.Now().UTC()
	if l.Status != domain.ListingStatusActive || now.Before(l.CloseTime) {
		return nil
	}

	status := domain.ListingStatusEnded
	winner := ""
	top, err := s.bids.Top(ctx, l.ID)
	switch {
	case err == nil:
		status = domain.ListingStatusSold
		winner = top.BidderID
	case errors.Is(err, domain.ErrNotFound):
		// No bids: the listing ends unsold.
	default:
		return fmt.Errorf("top bid: %w", err)
	}

	if err := s.listings.UpdateStatus(ctx, l.ID, status, winner); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if err := s.autoBids.DeactivateByListing(ctx, l.ID); err != nil {
		s.logger.Warn("order book deactivation failed",
			slog.String("listing_id", l.ID),
			slog.String("error", err.Error()),
		)
	}

	var orderID string
	if status == domain.ListingStatusSold {
		order := domain.Order{
			ID:        uuid.New().String(),
			ListingID: l.ID,
			BuyerID:   winner,
			SellerID:  l.SellerID,
			Amount:    top.Amount,
			Status:    domain.OrderStatusPending,
		}
		if err := s.orders.Create(ctx, order); err != nil {
			if !errors.Is(err, domain.ErrAlreadyExists) {
				return fmt.Errorf("create order: %w", err)
			}
		} else {
			orderID = order.ID
		}
	}

	if err := s.cache.Invalidate(ctx, l.ID); err != nil {
		s.logger.Warn("cache invalidate failed",
			slog.String("listing_id", l.ID),
			slog.String("error", err.Error()),
		)
	}

	s.publishClose(ctx, l, status, winner)

	if err := s.audit.Log(ctx, "listing.closed", map[string]any{
		"listing_id": l.ID,
		"status":     string(status),
		"winner_id":  winner,
		"order_id":   orderID,
	}); err != nil {
		s.logger.Warn("audit log failed", slog.String("error", err.Error()))
	}

	if status == domain.ListingStatusSold {
		wonMsg := fmt.Sprintf("You won %q at %s.", l.Title, top.Amount)
		if err := s.notifier.Notify(ctx, notify.EventListingSold, "Auction won",
			notify.To(s.emailOf(ctx, winner), wonMsg)); err != nil {
			s.logger.Warn("winner notification failed", slog.String("error", err.Error()))
		}
		soldMsg := fmt.Sprintf("%q sold for %s.", l.Title, top.Amount)
		if err := s.notifier.Notify(ctx, notify.EventListingSold, "Listing sold",
			notify.To(s.emailOf(ctx, l.SellerID), soldMsg)); err != nil {
			s.logger.Warn("sold notification failed", slog.String("error", err.Error()))
		}
	} else {
		msg := fmt.Sprintf("%q ended without a winner.", l.Title)
		if err := s.notifier.Notify(ctx, notify.EventListingClosed, "Listing ended",
			notify.To(s.emailOf(ctx, l.SellerID), msg)); err != nil {
			s.logger.Warn("close notification failed", slog.String("error", err.Error()))
		}
	}

	return nil
}

// emailOf resolves a user's notification address. A failed lookup returns ""
// and the message falls back to the operator alias.
func (s *Sweeper) emailOf(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		s.logger.Warn("recipient lookup failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return u.Email
}

func (s *Sweeper) publishClose(ctx context.Context, l domain.Listing, status domain.ListingStatus, winner string) {
	payload, err := json.Marshal(map[string]any{
		"type":       "listing.closed",
		"listing_id": l.ID,
		"status":     status,
		"winner_id":  winner,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, "listings", payload); err != nil {
		s.logger.Warn("event publish failed", slog.String("error", err.Error()))
	}
}
