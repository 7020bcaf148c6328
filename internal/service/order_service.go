package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gavelworks/gaveld/internal/domain"
	"github.com/gavelworks/gaveld/internal/notify"
)

// OrderService drives fulfillment orders through their state machine.
type OrderService struct {
	orders   domain.OrderStore
	users    domain.UserStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	orders domain.OrderStore,
	users domain.UserStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		orders:   orders,
		users:    users,
		audit:    audit,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "order_service")),
	}
}

// Get returns an order visible to either of its parties.
func (s *OrderService) Get(ctx context.Context, id, userID string) (domain.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("order_service: get %q: %w", id, err)
	}
	if o.BuyerID != userID && o.SellerID != userID {
		return domain.Order{}, fmt.Errorf("%w: order belongs to other parties", domain.ErrForbidden)
	}
	return o, nil
}

// GetByListing returns the live order for a listing, visible to either party.
func (s *OrderService) GetByListing(ctx context.Context, listingID, userID string) (domain.Order, error) {
	o, err := s.orders.GetByListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("order_service: get for listing %q: %w", listingID, err)
	}
	if o.BuyerID != userID && o.SellerID != userID {
		return domain.Order{}, fmt.Errorf("%w: order belongs to other parties", domain.ErrForbidden)
	}
	return o, nil
}

// Transition moves an order to a new status on behalf of userID. The move
// must be one the user's side of the order is allowed to make from the
// current status.
func (s *OrderService) Transition(ctx context.Context, id, userID string, to domain.OrderStatus) (domain.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("order_service: get %q: %w", id, err)
	}

	var party domain.OrderParty
	switch userID {
	case o.BuyerID:
		party = domain.PartyBuyer
	case o.SellerID:
		party = domain.PartySeller
	default:
		return domain.Order{}, fmt.Errorf("%w: order belongs to other parties", domain.ErrForbidden)
	}

	if !domain.CanTransition(party, o.Status, to) {
		return domain.Order{}, fmt.Errorf("%w: %s may not move order from %s to %s",
			domain.ErrBadTransition, party, o.Status, to)
	}

	if err := s.orders.UpdateStatus(ctx, id, to); err != nil {
		return domain.Order{}, fmt.Errorf("order_service: update status %q: %w", id, err)
	}
	from := o.Status
	o.Status = to

	payload, err := json.Marshal(map[string]any{
		"type":       "order.updated",
		"order_id":   o.ID,
		"listing_id": o.ListingID,
		"from":       from,
		"to":         to,
	})
	if err == nil {
		if pubErr := s.bus.Publish(ctx, ChannelListings, payload); pubErr != nil {
			s.logger.WarnContext(ctx, "event publish failed", slog.String("error", pubErr.Error()))
		}
	}

	if err := s.audit.Log(ctx, "order.transition", map[string]any{
		"order_id": o.ID,
		"party":    string(party),
		"from":     string(from),
		"to":       string(to),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}

	// The party who did not make the move is the one who needs to hear
	// about it.
	counterparty := o.BuyerID
	if party == domain.PartyBuyer {
		counterparty = o.SellerID
	}
	msg := fmt.Sprintf("Order %s moved from %s to %s.", o.ID, from, to)
	if err := s.notifier.Notify(ctx, notify.EventOrderUpdated, "Order updated",
		notify.To(s.emailOf(ctx, counterparty), msg)); err != nil {
		s.logger.WarnContext(ctx, "order notification failed", slog.String("error", err.Error()))
	}

	return o, nil
}

// emailOf resolves a user's notification address. A failed lookup returns ""
// and the message falls back to the operator alias.
func (s *OrderService) emailOf(ctx context.Context, userID string) string {
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
