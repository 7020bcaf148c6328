package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfillment state of a completed purchase.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderParty identifies which side of the order requests a transition.
type OrderParty string

const (
	PartyBuyer  OrderParty = "buyer"
	PartySeller OrderParty = "seller"
)

// Order is a fulfillment record created once a listing sells, either through
// buy-now or at auction close. The status flow is linear:
// pending -> paid -> shipped -> delivered -> completed, with cancellation
// possible before shipment.
type Order struct {
	ID        string          `json:"id"`
	ListingID string          `json:"listing_id"`
	BuyerID   string          `json:"buyer_id"`
	SellerID  string          `json:"seller_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type transition struct {
	party OrderParty
	from  OrderStatus
	to    OrderStatus
}

// orderTransitions enumerates every allowed (party, from, to) move. Anything
// absent from the table is rejected.
var orderTransitions = map[transition]bool{
	{PartyBuyer, OrderStatusPending, OrderStatusPaid}:       true,
	{PartyBuyer, OrderStatusPending, OrderStatusCancelled}:  true,
	{PartySeller, OrderStatusPending, OrderStatusCancelled}: true,
	{PartySeller, OrderStatusPaid, OrderStatusShipped}:      true,
	{PartySeller, OrderStatusPaid, OrderStatusCancelled}:    true,
	{PartyBuyer, OrderStatusShipped, OrderStatusDelivered}:  true,
	{PartyBuyer, OrderStatusDelivered, OrderStatusCompleted}: true,
}

// CanTransition reports whether the given party may move an order from one
// status to another.
func CanTransition(party OrderParty, from, to OrderStatus) bool {
	return orderTransitions[transition{party, from, to}]
}
