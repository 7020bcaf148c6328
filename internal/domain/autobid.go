package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AutoBid is a standing maximum-bid order: the ceiling a bidder has committed
// to reach on a listing, bid up automatically on their behalf. At most one
// active AutoBid exists per (listing, bidder) pair. The surrogate ID doubles
// as the settlement tie-breaker: lower means registered earlier.
type AutoBid struct {
	ID            int64           `json:"id"`
	ListingID     string          `json:"listing_id"`
	BidderID      string          `json:"bidder_id"`
	MaxAmount     decimal.Decimal `json:"max_amount"`
	Increment     decimal.Decimal `json:"increment"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// AutoBidUpdate carries a partial update; nil fields are left unchanged.
type AutoBidUpdate struct {
	MaxAmount *decimal.Decimal
	Increment *decimal.Decimal
	Active    *bool
}
