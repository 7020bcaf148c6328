package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ListingStatus is the lifecycle state of a listing.
type ListingStatus string

const (
	ListingStatusActive ListingStatus = "active"
	ListingStatusEnded  ListingStatus = "ended"
	ListingStatusSold   ListingStatus = "sold"
)

// Listing is an auctionable item. CurrentPrice is a denormalized projection of
// the bid ledger: once at least one bid exists it always equals the amount of
// the most recent accepted bid. Version guards the read-modify-write cycle on
// the price/leader pair.
type Listing struct {
	ID              string           `json:"id"`
	SellerID        string           `json:"seller_id"`
	Title           string           `json:"title"`
	StartingPrice   decimal.Decimal  `json:"starting_price"`
	CurrentPrice    decimal.Decimal  `json:"current_price"`
	StepIncrement   decimal.Decimal  `json:"step_increment"`
	BuyNowPrice     *decimal.Decimal `json:"buy_now_price,omitempty"`
	LeaderID        string           `json:"leader_id,omitempty"`
	CloseTime       time.Time        `json:"close_time"`
	Status          ListingStatus    `json:"status"`
	AutoExtend      bool             `json:"auto_extend"`
	Extensions      []time.Time      `json:"extensions,omitempty"`
	RejectedBidders []string         `json:"rejected_bidders,omitempty"`
	AllowUnrated    bool             `json:"allow_unrated"`
	Version         int64            `json:"version"`
	ArchivedAt      *time.Time       `json:"archived_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// MinAcceptableBid is the smallest amount a new bid may carry: the current
// price plus one step increment.
func (l Listing) MinAcceptableBid() decimal.Decimal {
	return l.CurrentPrice.Add(l.StepIncrement)
}

// IsOpen reports whether the listing can accept bids at the given instant.
func (l Listing) IsOpen(now time.Time) bool {
	return l.Status == ListingStatusActive && now.Before(l.CloseTime)
}

// HasRejected reports whether the bidder appears on the listing's
// rejected-bidder list.
func (l Listing) HasRejected(bidderID string) bool {
	for _, id := range l.RejectedBidders {
		if id == bidderID {
			return true
		}
	}
	return false
}
