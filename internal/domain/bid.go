package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid is an immutable ledger fact. Synthetic marks rows the settlement engine
// created itself while resolving standing auto-bid orders; they are ordinary
// ledger entries in every other respect.
type Bid struct {
	ID        string          `json:"id"`
	ListingID string          `json:"listing_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Synthetic bool            `json:"synthetic"`
	CreatedAt time.Time       `json:"created_at"`
}
