package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ListingStore persists listings.
type ListingStore interface {
	Create(ctx context.Context, l Listing) error
	GetByID(ctx context.Context, id string) (Listing, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Listing, error)
	// ListExpired returns active listings whose close time is at or before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Listing, error)
	// ListClosedUnarchived returns ended/sold listings closed before the cutoff
	// that have not yet been archived.
	ListClosedUnarchived(ctx context.Context, before time.Time, limit int) ([]Listing, error)
	// ExtendClose pushes the close time forward and records the extension
	// event. The new close time must be later than the current one.
	ExtendClose(ctx context.Context, id string, newClose, at time.Time) error
	// UpdateStatus moves the listing to a terminal status and records the
	// final leader, if any.
	UpdateStatus(ctx context.Context, id string, status ListingStatus, leaderID string) error
	MarkArchived(ctx context.Context, id string, at time.Time) error
}

// BidStore is the append-only bid ledger.
type BidStore interface {
	Append(ctx context.Context, b Bid) error
	// ListByListing returns the ledger for a listing ordered by amount
	// descending, ties by earliest creation: the current leader comes first.
	ListByListing(ctx context.Context, listingID string, opts ListOpts) ([]Bid, error)
	// Top returns the leading bid, or ErrNotFound when the ledger is empty.
	Top(ctx context.Context, listingID string) (Bid, error)
	CountByListing(ctx context.Context, listingID string) (int64, error)
}

// AutoBidStore is the standing-order book. Upsert enforces the at-most-one
// active order per (listing, bidder) invariant by updating in place.
type AutoBidStore interface {
	Upsert(ctx context.Context, ab AutoBid) (AutoBid, error)
	Update(ctx context.Context, id int64, upd AutoBidUpdate) (AutoBid, error)
	Deactivate(ctx context.Context, id int64) error
	DeactivateByListing(ctx context.Context, listingID string) error
	GetByID(ctx context.Context, id int64) (AutoBid, error)
	GetByPair(ctx context.Context, listingID, bidderID string) (AutoBid, error)
	ListActive(ctx context.Context, listingID string) ([]AutoBid, error)
}

// SettlementCommit is the atomic write set produced by one settlement run:
// every ledger row to append (manual bid first, then synthetic rows in
// creation order) plus the new price/leader projection on the listing.
type SettlementCommit struct {
	ListingID string
	// ExpectedVersion is the listing version the settlement was computed
	// against; the commit fails with ErrVersionMismatch if the row has moved.
	ExpectedVersion int64
	NewPrice        decimal.Decimal
	LeaderID        string
	Bids            []Bid
}

// SettlementStore commits a settlement atomically: all ledger appends, the
// listing price/leader CAS, and standing-order committed-amount updates happen
// in one transaction or not at all.
type SettlementStore interface {
	Commit(ctx context.Context, sc SettlementCommit) error
}

// UserStore reads marketplace accounts.
type UserStore interface {
	GetByID(ctx context.Context, id string) (User, error)
}

// RatingStore reads aggregate rating summaries.
type RatingStore interface {
	// Summary aggregates positive/total rating counts for the user restricted
	// to ratings received in the given role.
	Summary(ctx context.Context, userID string, role Role) (RatingSummary, error)
}

// OrderStore persists fulfillment orders.
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	GetByListing(ctx context.Context, listingID string) (Order, error)
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
