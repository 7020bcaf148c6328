// Package auction contains the bid admission checker and the proxy-bid
// settlement engine. Both are pure functions over snapshots loaded by the
// service layer; they perform no I/O, which keeps every price decision
// deterministic and directly testable.
package auction

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gavelworks/gaveld/internal/domain"
)

// Config holds the tunable admission and clock-extension parameters.
type Config struct {
	// MinPositiveRatio is the minimum positive-rating share a rated bidder
	// must hold to bid.
	MinPositiveRatio float64
	// AutoExtendEnabled is the master switch for close-time extension.
	AutoExtendEnabled bool
	// AutoExtendWindow: a bid arriving this close to the close time triggers
	// an extension.
	AutoExtendWindow time.Duration
	// AutoExtendBy is how far each extension pushes the close time.
	AutoExtendBy time.Duration
}

// BidRequest is a submitted bid before admission. MaxPrice, when set, opts the
// bidder into auto-bidding up to that ceiling.
type BidRequest struct {
	ListingID string
	BidderID  string
	Amount    decimal.Decimal
	MaxPrice  *decimal.Decimal
}

// AdmissionState is the snapshot admission evaluates against. Listing and
// Bidder are nil when the corresponding record does not exist.
type AdmissionState struct {
	Listing *domain.Listing
	Bidder  *domain.User
	Rating  domain.RatingSummary
	Now     time.Time
}

// CheckAdmission validates a bid request against listing state, bidder state
// and the rating policy. Checks run in a fixed order and the first failure
// wins; the returned error wraps the matching domain sentinel so callers can
// map it to a transport status.
func CheckAdmission(cfg Config, req BidRequest, st AdmissionState) error {
	if st.Listing == nil {
		return fmt.Errorf("%w: listing %s", domain.ErrNotFound, req.ListingID)
	}
	l := *st.Listing

	if !l.IsOpen(st.Now) {
		return fmt.Errorf("%w: listing %s is not active or already ended", domain.ErrListingClosed, l.ID)
	}

	if st.Bidder == nil {
		return fmt.Errorf("%w: bidder %s", domain.ErrNotFound, req.BidderID)
	}
	if st.Bidder.Role != domain.RoleBidder {
		return fmt.Errorf("%w: account role %q cannot bid", domain.ErrForbidden, st.Bidder.Role)
	}

	if req.BidderID == l.SellerID {
		return fmt.Errorf("%w: sellers cannot bid on their own listing", domain.ErrForbidden)
	}

	if l.HasRejected(req.BidderID) {
		return fmt.Errorf("%w: bidder is rejected for this listing", domain.ErrForbidden)
	}

	if st.Rating.Total > 0 {
		if st.Rating.Ratio() < cfg.MinPositiveRatio {
			return fmt.Errorf("%w: positive rating ratio %.2f below required %.2f",
				domain.ErrForbidden, st.Rating.Ratio(), cfg.MinPositiveRatio)
		}
	} else if !l.AllowUnrated {
		return fmt.Errorf("%w: listing does not accept unrated bidders", domain.ErrForbidden)
	}

	minAccept := l.MinAcceptableBid()
	if req.Amount.LessThan(minAccept) {
		return fmt.Errorf("%w: amount %s below minimum %s",
			domain.ErrInvalidBid, req.Amount, minAccept)
	}

	if req.MaxPrice != nil {
		if !req.MaxPrice.GreaterThan(req.Amount) {
			return fmt.Errorf("%w: max price %s must exceed bid amount %s",
				domain.ErrInvalidBid, req.MaxPrice, req.Amount)
		}
		// A ceiling may only ride on a bid placed at exactly the minimum
		// increment; manual jumps and delegated auto-bidding do not mix.
		if !req.Amount.Equal(minAccept) {
			return fmt.Errorf("%w: a max price requires the bid to equal the minimum %s",
				domain.ErrInvalidBid, minAccept)
		}
	}

	return nil
}

// ShouldExtend reports whether an admitted bid landing now must push the
// listing's close time, and to when. Extensions are cumulative: each admitted
// bid inside the window extends again.
func ShouldExtend(cfg Config, l domain.Listing, now time.Time) (time.Time, bool) {
	if !cfg.AutoExtendEnabled || !l.AutoExtend {
		return time.Time{}, false
	}
	if l.CloseTime.Sub(now) > cfg.AutoExtendWindow {
		return time.Time{}, false
	}
	return l.CloseTime.Add(cfg.AutoExtendBy), true
}
