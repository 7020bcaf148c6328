package auction

import (
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"

	"github.com/gavelworks/gaveld/internal/domain"
)

var testCfg = Config{
	MinPositiveRatio:  0.8,
	AutoExtendEnabled: true,
	AutoExtendWindow:  5 * time.Minute,
	AutoExtendBy:      10 * time.Minute,
}

func openListing(now time.Time) domain.Listing {
	return domain.Listing{
		ID:            "listing-1",
		SellerID:      "seller-1",
		StartingPrice: dec("90"),
		CurrentPrice:  dec("90"),
		StepIncrement: dec("10"),
		CloseTime:     now.Add(time.Hour),
		Status:        domain.ListingStatusActive,
		AutoExtend:    true,
		AllowUnrated:  true,
	}
}

func bidder() domain.User {
	return domain.User{ID: "carol", Role: domain.RoleBidder}
}

func admit(t *testing.T, mutate func(*domain.Listing, *domain.User, *AdmissionState, *BidRequest)) error {
	t.Helper()
	now := time.Now().UTC()
	l := openListing(now)
	u := bidder()
	st := AdmissionState{Listing: &l, Bidder: &u, Now: now}
	req := BidRequest{ListingID: l.ID, BidderID: u.ID, Amount: dec("100")}
	if mutate != nil {
		mutate(&l, &u, &st, &req)
	}
	return CheckAdmission(testCfg, req, st)
}

func TestCheckAdmission_Accepts(t *testing.T) {
	check.Nil(t, admit(t, nil))
}

func TestCheckAdmission_ListingMissing(t *testing.T) {
	err := admit(t, func(_ *domain.Listing, _ *domain.User, st *AdmissionState, _ *BidRequest) {
		st.Listing = nil
	})
	check.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCheckAdmission_ListingEnded(t *testing.T) {
	err := admit(t, func(l *domain.Listing, _ *domain.User, st *AdmissionState, _ *BidRequest) {
		l.CloseTime = st.Now.Add(-time.Minute)
	})
	check.True(t, errors.Is(err, domain.ErrListingClosed))

	err = admit(t, func(l *domain.Listing, _ *domain.User, _ *AdmissionState, _ *BidRequest) {
		l.Status = domain.ListingStatusSold
	})
	check.True(t, errors.Is(err, domain.ErrListingClosed))
}

func TestCheckAdmission_BidderMissingOrWrongRole(t *testing.T) {
	err := admit(t, func(_ *domain.Listing, _ *domain.User, st *AdmissionState, _ *BidRequest) {
		st.Bidder = nil
	})
	check.True(t, errors.Is(err, domain.ErrNotFound))

	err = admit(t, func(_ *domain.Listing, u *domain.User, _ *AdmissionState, _ *BidRequest) {
		u.Role = domain.RoleSeller
	})
	check.True(t, errors.Is(err, domain.ErrForbidden))
}

func TestCheckAdmission_SelfBid(t *testing.T) {
	err := admit(t, func(l *domain.Listing, _ *domain.User, _ *AdmissionState, req *BidRequest) {
		l.SellerID = req.BidderID
	})
	check.True(t, errors.Is(err, domain.ErrForbidden))
}

func TestCheckAdmission_RejectedBidderBeatsPerfectRating(t *testing.T) {
	// The rejection list is checked before the rating gate, so even a perfect
	// record is rejected.
	err := admit(t, func(l *domain.Listing, _ *domain.User, st *AdmissionState, req *BidRequest) {
		l.RejectedBidders = []string{req.BidderID}
		st.Rating = domain.RatingSummary{Positive: 50, Total: 50}
	})
	check.True(t, errors.Is(err, domain.ErrForbidden))
}

func TestCheckAdmission_RatingGate(t *testing.T) {
	// Rated below the minimum ratio.
	err := admit(t, func(_ *domain.Listing, _ *domain.User, st *AdmissionState, _ *BidRequest) {
		st.Rating = domain.RatingSummary{Positive: 7, Total: 10}
	})
	check.True(t, errors.Is(err, domain.ErrForbidden))

	// Rated at the minimum passes.
	err = admit(t, func(_ *domain.Listing, _ *domain.User, st *AdmissionState, _ *BidRequest) {
		st.Rating = domain.RatingSummary{Positive: 8, Total: 10}
	})
	check.Nil(t, err)

	// Unrated on a listing that disallows unrated bidders fails even though
	// every other condition passes.
	err = admit(t, func(l *domain.Listing, _ *domain.User, _ *AdmissionState, _ *BidRequest) {
		l.AllowUnrated = false
	})
	check.True(t, errors.Is(err, domain.ErrForbidden))
}

func TestCheckAdmission_AmountBelowMinimum(t *testing.T) {
	err := admit(t, func(_ *domain.Listing, _ *domain.User, _ *AdmissionState, req *BidRequest) {
		req.Amount = dec("99")
	})
	check.True(t, errors.Is(err, domain.ErrInvalidBid))
}

func TestCheckAdmission_CeilingRules(t *testing.T) {
	// Ceiling must exceed the amount.
	err := admit(t, func(_ *domain.Listing, _ *domain.User, _ *AdmissionState, req *BidRequest) {
		mp := dec("100")
		req.MaxPrice = &mp
	})
	check.True(t, errors.Is(err, domain.ErrInvalidBid))

	// Ceiling only attaches to a bid at exactly the minimum increment.
	err = admit(t, func(_ *domain.Listing, _ *domain.User, _ *AdmissionState, req *BidRequest) {
		req.Amount = dec("150")
		mp := dec("500")
		req.MaxPrice = &mp
	})
	check.True(t, errors.Is(err, domain.ErrInvalidBid))

	// Well-formed ceiling at the minimum passes.
	err = admit(t, func(_ *domain.Listing, _ *domain.User, _ *AdmissionState, req *BidRequest) {
		mp := dec("500")
		req.MaxPrice = &mp
	})
	check.Nil(t, err)
}

func TestShouldExtend(t *testing.T) {
	now := time.Now().UTC()
	l := openListing(now)

	// Well outside the window: no extension.
	_, ok := ShouldExtend(testCfg, l, now)
	check.False(t, ok)

	// Inside the window: pushed forward by the configured extension.
	l.CloseTime = now.Add(3 * time.Minute)
	newClose, ok := ShouldExtend(testCfg, l, now)
	check.True(t, ok)
	check.Equal(t, l.CloseTime.Add(10*time.Minute), newClose)

	// Master switch off.
	off := testCfg
	off.AutoExtendEnabled = false
	_, ok = ShouldExtend(off, l, now)
	check.False(t, ok)

	// Listing opted out.
	l.AutoExtend = false
	_, ok = ShouldExtend(testCfg, l, now)
	check.False(t, ok)
}
