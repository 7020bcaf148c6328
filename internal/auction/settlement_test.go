package auction

import (
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/gavelworks/gaveld/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func autoBid(id int64, bidder, max string) domain.AutoBid {
	return domain.AutoBid{
		ID:        id,
		ListingID: "listing-1",
		BidderID:  bidder,
		MaxAmount: dec(max),
		Active:    true,
	}
}

func TestResolve_NoStandingOrders(t *testing.T) {
	out := Resolve("carol", dec("100"), dec("10"), nil)

	check.Equal(t, "carol", out.LeaderID)
	check.True(t, out.FinalPrice.Equal(dec("100")))
	check.False(t, out.ProxyOutbid)
	check.Equal(t, 0, len(out.Entries))
}

func TestResolve_NoContention_CeilingsBelowThreshold(t *testing.T) {
	// A ceiling inside (amount, amount+step) cannot outbid by a full
	// increment, so the manual bid stands as-is.
	orders := []domain.AutoBid{autoBid(1, "alice", "105")}

	out := Resolve("carol", dec("100"), dec("10"), orders)

	check.Equal(t, "carol", out.LeaderID)
	check.True(t, out.FinalPrice.Equal(dec("100")))
	check.Equal(t, 0, len(out.Entries))
}

func TestResolve_ProxyWar_RunnerUpThenWinner(t *testing.T) {
	// Current price 90, step 10, minimum accept 100. Carol bids 100 against
	// standing ceilings alice=500 and bob=300: bob pushes to 300, alice takes
	// the listing at 310.
	orders := []domain.AutoBid{
		autoBid(1, "alice", "500"),
		autoBid(2, "bob", "300"),
	}

	out := Resolve("carol", dec("100"), dec("10"), orders)

	assert.Equal(t, 2, len(out.Entries))
	check.Equal(t, "bob", out.Entries[0].BidderID)
	check.True(t, out.Entries[0].Amount.Equal(dec("300")))
	check.Equal(t, "alice", out.Entries[1].BidderID)
	check.True(t, out.Entries[1].Amount.Equal(dec("310")))

	check.Equal(t, "alice", out.LeaderID)
	check.True(t, out.FinalPrice.Equal(dec("310")))
	check.True(t, out.ProxyOutbid)
}

func TestResolve_SingleStandingOrder(t *testing.T) {
	orders := []domain.AutoBid{autoBid(1, "alice", "200")}

	out := Resolve("carol", dec("100"), dec("10"), orders)

	// Carol is the runner-up at 100; no push row is possible below
	// 100+step, so only the winner row appears.
	assert.Equal(t, 1, len(out.Entries))
	check.Equal(t, "alice", out.Entries[0].BidderID)
	check.True(t, out.Entries[0].Amount.Equal(dec("110")))
	check.Equal(t, "alice", out.LeaderID)
	check.True(t, out.ProxyOutbid)
}

func TestResolve_OwnStandingOrderNeverCompetes(t *testing.T) {
	// Carol's own registered ceiling must not bid against her new manual bid.
	orders := []domain.AutoBid{autoBid(1, "carol", "500")}

	out := Resolve("carol", dec("100"), dec("10"), orders)

	check.Equal(t, "carol", out.LeaderID)
	check.True(t, out.FinalPrice.Equal(dec("100")))
	check.Equal(t, 0, len(out.Entries))
}

func TestResolve_ExactTie_EarlierRegistrationWins(t *testing.T) {
	orders := []domain.AutoBid{
		autoBid(7, "bob", "300"),
		autoBid(3, "alice", "300"),
	}

	out := Resolve("carol", dec("100"), dec("10"), orders)

	// alice registered first (lower id) so she wins the tie and pays her
	// full ceiling; bob pushes to finalPrice-step.
	check.Equal(t, "alice", out.LeaderID)
	check.True(t, out.FinalPrice.Equal(dec("300")))
	assert.Equal(t, 2, len(out.Entries))
	check.Equal(t, "bob", out.Entries[0].BidderID)
	check.True(t, out.Entries[0].Amount.Equal(dec("290")))
}

func TestResolve_ManualBidLosesExactTieToStandingOrder(t *testing.T) {
	// A fresh manual bid at the same ceiling as a registered order loses the
	// tie: existing ceilings are preferred.
	orders := []domain.AutoBid{autoBid(1, "alice", "100")}

	out := Resolve("carol", dec("100"), dec("10"), orders)

	// alice's ceiling equals the bid; she cannot outbid by a full increment,
	// so no contention and carol keeps the listing.
	check.Equal(t, "carol", out.LeaderID)
	check.Equal(t, 0, len(out.Entries))
}

func TestResolve_WinnerCappedByOwnCeiling(t *testing.T) {
	// Winner's ceiling is less than runner-up ceiling + step: pays own ceiling.
	orders := []domain.AutoBid{
		autoBid(1, "alice", "305"),
		autoBid(2, "bob", "300"),
	}

	out := Resolve("carol", dec("100"), dec("10"), orders)

	check.Equal(t, "alice", out.LeaderID)
	check.True(t, out.FinalPrice.Equal(dec("305")))
	assert.Equal(t, 2, len(out.Entries))
	check.True(t, out.Entries[0].Amount.Equal(dec("295")))
}

func TestResolve_DuplicateOrdersCollapseToHighest(t *testing.T) {
	// The book should never hold two active orders per pair, but if it does
	// the duplicates must collapse to the single highest ceiling.
	orders := []domain.AutoBid{
		autoBid(1, "alice", "200"),
		autoBid(4, "alice", "400"),
	}

	out := Resolve("carol", dec("100"), dec("10"), orders)

	check.Equal(t, "alice", out.LeaderID)
	check.True(t, out.FinalPrice.Equal(dec("110")))
	assert.Equal(t, 1, len(out.Entries))
}

func TestResolve_InvalidOrdersFiltered(t *testing.T) {
	orders := []domain.AutoBid{
		{ID: 0, BidderID: "ghost", MaxAmount: dec("900"), Active: true},
		{ID: 5, BidderID: "zero", MaxAmount: decimal.Zero, Active: true},
	}

	out := Resolve("carol", dec("100"), dec("10"), orders)

	check.Equal(t, "carol", out.LeaderID)
	check.Equal(t, 0, len(out.Entries))
}

func TestResolve_PriceMonotonicAcrossSequence(t *testing.T) {
	// Replay a sequence of manual bids through the engine and confirm the
	// public price never decreases.
	orders := []domain.AutoBid{
		autoBid(1, "alice", "500"),
		autoBid(2, "bob", "320"),
	}
	step := dec("10")

	price := dec("90")
	bids := []struct {
		bidder string
		amount decimal.Decimal
	}{
		{"carol", dec("100")},
		{"dave", dec("340")},
		{"erin", dec("520")},
	}

	for _, b := range bids {
		out := Resolve(b.bidder, b.amount, step, orders)
		check.True(t, out.FinalPrice.GreaterThanOrEqual(price))
		// Every synthetic entry also moves the table strictly upward.
		last := b.amount
		for _, e := range out.Entries {
			check.True(t, e.Amount.GreaterThan(last))
			last = e.Amount
		}
		price = out.FinalPrice
	}
}
