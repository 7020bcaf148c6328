package auction

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/gavelworks/gaveld/internal/domain"
)

// LedgerEntry is a synthetic bid row the engine decided to create, in creation
// order: a runner-up push first when present, then the winner's final amount.
type LedgerEntry struct {
	BidderID string
	Amount   decimal.Decimal
}

// Outcome is the result of resolving one admitted bid against the standing-
// order book.
type Outcome struct {
	// FinalPrice is the listing's new public price.
	FinalPrice decimal.Decimal
	// LeaderID is the bidder now holding the listing.
	LeaderID string
	// ProxyOutbid is true when automation immediately outbid the incoming
	// bidder, i.e. the final leader is not the bidder who just bid.
	ProxyOutbid bool
	// Entries are the synthetic ledger rows to append, in order.
	Entries []LedgerEntry
}

// candidate is one ceiling competing in the resolution round. tieBreak is the
// standing order's surrogate id; lower wins exact-ceiling ties (registered
// earlier). A fresh manual bid competes with the worst possible tie-break so
// registered ceilings beat it on ties.
type candidate struct {
	bidderID string
	ceiling  decimal.Decimal
	tieBreak int64
}

const manualTieBreak = int64(1<<63 - 1)

// Resolve runs the incremental second-price proxy resolution for an admitted
// bid of amount by bidderID, against the active standing orders on the
// listing. step is the listing's minimum increment. The admitted manual bid is
// assumed to already be on the table: the zero-contention outcome is the bid
// standing as-is at amount.
//
// Proxy wars resolve on every incoming bid rather than at close, so each price
// movement lands as an auditable ledger row while the economic outcome matches
// a sealed-bid second-price auction among the active ceilings.
func Resolve(bidderID string, amount, step decimal.Decimal, orders []domain.AutoBid) Outcome {
	asIs := Outcome{FinalPrice: amount, LeaderID: bidderID}

	competitors := competitorPool(bidderID, orders)

	// Contention exists only when some competitor could outbid the new bid by
	// at least one full increment.
	threshold := amount.Add(step)
	contended := false
	for _, c := range competitors {
		if c.ceiling.GreaterThanOrEqual(threshold) {
			contended = true
			break
		}
	}
	if !contended {
		return asIs
	}

	pool := append(competitors, candidate{
		bidderID: bidderID,
		ceiling:  amount,
		tieBreak: manualTieBreak,
	})
	sort.Slice(pool, func(i, j int) bool {
		if !pool[i].ceiling.Equal(pool[j].ceiling) {
			return pool[i].ceiling.GreaterThan(pool[j].ceiling)
		}
		return pool[i].tieBreak < pool[j].tieBreak
	})
	if len(pool) < 2 {
		return asIs
	}
	winner, runnerUp := pool[0], pool[1]

	// Second-price rule: the winner pays at most one increment above the
	// runner-up's ceiling and never more than their own.
	finalPrice := winner.ceiling
	if winner.ceiling.GreaterThan(runnerUp.ceiling) {
		finalPrice = decimal.Min(winner.ceiling, runnerUp.ceiling.Add(step))
	}
	// The price never moves below the bid already on the table.
	if finalPrice.LessThan(amount) {
		finalPrice = amount
	}

	out := Outcome{FinalPrice: amount, LeaderID: bidderID}

	// Record the runner-up pushing the price up before losing, when that push
	// clears the table by a full increment.
	runnerPush := decimal.Min(runnerUp.ceiling, finalPrice.Sub(step))
	tableAmount := amount
	if runnerUp.bidderID != bidderID &&
		runnerPush.GreaterThan(tableAmount) &&
		runnerPush.GreaterThanOrEqual(tableAmount.Add(step)) {
		out.Entries = append(out.Entries, LedgerEntry{BidderID: runnerUp.bidderID, Amount: runnerPush})
		out.LeaderID = runnerUp.bidderID
		tableAmount = runnerPush
	}

	if finalPrice.GreaterThan(tableAmount) {
		out.Entries = append(out.Entries, LedgerEntry{BidderID: winner.bidderID, Amount: finalPrice})
		out.LeaderID = winner.bidderID
		tableAmount = finalPrice
	}

	out.FinalPrice = tableAmount
	out.ProxyOutbid = out.LeaderID != bidderID
	return out
}

// competitorPool keeps the single highest valid ceiling per bidder, excluding
// the incoming bidder's own standing order: a bidder never competes against
// themselves, their ceiling only activates against later bids by others. The
// book guarantees one active order per pair; any duplicates collapse to the
// highest ceiling.
func competitorPool(bidderID string, orders []domain.AutoBid) []candidate {
	best := make(map[string]candidate, len(orders))
	order := make([]string, 0, len(orders))
	for _, ab := range orders {
		if ab.BidderID == bidderID {
			continue
		}
		if ab.ID <= 0 || !ab.MaxAmount.IsPositive() {
			continue
		}
		prev, seen := best[ab.BidderID]
		if !seen {
			order = append(order, ab.BidderID)
		}
		if !seen || ab.MaxAmount.GreaterThan(prev.ceiling) {
			best[ab.BidderID] = candidate{
				bidderID: ab.BidderID,
				ceiling:  ab.MaxAmount,
				tieBreak: ab.ID,
			}
		}
	}

	pool := make([]candidate, 0, len(order))
	for _, id := range order {
		pool = append(pool, best[id])
	}
	return pool
}
