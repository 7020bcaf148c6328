package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gavelworks/gaveld/internal/domain"
)

// SettlementStore commits settlement write sets atomically.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Commit applies one settlement in a single transaction: the listing
// price/leader update guarded by a version compare-and-swap, every ledger
// append in order, and the committed-amount bump on standing orders whose
// bidders gained a ledger row. If the listing version has moved since the
// settlement was computed, nothing is written and ErrVersionMismatch is
// returned so the caller can re-run against fresh state.
func (s *SettlementStore) Commit(ctx context.Context, sc domain.SettlementCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin settlement tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE listings
		 SET current_price = $3, leader_id = $4, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND version = $2`,
		sc.ListingID, sc.ExpectedVersion, sc.NewPrice.String(), sc.LeaderID)
	if err != nil {
		return fmt.Errorf("postgres: settle listing %s: %w", sc.ListingID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionMismatch
	}

	for _, b := range sc.Bids {
		_, err := tx.Exec(ctx,
			`INSERT INTO bids (id, listing_id, bidder_id, amount, synthetic, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			b.ID, b.ListingID, b.BidderID, b.Amount.String(), b.Synthetic, b.CreatedAt)
		if err != nil {
			return fmt.Errorf("postgres: settle append bid %s: %w", b.ID, err)
		}

		// Record how far each standing order has actually been bid up.
		_, err = tx.Exec(ctx,
			`UPDATE auto_bids
			 SET current_amount = $3, updated_at = NOW()
			 WHERE listing_id = $1 AND bidder_id = $2 AND active
			   AND current_amount < $3`,
			b.ListingID, b.BidderID, b.Amount.String())
		if err != nil {
			return fmt.Errorf("postgres: settle bump auto bid %s/%s: %w", b.ListingID, b.BidderID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit settlement for %s: %w", sc.ListingID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SettlementStore = (*SettlementStore)(nil)
