package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gavelworks/gaveld/internal/domain"
)

// AutoBidStore implements the standing-order book using PostgreSQL.
type AutoBidStore struct {
	pool *pgxpool.Pool
}

// NewAutoBidStore creates a new AutoBidStore backed by the given connection pool.
func NewAutoBidStore(pool *pgxpool.Pool) *AutoBidStore {
	return &AutoBidStore{pool: pool}
}

const autoBidSelectCols = `id, listing_id, bidder_id, max_amount, increment,
	current_amount, active, created_at, updated_at`

func scanAutoBidFromRow(scanner interface{ Scan(dest ...any) error }) (domain.AutoBid, error) {
	var ab domain.AutoBid
	var maxStr, incStr, curStr string

	err := scanner.Scan(
		&ab.ID, &ab.ListingID, &ab.BidderID, &maxStr, &incStr,
		&curStr, &ab.Active, &ab.CreatedAt, &ab.UpdatedAt,
	)
	if err != nil {
		return domain.AutoBid{}, err
	}
	if ab.MaxAmount, err = decimal.NewFromString(maxStr); err != nil {
		return domain.AutoBid{}, fmt.Errorf("parse max_amount: %w", err)
	}
	if ab.Increment, err = decimal.NewFromString(incStr); err != nil {
		return domain.AutoBid{}, fmt.Errorf("parse increment: %w", err)
	}
	if ab.CurrentAmount, err = decimal.NewFromString(curStr); err != nil {
		return domain.AutoBid{}, fmt.Errorf("parse current_amount: %w", err)
	}
	return ab, nil
}

// Upsert inserts a standing order, or raises the existing active order for the
// same (listing, bidder) pair in place. The surrogate id of the original row
// is preserved on conflict so the bidder keeps their registration priority.
// The committed amount tracks the bidder's highest accepted bid and never
// moves backwards.
func (s *AutoBidStore) Upsert(ctx context.Context, ab domain.AutoBid) (domain.AutoBid, error) {
	const query = `
		INSERT INTO auto_bids (listing_id, bidder_id, max_amount, increment, current_amount, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (listing_id, bidder_id) WHERE active
		DO UPDATE SET
			max_amount     = EXCLUDED.max_amount,
			increment      = EXCLUDED.increment,
			current_amount = GREATEST(auto_bids.current_amount, EXCLUDED.current_amount),
			updated_at     = NOW()
		RETURNING ` + autoBidSelectCols

	row := s.pool.QueryRow(ctx, query,
		ab.ListingID, ab.BidderID,
		ab.MaxAmount.String(), ab.Increment.String(), ab.CurrentAmount.String(),
	)

	out, err := scanAutoBidFromRow(row)
	if err != nil {
		return domain.AutoBid{}, fmt.Errorf("postgres: upsert auto bid %s/%s: %w", ab.ListingID, ab.BidderID, err)
	}
	return out, nil
}

// Update applies a partial update to a standing order.
func (s *AutoBidStore) Update(ctx context.Context, id int64, upd domain.AutoBidUpdate) (domain.AutoBid, error) {
	query := `UPDATE auto_bids SET updated_at = NOW()`
	args := []any{id}
	argIdx := 2

	if upd.MaxAmount != nil {
		query += fmt.Sprintf(", max_amount = $%d", argIdx)
		args = append(args, upd.MaxAmount.String())
		argIdx++
	}
	if upd.Increment != nil {
		query += fmt.Sprintf(", increment = $%d", argIdx)
		args = append(args, upd.Increment.String())
		argIdx++
	}
	if upd.Active != nil {
		query += fmt.Sprintf(", active = $%d", argIdx)
		args = append(args, *upd.Active)
	}

	query += ` WHERE id = $1 RETURNING ` + autoBidSelectCols

	row := s.pool.QueryRow(ctx, query, args...)
	ab, err := scanAutoBidFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AutoBid{}, domain.ErrNotFound
		}
		return domain.AutoBid{}, fmt.Errorf("postgres: update auto bid %d: %w", id, err)
	}
	return ab, nil
}

// Deactivate retires a single standing order.
func (s *AutoBidStore) Deactivate(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auto_bids SET active = FALSE, updated_at = NOW()
		 WHERE id = $1 AND active`, id)
	if err != nil {
		return fmt.Errorf("postgres: deactivate auto bid %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeactivateByListing retires every active standing order on a listing. Used
// when the listing closes.
func (s *AutoBidStore) DeactivateByListing(ctx context.Context, listingID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE auto_bids SET active = FALSE, updated_at = NOW()
		 WHERE listing_id = $1 AND active`, listingID)
	if err != nil {
		return fmt.Errorf("postgres: deactivate auto bids for %s: %w", listingID, err)
	}
	return nil
}

// GetByID retrieves a single standing order by surrogate id.
func (s *AutoBidStore) GetByID(ctx context.Context, id int64) (domain.AutoBid, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+autoBidSelectCols+` FROM auto_bids WHERE id = $1`, id)

	ab, err := scanAutoBidFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AutoBid{}, domain.ErrNotFound
		}
		return domain.AutoBid{}, fmt.Errorf("postgres: get auto bid %d: %w", id, err)
	}
	return ab, nil
}

// GetByPair retrieves the active standing order for a (listing, bidder) pair.
func (s *AutoBidStore) GetByPair(ctx context.Context, listingID, bidderID string) (domain.AutoBid, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+autoBidSelectCols+` FROM auto_bids
		 WHERE listing_id = $1 AND bidder_id = $2 AND active`,
		listingID, bidderID)

	ab, err := scanAutoBidFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AutoBid{}, domain.ErrNotFound
		}
		return domain.AutoBid{}, fmt.Errorf("postgres: get auto bid %s/%s: %w", listingID, bidderID, err)
	}
	return ab, nil
}

// ListActive returns the active order book for a listing ordered by surrogate
// id ascending, which is registration order.
func (s *AutoBidStore) ListActive(ctx context.Context, listingID string) ([]domain.AutoBid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+autoBidSelectCols+` FROM auto_bids
		 WHERE listing_id = $1 AND active
		 ORDER BY id ASC`, listingID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active auto bids for %s: %w", listingID, err)
	}
	defer rows.Close()

	var orders []domain.AutoBid
	for rows.Next() {
		ab, err := scanAutoBidFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auto bid: %w", err)
		}
		orders = append(orders, ab)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active auto bids rows: %w", err)
	}
	return orders, nil
}

// Compile-time interface check.
var _ domain.AutoBidStore = (*AutoBidStore)(nil)
