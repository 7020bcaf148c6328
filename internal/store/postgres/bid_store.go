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

// BidStore implements the append-only bid ledger using PostgreSQL.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a new BidStore backed by the given connection pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

const bidSelectCols = `id, listing_id, bidder_id, amount, synthetic, created_at`

// Append inserts a bid row. Ledger rows are never updated or deleted.
func (s *BidStore) Append(ctx context.Context, b domain.Bid) error {
	const query = `
		INSERT INTO bids (id, listing_id, bidder_id, amount, synthetic, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		b.ID, b.ListingID, b.BidderID, b.Amount.String(), b.Synthetic, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append bid %s: %w", b.ID, err)
	}
	return nil
}

func scanBidFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Bid, error) {
	var b domain.Bid
	var amountStr string

	err := scanner.Scan(&b.ID, &b.ListingID, &b.BidderID, &amountStr, &b.Synthetic, &b.CreatedAt)
	if err != nil {
		return domain.Bid{}, err
	}
	if b.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return domain.Bid{}, fmt.Errorf("parse amount: %w", err)
	}
	return b, nil
}

// ListByListing returns the ledger for a listing ordered amount descending,
// ties broken by earliest creation, so the current leader comes first.
func (s *BidStore) ListByListing(ctx context.Context, listingID string, opts domain.ListOpts) ([]domain.Bid, error) {
	query := `SELECT ` + bidSelectCols + ` FROM bids
		WHERE listing_id = $1 ORDER BY amount DESC, created_at ASC`
	args := []any{listingID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids for %s: %w", listingID, err)
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		b, err := scanBidFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bids rows: %w", err)
	}
	return bids, nil
}

// Top returns the leading bid for a listing.
func (s *BidStore) Top(ctx context.Context, listingID string) (domain.Bid, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+bidSelectCols+` FROM bids
		 WHERE listing_id = $1
		 ORDER BY amount DESC, created_at ASC
		 LIMIT 1`, listingID)

	b, err := scanBidFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bid{}, domain.ErrNotFound
		}
		return domain.Bid{}, fmt.Errorf("postgres: top bid for %s: %w", listingID, err)
	}
	return b, nil
}

// CountByListing returns the number of ledger rows for a listing.
func (s *BidStore) CountByListing(ctx context.Context, listingID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bids WHERE listing_id = $1`, listingID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count bids for %s: %w", listingID, err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.BidStore = (*BidStore)(nil)
