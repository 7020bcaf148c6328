package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gavelworks/gaveld/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

const listingSelectCols = `id, seller_id, title, starting_price, current_price,
	step_increment, buy_now_price, leader_id, close_time, status, auto_extend,
	extensions, rejected_bidders, allow_unrated, version, archived_at,
	created_at, updated_at`

// Create inserts a new listing. The current price starts at the starting
// price and the version counter at zero.
func (s *ListingStore) Create(ctx context.Context, l domain.Listing) error {
	var buyNow *string
	if l.BuyNowPrice != nil {
		v := l.BuyNowPrice.String()
		buyNow = &v
	}

	const query = `
		INSERT INTO listings (
			id, seller_id, title, starting_price, current_price,
			step_increment, buy_now_price, leader_id, close_time, status,
			auto_extend, extensions, rejected_bidders, allow_unrated,
			version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, '', $8, $9,
			$10, '{}', $11, $12,
			0, NOW(), NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		l.ID, l.SellerID, l.Title,
		l.StartingPrice.String(), l.StartingPrice.String(),
		l.StepIncrement.String(), buyNow,
		l.CloseTime, string(l.Status),
		l.AutoExtend, l.RejectedBidders, l.AllowUnrated,
	)
	if err != nil {
		return fmt.Errorf("postgres: create listing %s: %w", l.ID, err)
	}
	return nil
}

func scanListingFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Listing, error) {
	var l domain.Listing
	var status string
	var startingStr, currentStr, stepStr string
	var buyNowStr *string

	err := scanner.Scan(
		&l.ID, &l.SellerID, &l.Title, &startingStr, &currentStr,
		&stepStr, &buyNowStr, &l.LeaderID, &l.CloseTime, &status, &l.AutoExtend,
		&l.Extensions, &l.RejectedBidders, &l.AllowUnrated, &l.Version,
		&l.ArchivedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return domain.Listing{}, err
	}

	l.Status = domain.ListingStatus(status)
	if l.StartingPrice, err = decimal.NewFromString(startingStr); err != nil {
		return domain.Listing{}, fmt.Errorf("parse starting_price: %w", err)
	}
	if l.CurrentPrice, err = decimal.NewFromString(currentStr); err != nil {
		return domain.Listing{}, fmt.Errorf("parse current_price: %w", err)
	}
	if l.StepIncrement, err = decimal.NewFromString(stepStr); err != nil {
		return domain.Listing{}, fmt.Errorf("parse step_increment: %w", err)
	}
	if buyNowStr != nil {
		bn, err := decimal.NewFromString(*buyNowStr)
		if err != nil {
			return domain.Listing{}, fmt.Errorf("parse buy_now_price: %w", err)
		}
		l.BuyNowPrice = &bn
	}

	return l, nil
}

func scanListingRows(rows pgx.Rows) ([]domain.Listing, error) {
	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListingFromRow(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// GetByID retrieves a single listing by ID.
func (s *ListingStore) GetByID(ctx context.Context, id string) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingSelectCols+` FROM listings WHERE id = $1`, id)

	l, err := scanListingFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", id, err)
	}
	return l, nil
}

// ListActive returns active listings ordered by close time, soonest first.
func (s *ListingStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `SELECT ` + listingSelectCols + ` FROM listings
		WHERE status = 'active' ORDER BY close_time ASC`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list active listings: %w", err)
	}
	defer rows.Close()

	listings, err := scanListingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active listings: %w", err)
	}
	return listings, nil
}

// ListExpired returns active listings whose close time has passed.
func (s *ListingStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingSelectCols+` FROM listings
		 WHERE status = 'active' AND close_time <= $1
		 ORDER BY close_time ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired listings: %w", err)
	}
	defer rows.Close()

	listings, err := scanListingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan expired listings: %w", err)
	}
	return listings, nil
}

// ListClosedUnarchived returns ended/sold listings closed before the cutoff
// that have not been archived yet.
func (s *ListingStore) ListClosedUnarchived(ctx context.Context, before time.Time, limit int) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingSelectCols+` FROM listings
		 WHERE status IN ('ended', 'sold')
		   AND close_time <= $1
		   AND archived_at IS NULL
		 ORDER BY close_time ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed unarchived listings: %w", err)
	}
	defer rows.Close()

	listings, err := scanListingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed unarchived listings: %w", err)
	}
	return listings, nil
}

// ExtendClose pushes the close time forward and appends the extension event.
// The close time only ever moves upward.
func (s *ListingStore) ExtendClose(ctx context.Context, id string, newClose, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings
		 SET close_time = $2,
		     extensions = array_append(extensions, $3),
		     updated_at = NOW()
		 WHERE id = $1 AND close_time < $2`,
		id, newClose, at)
	if err != nil {
		return fmt.Errorf("postgres: extend listing %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus moves the listing to a terminal status and records the final
// leader, if any.
func (s *ListingStore) UpdateStatus(ctx context.Context, id string, status domain.ListingStatus, leaderID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings
		 SET status = $2, leader_id = $3, version = version + 1, updated_at = NOW()
		 WHERE id = $1`,
		id, string(status), leaderID)
	if err != nil {
		return fmt.Errorf("postgres: update listing status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkArchived records that the listing's ledger has been archived.
func (s *ListingStore) MarkArchived(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET archived_at = $2, updated_at = NOW() WHERE id = $1`,
		id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark listing archived %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.ListingStore = (*ListingStore)(nil)
