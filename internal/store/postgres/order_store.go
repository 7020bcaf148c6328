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

// OrderStore persists fulfillment orders in PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, listing_id, buyer_id, seller_id, amount, status, created_at, updated_at`

func scanOrderFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var amountStr, status string

	err := scanner.Scan(
		&o.ID, &o.ListingID, &o.BuyerID, &o.SellerID,
		&amountStr, &status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Status = domain.OrderStatus(status)
	if o.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return domain.Order{}, fmt.Errorf("parse amount: %w", err)
	}
	return o, nil
}

// Create inserts a new order. A unique index guarantees at most one
// non-cancelled order per listing; a conflict surfaces as ErrAlreadyExists.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, listing_id, buyer_id, seller_id, amount, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.ListingID, o.BuyerID, o.SellerID, o.Amount.String(), string(o.Status))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// GetByListing retrieves the live (non-cancelled) order for a listing.
func (s *OrderStore) GetByListing(ctx context.Context, listingID string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE listing_id = $1 AND status <> 'cancelled'`, listingID)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order for listing %s: %w", listingID, err)
	}
	return o, nil
}

// UpdateStatus moves an order to a new status. Transition legality is checked
// by the caller against the fulfillment table; this is a plain write.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update order status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
