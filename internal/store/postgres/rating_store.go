package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gavelworks/gaveld/internal/domain"
)

// RatingStore aggregates rating rows from PostgreSQL.
type RatingStore struct {
	pool *pgxpool.Pool
}

// NewRatingStore creates a new RatingStore backed by the given connection pool.
func NewRatingStore(pool *pgxpool.Pool) *RatingStore {
	return &RatingStore{pool: pool}
}

// Summary aggregates positive/total rating counts for a user restricted to
// ratings received in the given role. An unrated user yields a zero summary,
// not an error.
func (s *RatingStore) Summary(ctx context.Context, userID string, role domain.Role) (domain.RatingSummary, error) {
	var sum domain.RatingSummary

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE positive), COUNT(*)
		 FROM ratings WHERE user_id = $1 AND role = $2`,
		userID, string(role),
	).Scan(&sum.Positive, &sum.Total)
	if err != nil {
		return domain.RatingSummary{}, fmt.Errorf("postgres: rating summary %s/%s: %w", userID, role, err)
	}
	return sum, nil
}

// Compile-time interface check.
var _ domain.RatingStore = (*RatingStore)(nil)
