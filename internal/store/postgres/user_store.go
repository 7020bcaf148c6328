package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gavelworks/gaveld/internal/domain"
)

// UserStore reads marketplace accounts from PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// GetByID retrieves a single user by ID.
func (s *UserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var role string

	err := s.pool.QueryRow(ctx,
		`SELECT id, email, name, role, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, err)
	}

	u.Role = domain.Role(role)
	return u, nil
}

// Compile-time interface check.
var _ domain.UserStore = (*UserStore)(nil)
