package domain

import "time"

// Role classifies marketplace accounts.
type Role string

const (
	RoleBidder Role = "bidder"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// User is a marketplace account. Authentication lives outside this service;
// only identity and role matter here.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// RatingSummary is the aggregate rating record for a user in a single role.
type RatingSummary struct {
	Positive int64 `json:"positive"`
	Total    int64 `json:"total"`
}

// Ratio returns the positive share of ratings, or 0 when unrated.
func (r RatingSummary) Ratio() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Positive) / float64(r.Total)
}
