package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidBid      = errors.New("invalid bid")
	ErrListingClosed   = errors.New("listing not active")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLockHeld        = errors.New("lock already held")
	ErrVersionMismatch = errors.New("listing version mismatch")
	ErrBadTransition   = errors.New("order status transition not allowed")
)
