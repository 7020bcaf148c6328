package domain

import (
	"context"
	"time"
)

// LockManager provides distributed mutual exclusion. Settlement and the close
// sweep both serialize on a per-listing lock so at most one of them commits
// against a listing at a time.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function. It returns ErrLockHeld when another party holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter limits request rates per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus is a lightweight pub/sub fabric for auction events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel of raw payloads; it is closed when the
	// context is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// ListingCache caches listing snapshots on the read path.
type ListingCache interface {
	Get(ctx context.Context, id string) (Listing, error)
	Set(ctx context.Context, l Listing) error
	Invalidate(ctx context.Context, id string) error
}
