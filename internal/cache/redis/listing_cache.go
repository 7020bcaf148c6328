package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gavelworks/gaveld/internal/domain"
)

// ListingCache implements domain.ListingCache using Redis hashes with
// JSON-serialized listing snapshots.
//
// Key schema:
//
//	listing:{id} - hash with field "data" containing JSON
type ListingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewListingCache creates a ListingCache backed by the given Client. Entries
// expire after ttl; writers invalidate on every settlement so the TTL is only
// a backstop.
func NewListingCache(c *Client, ttl time.Duration) *ListingCache {
	return &ListingCache{rdb: c.Underlying(), ttl: ttl}
}

func listingKey(id string) string { return "listing:" + id }

// Set stores a listing snapshot in the cache.
func (lc *ListingCache) Set(ctx context.Context, l domain.Listing) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("redis: marshal listing %s: %w", l.ID, err)
	}

	key := listingKey(l.ID)

	pipe := lc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, lc.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set listing %s: %w", l.ID, err)
	}
	return nil
}

// Get retrieves a listing snapshot by ID.
// It returns domain.ErrNotFound when the key does not exist.
func (lc *ListingCache) Get(ctx context.Context, id string) (domain.Listing, error) {
	data, err := lc.rdb.HGet(ctx, listingKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("redis: get listing %s: %w", id, err)
	}

	var l domain.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return domain.Listing{}, fmt.Errorf("redis: unmarshal listing %s: %w", id, err)
	}
	return l, nil
}

// Invalidate removes a listing snapshot from the cache.
func (lc *ListingCache) Invalidate(ctx context.Context, id string) error {
	if err := lc.rdb.Del(ctx, listingKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate listing %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ListingCache = (*ListingCache)(nil)
