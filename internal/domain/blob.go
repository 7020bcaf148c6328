package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves closed listings' bid ledgers into long-term blob storage.
type Archiver interface {
	// ArchiveClosedListings archives every ended or sold listing closed before
	// the cutoff and returns the number of listings archived.
	ArchiveClosedListings(ctx context.Context, before time.Time) (int64, error)
}
