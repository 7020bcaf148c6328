package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gavelworks/gaveld/internal/domain"
)

// ArchiveImpl implements domain.Archiver by exporting the full bid ledger of
// each closed listing to JSONL in blob storage, then stamping the listing as
// archived.
//
// Deletion of the archived ledger rows from the primary store is intentionally
// NOT performed here. That is a separate, explicit step to be executed after
// the archive has been verified.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	listings domain.ListingStore
	bids     domain.BidStore
	audit    domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	listings domain.ListingStore,
	bids domain.BidStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		listings: listings,
		bids:     bids,
		audit:    audit,
	}
}

// listingArchive is the JSONL envelope written per listing: the listing
// snapshot on the first line, one bid per following line.
type listingArchive struct {
	Listing *domain.Listing `json:"listing,omitempty"`
	Bid     *domain.Bid     `json:"bid,omitempty"`
}

// ArchiveClosedListings exports every ended or sold listing closed before the
// cutoff that has not yet been archived. Each listing's ledger lands at
// archive/listings/YYYY-MM/{listing_id}.jsonl, the listing is marked archived,
// and the event is recorded in the audit log. The count of listings archived
// is returned; a failure on one listing aborts the batch so the remainder is
// retried on the next run.
func (a *ArchiveImpl) ArchiveClosedListings(ctx context.Context, before time.Time) (int64, error) {
	const batchSize = 100

	listings, err := a.listings.ListClosedUnarchived(ctx, before, batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}

	var archived int64
	for i := range listings {
		l := listings[i]

		bids, err := a.bids.ListByListing(ctx, l.ID, domain.ListOpts{})
		if err != nil {
			return archived, fmt.Errorf("s3blob: archive ledger query %s: %w", l.ID, err)
		}

		buf, err := marshalListingJSONL(l, bids)
		if err != nil {
			return archived, fmt.Errorf("s3blob: archive marshal %s: %w", l.ID, err)
		}

		path := archivePath(l)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return archived, fmt.Errorf("s3blob: archive upload %s: %w", l.ID, err)
		}

		now := time.Now().UTC()
		if err := a.listings.MarkArchived(ctx, l.ID, now); err != nil {
			return archived, fmt.Errorf("s3blob: archive mark %s: %w", l.ID, err)
		}

		archived++

		if err := a.audit.Log(ctx, "archive.listing", map[string]any{
			"listing_id": l.ID,
			"path":       path,
			"bids":       len(bids),
		}); err != nil {
			return archived, fmt.Errorf("s3blob: archive audit log %s: %w", l.ID, err)
		}
	}

	return archived, nil
}

// archivePath builds the S3 key for a listing archive, partitioned by the
// year-month of the listing's close time.
//
//	archive/listings/2025-08/lst_abc123.jsonl
func archivePath(l domain.Listing) string {
	return fmt.Sprintf("archive/listings/%s/%s.jsonl", l.CloseTime.Format("2006-01"), l.ID)
}

// marshalListingJSONL serialises a listing and its ledger as newline-delimited
// JSON: the listing snapshot first, then one bid per line.
func marshalListingJSONL(l domain.Listing, bids []domain.Bid) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(listingArchive{Listing: &l}); err != nil {
		return nil, fmt.Errorf("jsonl encode listing: %w", err)
	}
	for i := range bids {
		if err := enc.Encode(listingArchive{Bid: &bids[i]}); err != nil {
			return nil, fmt.Errorf("jsonl encode bid %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
