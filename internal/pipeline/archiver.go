package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gavelworks/gaveld/internal/domain"
)

// Archiver moves closed listings' ledgers from the database to blob cold
// storage on a fixed interval.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, interval time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// RunOnce executes a single archive run. Listings closed longer ago than the
// retention window are exported and stamped.
func (a *Archiver) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	archived, err := a.blobArchiver.ArchiveClosedListings(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving listings before %v: %w", cutoff, err)
	}

	a.logger.Info("archive run complete", slog.Int64("listings_archived", archived))
	return nil
}

// Run executes the archive loop until the context is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("archiver started", slog.Duration("interval", a.interval))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
