package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gavelworks/gaveld/internal/auction"
	"github.com/gavelworks/gaveld/internal/pipeline"
	"github.com/gavelworks/gaveld/internal/server"
	"github.com/gavelworks/gaveld/internal/server/handler"
	"github.com/gavelworks/gaveld/internal/server/ws"
	"github.com/gavelworks/gaveld/internal/service"
)

// serverShutdownTimeout bounds how long in-flight requests may run after the
// context is cancelled.
const serverShutdownTimeout = 10 * time.Second

// ServerMode runs the HTTP API and WebSocket hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// SweepMode runs the close sweep and, when enabled, the ledger archive loop.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweep mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSweep(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything: the HTTP API, the WebSocket hub, the close sweep,
// and the archive loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	} else {
		a.logger.WarnContext(ctx, "server.enabled is false; full mode runs the sweep only")
	}
	a.startSweep(ctx, g, deps)
	return g.Wait()
}

// auctionConfig maps the configuration file values onto the engine's tunables.
func (a *App) auctionConfig() auction.Config {
	return auction.Config{
		MinPositiveRatio:  a.cfg.Auction.MinPositiveRatio,
		AutoExtendEnabled: a.cfg.Auction.AutoExtendEnabled,
		AutoExtendWindow:  a.cfg.Auction.AutoExtendWindow.Duration,
		AutoExtendBy:      a.cfg.Auction.AutoExtendBy.Duration,
	}
}

// startHTTPServer builds the service layer, handlers, and WebSocket hub, and
// registers the server goroutines on the group.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	bidSvc := service.NewBidService(
		deps.ListingStore,
		deps.BidStore,
		deps.AutoBidStore,
		deps.SettlementStore,
		deps.UserStore,
		deps.RatingStore,
		deps.OrderStore,
		deps.AuditStore,
		deps.ListingCache,
		deps.LockManager,
		deps.RateLimiter,
		deps.SignalBus,
		deps.Notifier,
		service.BidServiceConfig{
			Auction:       a.auctionConfig(),
			SettleRetries: a.cfg.Auction.SettleRetries,
			LockTTL:       a.cfg.Auction.LockTTL.Duration,
			RateLimit:     a.cfg.Auction.BidRateLimit,
			RateWindow:    a.cfg.Auction.BidRateWindow.Duration,
		},
		a.logger,
	)
	listingSvc := service.NewListingService(
		deps.ListingStore,
		deps.BidStore,
		deps.AutoBidStore,
		deps.UserStore,
		deps.OrderStore,
		deps.AuditStore,
		deps.ListingCache,
		deps.LockManager,
		deps.SignalBus,
		deps.Notifier,
		a.cfg.Auction.LockTTL.Duration,
		a.logger,
	)
	autoBidSvc := service.NewAutoBidService(
		deps.ListingStore,
		deps.AutoBidStore,
		deps.UserStore,
		deps.AuditStore,
		a.logger,
	)
	orderSvc := service.NewOrderService(
		deps.OrderStore,
		deps.UserStore,
		deps.AuditStore,
		deps.SignalBus,
		deps.Notifier,
		a.logger,
	)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimiter: deps.RateLimiter,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(a.logger),
			Bids:     handler.NewBidHandler(bidSvc, a.logger),
			Listings: handler.NewListingHandler(listingSvc, a.logger),
			AutoBids: handler.NewAutoBidHandler(autoBidSvc, a.logger),
			Orders:   handler.NewOrderHandler(orderSvc, a.logger),
		},
		hub,
		a.logger,
	)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: server shutdown: %w", err)
		}
		return ctx.Err()
	})
}

// startSweep registers the close sweep and, when archival is configured, the
// archive loop on the group.
func (a *App) startSweep(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	sweeper := pipeline.NewSweeper(
		deps.ListingStore,
		deps.BidStore,
		deps.AutoBidStore,
		deps.UserStore,
		deps.OrderStore,
		deps.AuditStore,
		deps.ListingCache,
		deps.LockManager,
		deps.SignalBus,
		deps.Notifier,
		a.cfg.Sweep.Interval.Duration,
		a.cfg.Sweep.BatchSize,
		a.cfg.Auction.LockTTL.Duration,
		a.logger,
	)
	g.Go(func() error {
		return sweeper.Run(ctx)
	})

	if a.cfg.Sweep.ArchiveEnabled && deps.Archiver != nil {
		archiver := pipeline.NewArchiver(
			deps.Archiver,
			a.cfg.Sweep.ArchiveRetentionDays,
			a.cfg.Sweep.ArchiveInterval.Duration,
			a.logger,
		)
		g.Go(func() error {
			return archiver.Run(ctx)
		})
	} else if a.cfg.Sweep.ArchiveEnabled {
		a.logger.WarnContext(ctx, "sweep.archive_enabled is set but blob storage is not wired; archival disabled")
	}
}
