package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/gavelworks/gaveld/internal/blob/s3"
	"github.com/gavelworks/gaveld/internal/cache/redis"
	"github.com/gavelworks/gaveld/internal/config"
	"github.com/gavelworks/gaveld/internal/domain"
	"github.com/gavelworks/gaveld/internal/notify"
	"github.com/gavelworks/gaveld/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	ListingStore    domain.ListingStore
	BidStore        domain.BidStore
	AutoBidStore    domain.AutoBidStore
	SettlementStore domain.SettlementStore
	UserStore       domain.UserStore
	RatingStore     domain.RatingStore
	OrderStore      domain.OrderStore
	AuditStore      domain.AuditStore

	// Caches
	ListingCache domain.ListingCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that may archive ledgers to object storage.
func needsS3(cfg *config.Config) bool {
	if !cfg.Sweep.ArchiveEnabled {
		return false
	}
	switch cfg.Mode {
	case "sweep", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	// Run migrations if enabled.
	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.ListingStore = postgres.NewListingStore(pool)
	deps.BidStore = postgres.NewBidStore(pool)
	deps.AutoBidStore = postgres.NewAutoBidStore(pool)
	deps.SettlementStore = postgres.NewSettlementStore(pool)
	deps.UserStore = postgres.NewUserStore(pool)
	deps.RatingStore = postgres.NewRatingStore(pool)
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	cacheTTL := 5 * time.Minute
	if cfg.Redis.CacheTTLMinutes > 0 {
		cacheTTL = time.Duration(cfg.Redis.CacheTTLMinutes) * time.Minute
	}

	deps.ListingCache = redis.NewListingCache(redisClient, cacheTTL)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only when archival can run) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.ListingStore,
			deps.BidStore,
			deps.AuditStore,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.SMTPAddr != "" && cfg.Notify.SMTPFrom != "" {
		senders = append(senders, notify.NewEmailSender(
			cfg.Notify.SMTPAddr,
			cfg.Notify.SMTPFrom,
			cfg.Notify.SMTPUser,
			cfg.Notify.SMTPPassword,
		))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
