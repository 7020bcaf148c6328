package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies GAVELD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known GAVELD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "GAVELD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "GAVELD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "GAVELD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "GAVELD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "GAVELD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "GAVELD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "GAVELD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "GAVELD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "GAVELD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "GAVELD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "GAVELD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GAVELD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GAVELD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GAVELD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "GAVELD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "GAVELD_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.CacheTTLMinutes, "GAVELD_REDIS_CACHE_TTL_MINUTES")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "GAVELD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GAVELD_S3_REGION")
	setStr(&cfg.S3.Bucket, "GAVELD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GAVELD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GAVELD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GAVELD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "GAVELD_S3_FORCE_PATH_STYLE")

	// ── Auction ──
	setFloat64(&cfg.Auction.MinPositiveRatio, "GAVELD_AUCTION_MIN_POSITIVE_RATIO")
	setBool(&cfg.Auction.AutoExtendEnabled, "GAVELD_AUCTION_AUTO_EXTEND_ENABLED")
	setDuration(&cfg.Auction.AutoExtendWindow, "GAVELD_AUCTION_AUTO_EXTEND_WINDOW")
	setDuration(&cfg.Auction.AutoExtendBy, "GAVELD_AUCTION_AUTO_EXTEND_BY")
	setInt(&cfg.Auction.SettleRetries, "GAVELD_AUCTION_SETTLE_RETRIES")
	setDuration(&cfg.Auction.LockTTL, "GAVELD_AUCTION_LOCK_TTL")
	setInt(&cfg.Auction.BidRateLimit, "GAVELD_AUCTION_BID_RATE_LIMIT")
	setDuration(&cfg.Auction.BidRateWindow, "GAVELD_AUCTION_BID_RATE_WINDOW")

	// ── Sweep ──
	setDuration(&cfg.Sweep.Interval, "GAVELD_SWEEP_INTERVAL")
	setInt(&cfg.Sweep.BatchSize, "GAVELD_SWEEP_BATCH_SIZE")
	setBool(&cfg.Sweep.ArchiveEnabled, "GAVELD_SWEEP_ARCHIVE_ENABLED")
	setDuration(&cfg.Sweep.ArchiveInterval, "GAVELD_SWEEP_ARCHIVE_INTERVAL")
	setInt(&cfg.Sweep.ArchiveRetentionDays, "GAVELD_SWEEP_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "GAVELD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "GAVELD_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "GAVELD_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "GAVELD_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "GAVELD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "GAVELD_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.SMTPAddr, "GAVELD_NOTIFY_SMTP_ADDR")
	setStr(&cfg.Notify.SMTPFrom, "GAVELD_NOTIFY_SMTP_FROM")
	setStr(&cfg.Notify.SMTPUser, "GAVELD_NOTIFY_SMTP_USER")
	setStr(&cfg.Notify.SMTPPassword, "GAVELD_NOTIFY_SMTP_PASSWORD")
	setStr(&cfg.Notify.WebhookURL, "GAVELD_NOTIFY_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "GAVELD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "GAVELD_MODE")
	setStr(&cfg.LogLevel, "GAVELD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
