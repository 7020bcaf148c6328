// Package config defines the top-level configuration for the auction service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by GAVELD_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Auction  AuctionConfig  `toml:"auction"`
	Sweep    SweepConfig    `toml:"sweep"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PoolSize        int    `toml:"pool_size"`
	MaxRetries      int    `toml:"max_retries"`
	TLSEnabled      bool   `toml:"tls_enabled"`
	CacheTTLMinutes int    `toml:"cache_ttl_minutes"`
}

// S3Config holds S3-compatible object storage parameters for ledger archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// AuctionConfig holds bid admission and settlement parameters.
type AuctionConfig struct {
	// MinPositiveRatio is the minimum positive-rating share required of a
	// rated bidder.
	MinPositiveRatio float64 `toml:"min_positive_ratio"`
	// AutoExtendEnabled is the master switch for close-time extension.
	AutoExtendEnabled bool `toml:"auto_extend_enabled"`
	// AutoExtendWindow: a bid this close to the close time extends the clock.
	AutoExtendWindow duration `toml:"auto_extend_window"`
	// AutoExtendBy is how far each extension pushes the close time.
	AutoExtendBy duration `toml:"auto_extend_by"`
	// SettleRetries bounds transparent retries after a lost settlement race.
	SettleRetries int `toml:"settle_retries"`
	// LockTTL is the per-listing settlement lock lifetime.
	LockTTL duration `toml:"lock_ttl"`
	// BidRateLimit / BidRateWindow throttle bid submissions per bidder; a
	// zero limit disables the throttle.
	BidRateLimit  int      `toml:"bid_rate_limit"`
	BidRateWindow duration `toml:"bid_rate_window"`
}

// SweepConfig holds parameters for the close sweep and ledger archival.
type SweepConfig struct {
	Interval             duration `toml:"interval"`
	BatchSize            int      `toml:"batch_size"`
	ArchiveEnabled       bool     `toml:"archive_enabled"`
	ArchiveInterval      duration `toml:"archive_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
}

// ServerConfig holds HTTP server parameters. RateLimit is the per-client
// request budget per RateWindow; zero disables API rate limiting.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	SMTPAddr       string   `toml:"smtp_addr"`
	SMTPFrom       string   `toml:"smtp_from"`
	SMTPUser       string   `toml:"smtp_user"`
	SMTPPassword   string   `toml:"smtp_password"`
	WebhookURL     string   `toml:"webhook_url"`
	Events         []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "gaveld",
			User:          "gaveld",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			DB:              0,
			PoolSize:        20,
			MaxRetries:      3,
			TLSEnabled:      false,
			CacheTTLMinutes: 5,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "gaveld-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Auction: AuctionConfig{
			MinPositiveRatio:  0.8,
			AutoExtendEnabled: true,
			AutoExtendWindow:  duration{5 * time.Minute},
			AutoExtendBy:      duration{10 * time.Minute},
			SettleRetries:     3,
			LockTTL:           duration{10 * time.Second},
			BidRateLimit:      10,
			BidRateWindow:     duration{time.Second},
		},
		Sweep: SweepConfig{
			Interval:             duration{30 * time.Second},
			BatchSize:            50,
			ArchiveEnabled:       false,
			ArchiveInterval:      duration{24 * time.Hour},
			ArchiveRetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   50,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"bid.outbid", "bid.proxy_outbid", "listing.closed", "listing.sold", "order.created"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"sweep":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, sweep, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only required when archival is enabled.
	if c.Sweep.ArchiveEnabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when sweep.archive_enabled is set")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when sweep.archive_enabled is set")
		}
	}

	// Auction
	if c.Auction.MinPositiveRatio < 0 || c.Auction.MinPositiveRatio > 1 {
		errs = append(errs, fmt.Sprintf("auction: min_positive_ratio must be within [0, 1], got %g", c.Auction.MinPositiveRatio))
	}
	if c.Auction.AutoExtendWindow.Duration <= 0 {
		errs = append(errs, "auction: auto_extend_window must be positive")
	}
	if c.Auction.AutoExtendBy.Duration <= 0 {
		errs = append(errs, "auction: auto_extend_by must be positive")
	}
	if c.Auction.SettleRetries < 1 {
		errs = append(errs, "auction: settle_retries must be >= 1")
	}
	if c.Auction.LockTTL.Duration <= 0 {
		errs = append(errs, "auction: lock_ttl must be positive")
	}
	if c.Auction.BidRateLimit > 0 && c.Auction.BidRateWindow.Duration <= 0 {
		errs = append(errs, "auction: bid_rate_window must be positive when bid_rate_limit is set")
	}

	// Sweep
	if c.Sweep.Interval.Duration <= 0 {
		errs = append(errs, "sweep: interval must be positive")
	}
	if c.Sweep.BatchSize < 1 {
		errs = append(errs, "sweep: batch_size must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	// Notify: SMTP fields must be set together or not at all.
	sa := c.Notify.SMTPAddr != ""
	sf := c.Notify.SMTPFrom != ""
	if sa != sf {
		errs = append(errs, "notify: smtp_addr and smtp_from must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
