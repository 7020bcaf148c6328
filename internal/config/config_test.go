package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	check.Nil(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "orbit"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Auction.SettleRetries = 0

	err := cfg.Validate()
	assert.NotNil(t, err)

	msg := err.Error()
	check.True(t, strings.Contains(msg, "unknown mode"))
	check.True(t, strings.Contains(msg, "unknown log_level"))
	check.True(t, strings.Contains(msg, "redis: addr"))
	check.True(t, strings.Contains(msg, "settle_retries"))
}

func TestValidateSMTPFieldsMustPair(t *testing.T) {
	cfg := Defaults()
	cfg.Notify.SMTPAddr = "mail.example.com:587"

	err := cfg.Validate()
	assert.NotNil(t, err)
	check.True(t, strings.Contains(err.Error(), "smtp_addr and smtp_from"))
}

func TestValidateS3RequiredOnlyWhenArchiving(t *testing.T) {
	cfg := Defaults()
	cfg.S3.Bucket = ""
	check.Nil(t, cfg.Validate())

	cfg.Sweep.ArchiveEnabled = true
	err := cfg.Validate()
	assert.NotNil(t, err)
	check.True(t, strings.Contains(err.Error(), "s3: bucket"))
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "server"
log_level = "debug"

[auction]
auto_extend_window = "2m"
settle_retries = 5

[server]
port = 9100
`
	assert.Nil(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	assert.Nil(t, err)

	check.Equal(t, "server", cfg.Mode)
	check.Equal(t, "debug", cfg.LogLevel)
	check.Equal(t, 2*time.Minute, cfg.Auction.AutoExtendWindow.Duration)
	check.Equal(t, 5, cfg.Auction.SettleRetries)
	check.Equal(t, 9100, cfg.Server.Port)

	// Untouched sections keep their defaults.
	check.Equal(t, "localhost:6379", cfg.Redis.Addr)
	check.Equal(t, 50, cfg.Sweep.BatchSize)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	assert.Nil(t, os.WriteFile(path, []byte("mode = \"sweep\"\n"), 0o600))

	t.Setenv("GAVELD_POSTGRES_PASSWORD", "s3cret")
	t.Setenv("GAVELD_AUCTION_LOCK_TTL", "30s")
	t.Setenv("GAVELD_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("GAVELD_SWEEP_ARCHIVE_ENABLED", "true")

	cfg, err := Load(path)
	assert.Nil(t, err)

	check.Equal(t, "sweep", cfg.Mode)
	check.Equal(t, "s3cret", cfg.Postgres.Password)
	check.Equal(t, 30*time.Second, cfg.Auction.LockTTL.Duration)
	check.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	check.True(t, cfg.Sweep.ArchiveEnabled)
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	assert.Nil(t, d.UnmarshalText([]byte("90s")))
	check.Equal(t, 90*time.Second, d.Duration)

	out, err := d.MarshalText()
	assert.Nil(t, err)
	check.Equal(t, "1m30s", string(out))
}
