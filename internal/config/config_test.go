package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdaza33/gmail-api/internal/mailsource"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ProviderGmail, cfg.Mail.Provider)
	assert.Equal(t, mailsource.DefaultSenders, cfg.Mail.Senders)
	assert.Equal(t, "reporte", cfg.Store.Table)
	assert.Equal(t, "sqlserver", cfg.Store.Driver)
	assert.Equal(t, ":3001", cfg.HTTP.Addr)
	assert.Equal(t, "*/5 * * * *", cfg.Schedule.Cycle)
	assert.Equal(t, "* * * * *", cfg.Schedule.Watchdog)
	assert.Equal(t, 30*time.Second, cfg.Ingest.CallTimeout)
	assert.False(t, cfg.Redis.Ledger)
}

func TestLoadLegacyEnvNames(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CLIENT_ID_GMAIL", "legacy-id")
	t.Setenv("SECRET_ID_GMAIL", "legacy-secret")
	t.Setenv("URL_AUTH_GMAIL", "http://example/gmail")
	t.Setenv("URL_DB", "sqlserver://u:p@db?database=GmailAPI")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "legacy-id", cfg.Gmail.ClientID)
	assert.Equal(t, "legacy-secret", cfg.Gmail.ClientSecret)
	assert.Equal(t, "http://example/gmail", cfg.Gmail.RedirectURL)
	assert.Equal(t, "sqlserver://u:p@db?database=GmailAPI", cfg.Store.DSN)
	require.NoError(t, cfg.Validate())
}

func TestPrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CLIENT_ID_GMAIL", "legacy-id")
	t.Setenv("ORDERPOLL_GMAIL_CLIENT_ID", "new-id")
	t.Setenv("ORDERPOLL_INGEST_CONCURRENCY", "8")
	t.Setenv("ORDERPOLL_MAIL_SENDERS", "a@x.com,b@y.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "new-id", cfg.Gmail.ClientID)
	assert.Equal(t, 8, cfg.Ingest.Concurrency)
	assert.Equal(t, []string{"a@x.com", "b@y.com"}, cfg.Mail.Senders)
}

func TestLoadYAMLFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "orderpoll.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mail:
  provider: imap
imap:
  host: mail.example
  username: u
  password: p
store:
  driver: sqlite
  dsn: file:orders.db
  table: GmailAPI.dbo.reporte
ingest:
  call_timeout: 5s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderIMAP, cfg.Mail.Provider)
	assert.Equal(t, "mail.example", cfg.IMAP.Host)
	assert.Equal(t, 993, cfg.IMAP.Port)
	assert.Equal(t, "GmailAPI.dbo.reporte", cfg.Store.Table)
	assert.Equal(t, 5*time.Second, cfg.Ingest.CallTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDotenvIsLoaded(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ORDERPOLL_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ORDERPOLL_LOG_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidateCollectsProblems(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Store.Driver = "oracle"
	cfg.Redis.Ledger = true
	cfg.Redis.Addr = ""
	cfg.Mail.Senders = []string{" "}

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"client_id", "client_secret", "store.dsn", "store.driver", "redis.addr", "mail.senders"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateTimeouts(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero-drain", func(c *Config) { c.Ingest.DrainTimeout = 0 }, "ingest.drain_timeout must be positive"},
		{"negative-drain", func(c *Config) { c.Ingest.DrainTimeout = -time.Second }, "ingest.drain_timeout must be positive"},
		{"drain-shorter-than-cycle", func(c *Config) { c.Ingest.DrainTimeout = time.Minute }, "must be at least ingest.cycle_timeout"},
		{"zero-cycle", func(c *Config) { c.Ingest.CycleTimeout = 0 }, "ingest.cycle_timeout must be positive"},
		{"lock-ttl-too-short", func(c *Config) {
			c.Redis.Lock = true
			c.Redis.LockTTL = time.Minute
		}, "redis.lock_ttl"},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			cfg, err := Load("")
			require.NoError(t, err)
			tc.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}

func TestValidateDefaultTimeoutsAreConsistent(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Gmail.ClientID, cfg.Gmail.ClientSecret = "id", "secret"
	cfg.Store.DSN = "sqlserver://u:p@db"
	cfg.Redis.Lock = true
	require.NoError(t, cfg.Validate())
}
