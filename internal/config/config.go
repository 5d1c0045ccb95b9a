// Package config loads orderpoll settings from an optional YAML file, a .env file
// and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jdaza33/gmail-api/internal/mailsource"
)

const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

type MailConfig struct {
	Provider  string   `mapstructure:"provider"`
	Senders   []string `mapstructure:"senders"`
	RateLimit int      `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int      `mapstructure:"burst"`
	PageSize  int      `mapstructure:"page_size"`
}

type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
	TokenFile    string `mapstructure:"token_file"`
}

type IMAPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	TLS      bool   `mapstructure:"tls"`
	Mailbox  string `mapstructure:"mailbox"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"`
}

// RedisConfig is only dialed when Lock or Ledger is enabled.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Lock      bool          `mapstructure:"lock"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	Ledger    bool          `mapstructure:"ledger"`
	LedgerTTL time.Duration `mapstructure:"ledger_ttl"`
}

type ScheduleConfig struct {
	Cycle      string `mapstructure:"cycle"`
	Watchdog   string `mapstructure:"watchdog"`
	RunOnStart bool   `mapstructure:"run_on_start"`
	Timezone   string `mapstructure:"timezone"`
}

type HTTPConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type IngestConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
	CycleTimeout time.Duration `mapstructure:"cycle_timeout"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Mail     MailConfig     `mapstructure:"mail"`
	Gmail    GmailConfig    `mapstructure:"gmail"`
	IMAP     IMAPConfig     `mapstructure:"imap"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Log      LogConfig      `mapstructure:"log"`
}

// legacyEnv maps keys to the environment names the service has always used.
var legacyEnv = map[string]string{
	"gmail.client_id":     "CLIENT_ID_GMAIL",
	"gmail.client_secret": "SECRET_ID_GMAIL",
	"gmail.redirect_url":  "URL_AUTH_GMAIL",
	"store.dsn":           "URL_DB",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mail.provider", ProviderGmail)
	v.SetDefault("mail.senders", mailsource.DefaultSenders)
	v.SetDefault("mail.rate_limit", 5)
	v.SetDefault("mail.burst", 5)
	v.SetDefault("mail.page_size", 100)

	v.SetDefault("gmail.client_id", "")
	v.SetDefault("gmail.client_secret", "")
	v.SetDefault("gmail.redirect_url", "http://localhost:3001/gmail")
	v.SetDefault("gmail.token_file", "token.json")

	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.tls", true)
	v.SetDefault("imap.mailbox", "INBOX")

	v.SetDefault("store.driver", "sqlserver")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", "reporte")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock", false)
	v.SetDefault("redis.lock_ttl", 10*time.Minute)
	v.SetDefault("redis.ledger", false)
	v.SetDefault("redis.ledger_ttl", 7*24*time.Hour)

	v.SetDefault("schedule.cycle", "*/5 * * * *")
	v.SetDefault("schedule.watchdog", "* * * * *")
	v.SetDefault("schedule.run_on_start", true)
	v.SetDefault("schedule.timezone", "UTC")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":3001")
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.call_timeout", 30*time.Second)
	v.SetDefault("ingest.cycle_timeout", 4*time.Minute)
	v.SetDefault("ingest.drain_timeout", 5*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads path (YAML) when given, otherwise an optional ./orderpoll.yaml.
// A .env file in the working directory is loaded into the environment first;
// variables already set win over it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ORDERPOLL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := "ORDERPOLL_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("orderpoll")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every missing or invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.Mail.Provider {
	case ProviderGmail:
		if c.Gmail.ClientID == "" {
			add("gmail.client_id is required (CLIENT_ID_GMAIL)")
		}
		if c.Gmail.ClientSecret == "" {
			add("gmail.client_secret is required (SECRET_ID_GMAIL)")
		}
		if c.Gmail.RedirectURL == "" {
			add("gmail.redirect_url is required (URL_AUTH_GMAIL)")
		}
		if c.Gmail.TokenFile == "" {
			add("gmail.token_file is required")
		}
	case ProviderIMAP:
		if c.IMAP.Host == "" {
			add("imap.host is required")
		}
		if c.IMAP.Username == "" || c.IMAP.Password == "" {
			add("imap.username and imap.password are required")
		}
	default:
		add("mail.provider %q is not one of gmail, imap", c.Mail.Provider)
	}
	if len(mailsource.NewFilter(c.Mail.Senders, true).Senders) == 0 {
		add("mail.senders must list at least one address")
	}

	switch c.Store.Driver {
	case "postgres", "mysql", "sqlite", "sqlserver":
	default:
		add("store.driver %q is not one of postgres, mysql, sqlite, sqlserver", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		add("store.dsn is required (URL_DB)")
	}
	if (c.Redis.Lock || c.Redis.Ledger) && c.Redis.Addr == "" {
		add("redis.addr is required when redis.lock or redis.ledger is enabled")
	}
	if c.Ingest.Concurrency < 1 {
		add("ingest.concurrency must be at least 1")
	}
	if c.Ingest.CallTimeout <= 0 {
		add("ingest.call_timeout must be positive")
	}
	if c.Ingest.CycleTimeout <= 0 {
		add("ingest.cycle_timeout must be positive")
	}
	if c.Ingest.DrainTimeout <= 0 {
		add("ingest.drain_timeout must be positive")
	} else if c.Ingest.DrainTimeout < c.Ingest.CycleTimeout {
		add("ingest.drain_timeout (%s) must be at least ingest.cycle_timeout (%s)", c.Ingest.DrainTimeout, c.Ingest.CycleTimeout)
	}
	if c.Redis.Lock && c.Redis.LockTTL <= c.Ingest.CycleTimeout {
		add("redis.lock_ttl (%s) must exceed ingest.cycle_timeout (%s)", c.Redis.LockTTL, c.Ingest.CycleTimeout)
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		add("http.addr is required when http is enabled")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		add("schedule.timezone: %v", err)
	}
	return errors.Join(errs...)
}

// Location returns the scheduling time zone, UTC when unset or invalid.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
