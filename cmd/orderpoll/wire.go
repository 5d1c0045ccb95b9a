package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/jdaza33/gmail-api/internal/config"
	"github.com/jdaza33/gmail-api/internal/credential"
	"github.com/jdaza33/gmail-api/internal/ingest"
	"github.com/jdaza33/gmail-api/internal/ledger"
	"github.com/jdaza33/gmail-api/internal/lock"
	"github.com/jdaza33/gmail-api/internal/mailsource"
	"github.com/jdaza33/gmail-api/internal/metrics"
	"github.com/jdaza33/gmail-api/internal/rate"
	"github.com/jdaza33/gmail-api/internal/runtime"
	"github.com/jdaza33/gmail-api/internal/store"
)

// app holds everything a command may need. Fields are nil when the configuration
// does not call for them (tokens under IMAP, redis when neither lock nor ledger).
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Recorder
	tokens   *credential.TokenFile
	limiter  rate.Limiter
	source   mailsource.Source
	store    *store.SQLStore
	redis    *redis.Client
	service  *ingest.Service
	runner   *ingest.Runner
}

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, runtime.NewLogger(cfg.Log.Level, cfg.Log.Format), nil
}

// newTokenFile builds the Gmail credential store and loads it. A missing token is
// not an error here: the handshake may not have run yet.
func newTokenFile(cfg *config.Config, log *slog.Logger) (*credential.TokenFile, error) {
	oauth := runtime.OAuthConfig(cfg.Gmail.ClientID, cfg.Gmail.ClientSecret, cfg.Gmail.RedirectURL)
	tf := credential.NewTokenFile(oauth, cfg.Gmail.TokenFile)
	tf.Log = log
	if err := tf.Load(); err != nil {
		if !errors.Is(err, credential.ErrNoToken) {
			return nil, err
		}
		log.Warn("no oauth token yet, run `orderpoll auth url` or open /auth", "path", cfg.Gmail.TokenFile)
	}
	return tf, nil
}

func buildApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, log, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)
	a.limiter = rate.New(cfg.Mail.RateLimit, cfg.Mail.Burst)

	switch cfg.Mail.Provider {
	case config.ProviderGmail:
		if a.tokens, err = newTokenFile(cfg, log); err != nil {
			a.close()
			return nil, err
		}
		a.tokens.OnRefresh(func(tok oauth2.Token) {
			a.metrics.TokenExpiry(tok.Expiry)
			log.Info("access token refreshed", "expiry", tok.Expiry)
		})
		a.metrics.TokenExpiry(a.tokens.Expiry())
		svc, err := runtime.NewGmailService(ctx, a.tokens)
		if err != nil {
			a.close()
			return nil, err
		}
		a.source = runtime.NewGmailSource(svc, a.limiter, cfg.Mail.PageSize)
	case config.ProviderIMAP:
		a.source = runtime.NewIMAPSource(runtime.IMAPOptions{
			Host:        cfg.IMAP.Host,
			Port:        cfg.IMAP.Port,
			Username:    cfg.IMAP.Username,
			Password:    cfg.IMAP.Password,
			TLS:         cfg.IMAP.TLS,
			Mailbox:     cfg.IMAP.Mailbox,
			DialTimeout: cfg.Ingest.CallTimeout,
		}, a.limiter)
	}

	if a.store, err = store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, cfg.Store.Table); err != nil {
		a.close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	a.service = ingest.NewService(a.source, a.store, log, cfg.Ingest.CallTimeout)
	a.service.Filter = mailsource.NewFilter(cfg.Mail.Senders, true)
	a.service.Concurrency = cfg.Ingest.Concurrency
	a.service.Metrics = a.metrics

	var locker ingest.Locker
	if cfg.Redis.Lock || cfg.Redis.Ledger {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
		}
		if cfg.Redis.Lock {
			locker = lock.NewRedisLock(a.redis, "orderpoll:cycle", cfg.Redis.LockTTL)
		}
		if cfg.Redis.Ledger {
			a.service.Ledger = ledger.NewRedis(a.redis, "", cfg.Redis.LedgerTTL)
		}
	}
	a.runner = ingest.NewRunner(a.service, locker, log)
	return a, nil
}

func (a *app) close() {
	rate.Stop(a.limiter)
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close store failed", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
