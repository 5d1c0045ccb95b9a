package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jdaza33/gmail-api/internal/api"
	"github.com/jdaza33/gmail-api/internal/ingest"
	"github.com/jdaza33/gmail-api/internal/scheduler"
	"github.com/jdaza33/gmail-api/internal/watchdog"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled ingestion cycle, token watchdog and HTTP endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, *cfgPath)
		},
	}
}

func serve(ctx context.Context, cfgPath string) error {
	a, err := buildApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, log := a.cfg, a.log

	restarter := watchdog.NewRestarter(a.runner.Close, cfg.Ingest.DrainTimeout, log)
	restarter.OnRequest = a.metrics.RestartRequested

	// Rejected credentials: try one refresh, restart if that fails too.
	onAuthFailure := func(cause error) {
		if a.tokens != nil {
			err := a.tokens.Refresh(context.WithoutCancel(ctx))
			if err == nil {
				log.Info("credentials refreshed after rejection", "cause", cause)
				return
			}
			log.Error("refresh after rejection failed", "error", err)
		}
		restarter.Request("mail provider rejected credentials")
	}

	jobs := []scheduler.Job{{
		Name:         "ingest",
		Schedule:     cfg.Schedule.Cycle,
		Timeout:      cfg.Ingest.CycleTimeout,
		RunOnStartup: cfg.Schedule.RunOnStart,
		Run: func(ctx context.Context) error {
			_, err := a.runner.Trigger(ctx, "schedule")
			switch {
			case errors.Is(err, ingest.ErrCycleInProgress):
				a.metrics.CycleSkipped()
				return nil
			case errors.Is(err, ingest.ErrClosed):
				return nil
			case errors.Is(err, ingest.ErrAuth):
				onAuthFailure(err)
			}
			return err
		},
	}}
	if a.tokens != nil {
		wd := &watchdog.Watchdog{
			Tokens:    a.tokens,
			Refresher: a.tokens,
			Restarter: restarter,
			Log:       log,
			OnExpiry:  a.metrics.TokenExpiry,
		}
		jobs = append(jobs, scheduler.Job{
			Name:     "watchdog",
			Schedule: cfg.Schedule.Watchdog,
			Timeout:  cfg.Ingest.CallTimeout,
			Run: func(ctx context.Context) error {
				wd.Tick(ctx)
				return nil
			},
		})
	}
	sched := scheduler.NewService(jobs, scheduler.WithLogger(log), scheduler.WithLocation(cfg.Location()))
	if err := sched.Validate(); err != nil {
		return err
	}

	var httpSrv *http.Server
	httpErr := make(chan error, 1)
	if cfg.HTTP.Enabled {
		srv := &api.Server{
			Trigger:        a.runner,
			Metrics:        promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			Log:            log,
			OnAuthFailure:  onAuthFailure,
		}
		if a.tokens != nil {
			srv.OAuth = a.tokens
		}
		httpSrv = &http.Server{Addr: cfg.HTTP.Addr, Handler: srv.Routes(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			log.Info("http listening", "addr", cfg.HTTP.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
			}
		}()
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	log.Info("orderpoll started", "provider", cfg.Mail.Provider, "cycle", cfg.Schedule.Cycle, "next", sched.Next("ingest"))

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case <-restarter.Done():
		runErr = fmt.Errorf("%w: %s", errRestart, restarter.Reason())
	case err := <-httpErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Ingest.DrainTimeout)
	defer cancel()
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown incomplete", "error", err)
		}
	}
	sched.Stop()
	if err := a.runner.Close(shutdownCtx); err != nil {
		log.Warn("in-flight cycle did not finish", "error", err)
	}
	return runErr
}
