package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jdaza33/gmail-api/internal/config"
	"github.com/jdaza33/gmail-api/internal/store"
	"github.com/jdaza33/gmail-api/internal/watchdog"
)

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion cycle and print its report as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			rep, runErr := a.runner.Trigger(ctx, "cli")
			if rep.RunID != "" {
				if err := writeJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			}
			if runErr != nil {
				return fmt.Errorf("run cycle: %w", runErr)
			}
			return nil
		},
	}
}

func newAuthCmd(cfgPath *string) *cobra.Command {
	auth := &cobra.Command{
		Use:   "auth",
		Short: "Gmail OAuth consent handshake",
	}

	auth.AddCommand(&cobra.Command{
		Use:   "url",
		Short: "Print the consent URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			tf, err := newTokenFile(cfg, log)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tf.AuthCodeURL(uuid.NewString()))
			return err
		},
	})

	var code string
	exchange := &cobra.Command{
		Use:   "exchange",
		Short: "Exchange an authorization code and store the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			tf, err := newTokenFile(cfg, log)
			if err != nil {
				return err
			}
			if err := tf.Exchange(cmd.Context(), code); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "token stored in %s, expires %s\n", cfg.Gmail.TokenFile, tf.Expiry().Format(time.RFC3339))
			return err
		},
	}
	exchange.Flags().StringVar(&code, "code", "", "authorization code from the consent redirect")
	_ = exchange.MarkFlagRequired("code")
	auth.AddCommand(exchange)
	return auth
}

type tokenStatus struct {
	Path     string     `json:"path"`
	Expiry   *time.Time `json:"expiry,omitempty"`
	Decision string     `json:"decision"`
}

func newTokenCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Show the stored token expiry and the watchdog decision for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.Mail.Provider != config.ProviderGmail {
				return fmt.Errorf("provider %s has no oauth token", cfg.Mail.Provider)
			}
			tf, err := newTokenFile(cfg, log)
			if err != nil {
				return err
			}
			st := tokenStatus{Path: cfg.Gmail.TokenFile}
			exp := tf.Expiry()
			if !exp.IsZero() {
				st.Expiry = &exp
			}
			st.Decision = watchdog.Check(time.Now(), exp).String()
			return writeJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newInitDBCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the orders table (sqlite, postgres, mysql)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			return initDB(cmd.Context(), cfg.Store, func(table string) {
				log.Info("table ready", "driver", cfg.Store.Driver, "table", table)
			})
		},
	}
}

func initDB(ctx context.Context, sc config.StoreConfig, done func(table string)) error {
	s, err := store.Open(ctx, sc.Driver, sc.DSN, sc.Table)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	done(sc.Table)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
