// internal/runtime/auth.go
package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/jdaza33/gmail-api/internal/credential"
)

// OAuthConfig is the installed-app OAuth client for Gmail with modify scope, which
// is enough to read messages and clear the unread label.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{gmail.GmailModifyScope},
		Endpoint:     google.Endpoint,
	}
}

// NewGmailService builds a Gmail client whose requests draw tokens from creds.
func NewGmailService(ctx context.Context, creds credential.Provider) (*gmail.Service, error) {
	svc, err := gmail.NewService(ctx, option.WithTokenSource(creds.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return svc, nil
}

func DefaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// NewLogger returns a logger writing to stderr. format is "text" or "json";
// unknown levels fall back to info.
func NewLogger(level, format string) *slog.Logger {
	return newLogger(os.Stderr, level, format)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
