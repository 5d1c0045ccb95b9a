// Package credential owns the OAuth token used by the mail transport: where it is
// stored, when it expires, and who is told when it rolls over.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoToken means the token file does not exist yet; the auth flow has not run.
var ErrNoToken = errors.New("no oauth token stored")

// Provider supplies credentials to the mail transport and exposes their expiry.
type Provider interface {
	TokenSource(ctx context.Context) oauth2.TokenSource
	Expiry() time.Time
	OnRefresh(fn func(oauth2.Token))
}

// TokenFile keeps an OAuth token in a JSON file and rewrites it whenever the
// token is refreshed or exchanged.
type TokenFile struct {
	config *oauth2.Config
	path   string
	Log    *slog.Logger

	mu    sync.RWMutex
	token *oauth2.Token
	hooks []func(oauth2.Token)
}

// NewTokenFile returns a provider for the token stored at path. Call Load before
// handing out token sources.
func NewTokenFile(config *oauth2.Config, path string) *TokenFile {
	return &TokenFile{config: config, path: path}
}

// Load reads the token file. A missing file yields ErrNoToken.
func (p *TokenFile) Load() error {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read token %s: %w", p.path, ErrNoToken)
	}
	if err != nil {
		return fmt.Errorf("read token %s: %w", p.path, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return fmt.Errorf("decode token %s: %w", p.path, err)
	}
	p.mu.Lock()
	p.token = &tok
	p.mu.Unlock()
	return nil
}

// Expiry returns the access token expiry, or the zero time when there is no
// token or it never expires.
func (p *TokenFile) Expiry() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == nil {
		return time.Time{}
	}
	return p.token.Expiry
}

// Token returns a copy of the current token.
func (p *TokenFile) Token() (oauth2.Token, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == nil {
		return oauth2.Token{}, false
	}
	return *p.token, true
}

// OnRefresh registers fn to run after every roll-over, once the new token is stored.
func (p *TokenFile) OnRefresh(fn func(oauth2.Token)) {
	p.mu.Lock()
	p.hooks = append(p.hooks, fn)
	p.mu.Unlock()
}

// TokenSource returns a source that reads the stored token on every call, so a
// token obtained later through Exchange or Refresh is picked up without
// rebuilding the client. Expired tokens are refreshed and recorded here.
func (p *TokenFile) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &liveSource{ctx: ctx, owner: p}
}

// Refresh forces a refresh-token grant regardless of the current expiry.
func (p *TokenFile) Refresh(ctx context.Context) error {
	p.mu.RLock()
	current := p.token
	p.mu.RUnlock()
	if current == nil || current.RefreshToken == "" {
		return fmt.Errorf("refresh token: %w", ErrNoToken)
	}
	stale := &oauth2.Token{RefreshToken: current.RefreshToken}
	tok, err := p.config.TokenSource(ctx, stale).Token()
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	return p.store(tok)
}

// AuthCodeURL is the consent URL for the offline-access handshake.
func (p *TokenFile) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it.
func (p *TokenFile) Exchange(ctx context.Context, code string) error {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	return p.store(tok)
}

func (p *TokenFile) store(tok *oauth2.Token) error {
	p.mu.Lock()
	if tok.RefreshToken == "" && p.token != nil {
		tok.RefreshToken = p.token.RefreshToken
	}
	p.token = tok
	hooks := append([]func(oauth2.Token){}, p.hooks...)
	p.mu.Unlock()

	err := p.save(*tok)
	for _, fn := range hooks {
		fn(*tok)
	}
	return err
}

func (p *TokenFile) save(tok oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod token: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("replace token %s: %w", p.path, err)
	}
	return nil
}

// liveSource serializes refreshes so concurrent callers do not each spend a
// refresh-token grant.
type liveSource struct {
	ctx   context.Context
	owner *TokenFile
	mu    sync.Mutex
}

func (s *liveSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.owner.mu.RLock()
	current := s.owner.token
	s.owner.mu.RUnlock()
	switch {
	case current == nil:
		return nil, fmt.Errorf("token source: %w", ErrNoToken)
	case current.Valid():
		tok := *current
		return &tok, nil
	case current.RefreshToken == "":
		return nil, fmt.Errorf("token expired without refresh token: %w", ErrNoToken)
	}

	tok, err := s.owner.config.TokenSource(s.ctx, current).Token()
	if err != nil {
		return nil, err
	}
	stored := *tok
	// The refreshed token is usable from memory even if the file write fails.
	if err := s.owner.store(&stored); err != nil && s.owner.Log != nil {
		s.owner.Log.Warn("persist refreshed token failed", "path", s.owner.path, "error", err)
	}
	return tok, nil
}

var _ Provider = (*TokenFile)(nil)
