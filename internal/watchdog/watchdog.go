// Package watchdog decides when the OAuth access token is past its expiry and
// routes that to a refresh, and failing that, a process restart.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Signal is the watchdog's decision for a token expiry.
type Signal int

const (
	NoOp Signal = iota
	Restart
)

func (s Signal) String() string {
	if s == Restart {
		return "restart"
	}
	return "noop"
}

// Check returns Restart once now has passed expiry. A zero expiry means the
// token never expires.
func Check(now, expiry time.Time) Signal {
	if expiry.IsZero() || !now.After(expiry) {
		return NoOp
	}
	return Restart
}

// ExpirySource exposes the current token expiry.
type ExpirySource interface {
	Expiry() time.Time
}

// Refresher obtains a new access token in place.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Requester asks the process to restart.
type Requester interface {
	Request(reason string)
}

// Watchdog acts on Check for the live token on every tick.
type Watchdog struct {
	Tokens    ExpirySource
	Refresher Refresher // optional
	Restarter Requester
	Log       *slog.Logger
	Clock     func() time.Time
	OnExpiry  func(time.Time) // optional, e.g. a metrics gauge
}

// Tick runs one check. On an expired token it tries a refresh first and only
// requests a restart if the token is still expired afterwards.
func (w *Watchdog) Tick(ctx context.Context) Signal {
	now := time.Now
	if w.Clock != nil {
		now = w.Clock
	}
	log := w.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	expiry := w.Tokens.Expiry()
	if w.OnExpiry != nil {
		w.OnExpiry(expiry)
	}
	if Check(now(), expiry) == NoOp {
		return NoOp
	}
	log.Warn("access token expired", "expiry", expiry)

	if w.Refresher != nil {
		if err := w.Refresher.Refresh(ctx); err != nil {
			log.Error("token refresh failed", "error", err)
		} else {
			expiry = w.Tokens.Expiry()
			if w.OnExpiry != nil {
				w.OnExpiry(expiry)
			}
			if Check(now(), expiry) == NoOp {
				log.Info("token refreshed", "expiry", expiry)
				return NoOp
			}
		}
	}
	w.Restarter.Request("access token expired")
	return Restart
}

// Restarter turns the first restart request into a drained shutdown: it waits for
// the in-flight cycle through Drain, then closes Done. Later requests are ignored.
type Restarter struct {
	Drain     func(ctx context.Context) error
	Timeout   time.Duration
	Log       *slog.Logger
	OnRequest func()

	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	reason string
}

func NewRestarter(drain func(ctx context.Context) error, timeout time.Duration, log *slog.Logger) *Restarter {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Restarter{Drain: drain, Timeout: timeout, Log: log, done: make(chan struct{})}
}

// Request starts the drain. Only the first call has any effect.
func (r *Restarter) Request(reason string) {
	r.once.Do(func() {
		r.mu.Lock()
		r.reason = reason
		r.mu.Unlock()
		if r.OnRequest != nil {
			r.OnRequest()
		}
		r.Log.Warn("restart requested, draining", "reason", reason)
		go r.drain()
	})
}

func (r *Restarter) drain() {
	defer close(r.done)
	if r.Drain == nil {
		return
	}
	ctx := context.Background()
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	if err := r.Drain(ctx); err != nil {
		r.Log.Error("drain before restart incomplete", "error", err)
	}
}

// Done is closed once a requested restart has drained.
func (r *Restarter) Done() <-chan struct{} { return r.done }

// Reason returns the first restart reason, or "" if none was requested.
func (r *Restarter) Reason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}
