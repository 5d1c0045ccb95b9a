package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Cycle is one ingestion pass.
type Cycle interface {
	Run(ctx context.Context) (Report, error)
}

// Locker is a cross-process mutex. Acquire returns false when another holder owns it.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Renewer is a Locker whose hold can be extended while a cycle runs.
type Renewer interface {
	Extend(ctx context.Context) error
	TTL() time.Duration
}

// Runner is the single-flight gate every trigger goes through. A trigger that
// arrives while a cycle runs, here or in another process sharing the Locker, is
// refused with ErrCycleInProgress.
type Runner struct {
	cycle  Cycle
	locker Locker
	Log    *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	wg      sync.WaitGroup
}

// NewRunner gates cycle. locker may be nil for a single instance.
func NewRunner(cycle Cycle, locker Locker, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Runner{cycle: cycle, locker: locker, Log: log}
}

// Trigger runs one cycle unless one is already running or the runner is closed.
func (r *Runner) Trigger(ctx context.Context, source string) (Report, error) {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return Report{}, ErrClosed
	case r.running:
		r.mu.Unlock()
		r.Log.Info("cycle skipped, previous still running", "trigger", source)
		return Report{}, ErrCycleInProgress
	}
	r.running = true
	r.wg.Add(1)
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		r.wg.Done()
	}()

	if r.locker != nil {
		ok, err := r.locker.Acquire(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("acquire cycle lock: %w", err)
		}
		if !ok {
			r.Log.Info("cycle skipped, held by another instance", "trigger", source)
			return Report{}, ErrCycleInProgress
		}
		defer func() {
			if err := r.locker.Release(context.WithoutCancel(ctx)); err != nil {
				r.Log.Warn("release cycle lock failed", "error", err)
			}
		}()
		if rn, ok := r.locker.(Renewer); ok && rn.TTL() > 0 {
			stop := r.keepAlive(context.WithoutCancel(ctx), rn)
			defer stop()
		}
	}

	r.Log.Debug("cycle started", "trigger", source)
	return r.cycle.Run(ctx)
}

// Busy reports whether a cycle is in flight in this process.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Close refuses new cycles and waits for the in-flight one, or for ctx.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight cycle: %w", ctx.Err())
	}
}

// keepAlive extends the lock every third of its TTL until stop is called.
func (r *Runner) keepAlive(ctx context.Context, rn Renewer) (stop func()) {
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(rn.TTL() / 3)
		defer t.Stop()
		for {
			select {
			case <-quit:
				return
			case <-t.C:
				if err := rn.Extend(ctx); err != nil {
					r.Log.Warn("extend cycle lock failed", "error", err)
				}
			}
		}
	}()
	return func() {
		close(quit)
		<-done
	}
}
