// Package rate gates outbound mail provider calls.
package rate

import (
	"context"
	"fmt"
	"time"
)

// Limiter blocks until the next provider call may proceed.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Unlimited never blocks except on a canceled context.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate wait canceled: %w", err)
	}
	return nil
}

// TokenBucket releases rps tokens per second and holds at most burst of them.
type TokenBucket struct {
	ticker   *time.Ticker
	tokens   chan struct{}
	stop     chan struct{}
	stopDone chan struct{}
}

// New returns Unlimited for rps <= 0, a TokenBucket otherwise.
func New(rps, burst int) Limiter {
	if rps <= 0 {
		return Unlimited{}
	}
	return NewTokenBucket(rps, burst)
}

// NewTokenBucket starts a bucket that is full, so the first burst calls go through.
func NewTokenBucket(rps, burst int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	tb := &TokenBucket{
		ticker:   time.NewTicker(time.Second / time.Duration(rps)),
		tokens:   make(chan struct{}, burst),
		stop:     make(chan struct{}),
		stopDone: make(chan struct{}),
	}
	for i := 0; i < burst; i++ {
		tb.tokens <- struct{}{}
	}
	go tb.run()
	return tb
}

func (t *TokenBucket) run() {
	defer close(t.stopDone)
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Wait blocks until a token is available or the context is canceled.
func (t *TokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-t.tokens:
		return nil
	}
}

// Stop releases the ticker goroutine. Wait keeps draining tokens already issued.
func (t *TokenBucket) Stop() {
	t.ticker.Stop()
	close(t.stop)
	<-t.stopDone
}

// Stop releases resources held by l if it has any.
func Stop(l Limiter) {
	if tb, ok := l.(*TokenBucket); ok {
		tb.Stop()
	}
}

var (
	_ Limiter = (*TokenBucket)(nil)
	_ Limiter = Unlimited{}
)
