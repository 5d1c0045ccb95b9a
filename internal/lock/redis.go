// Package lock provides the cross-process mutex that keeps ingestion cycles from
// overlapping when several instances share one mailbox.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld means the key expired or was taken over before Extend ran.
var ErrNotHeld = errors.New("lock no longer held")

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLock is a SET NX lock with TTL. Release only deletes the key while this
// holder still owns it.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	value  string
	ttl    time.Duration
}

// NewRedisLock returns a lock on "lock:<key>". ttl must exceed the longest cycle.
func NewRedisLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisLock {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return &RedisLock{
		client: client,
		key:    "lock:" + key,
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire reports whether the lock was taken.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

// Extend pushes the expiry out by a full TTL while this holder still owns the key.
func (l *RedisLock) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("extend lock %s: %w", l.key, ErrNotHeld)
	}
	return nil
}

func (l *RedisLock) TTL() time.Duration { return l.ttl }
