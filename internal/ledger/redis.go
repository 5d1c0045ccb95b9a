// Package ledger remembers which messages already produced a stored record, so a
// retry after a failed acknowledgment does not insert the order twice.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jdaza33/gmail-api/internal/mailsource"
)

// DefaultTTL bounds how long an unacknowledged entry is kept.
const DefaultTTL = 7 * 24 * time.Hour

type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "orderpoll:ledger"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(id mailsource.MessageID) string {
	return r.prefix + ":" + string(id)
}

func (r *Redis) Seen(ctx context.Context, id mailsource.MessageID) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("ledger lookup %s: %w", id, err)
	}
	return n > 0, nil
}

func (r *Redis) Remember(ctx context.Context, id mailsource.MessageID) error {
	if err := r.client.Set(ctx, r.key(id), time.Now().UTC().Format(time.RFC3339), r.ttl).Err(); err != nil {
		return fmt.Errorf("ledger remember %s: %w", id, err)
	}
	return nil
}

func (r *Redis) Forget(ctx context.Context, id mailsource.MessageID) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("ledger forget %s: %w", id, err)
	}
	return nil
}
