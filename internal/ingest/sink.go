package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/jdaza33/gmail-api/internal/order"
)

// RecordStore appends one order record. Implementations must use parameterized
// statements.
type RecordStore interface {
	Insert(ctx context.Context, r order.Record) error
}

// Sink stamps records with creation time and initial status before storing them.
type Sink struct {
	Store   RecordStore
	Clock   func() time.Time
	Timeout time.Duration
}

func (s *Sink) Persist(ctx context.Context, r order.Record) error {
	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}
	r.CreatedAt = now().UTC()
	r.Status = order.StatusNew

	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	if err := s.Store.Insert(ctx, r); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}
