package mailsource

import (
	"context"
	"errors"
)

// ErrUnauthorized is wrapped by adapters when the provider rejects the credentials.
var ErrUnauthorized = errors.New("mail provider rejected credentials")

// Source is the narrow mailbox surface the ingestion cycle needs.
type Source interface {
	List(ctx context.Context, f Filter) ([]MessageID, error)
	Get(ctx context.Context, id MessageID) (Message, error)
	RemoveUnreadMark(ctx context.Context, id MessageID) error
}
