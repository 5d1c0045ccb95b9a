package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jdaza33/gmail-api/internal/mailsource"
	"github.com/jdaza33/gmail-api/internal/order"
)

// fakeMailbox is an in-memory mailbox keyed by message id, in insertion order.
type fakeMailbox struct {
	mu       sync.Mutex
	order    []mailsource.MessageID
	messages map[mailsource.MessageID]mailsource.Message
	unread   map[mailsource.MessageID]bool

	listErr error
	getErr  map[mailsource.MessageID]error
	ackErr  map[mailsource.MessageID]error
	hangGet map[mailsource.MessageID]bool

	filters []mailsource.Filter
	acked   []mailsource.MessageID
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages: map[mailsource.MessageID]mailsource.Message{},
		unread:   map[mailsource.MessageID]bool{},
		getErr:   map[mailsource.MessageID]error{},
		ackErr:   map[mailsource.MessageID]error{},
		hangGet:  map[mailsource.MessageID]bool{},
	}
}

func (f *fakeMailbox) add(id mailsource.MessageID, subject string, bodies ...string) {
	msg := mailsource.Message{ID: id}
	if subject != "" {
		msg.Headers = append(msg.Headers, mailsource.Header{Name: "Subject", Value: subject})
	}
	for _, b := range bodies {
		msg.Parts = append(msg.Parts, mailsource.Part{
			MimeType: "text/plain",
			Data:     base64.URLEncoding.EncodeToString([]byte(b)),
			Encoding: mailsource.EncodingBase64URL,
		})
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, id)
	f.messages[id] = msg
	f.unread[id] = true
}

func (f *fakeMailbox) isUnread(id mailsource.MessageID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread[id]
}

func (f *fakeMailbox) List(ctx context.Context, flt mailsource.Filter) ([]mailsource.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, flt)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var ids []mailsource.MessageID
	for _, id := range f.order {
		if f.unread[id] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeMailbox) Get(ctx context.Context, id mailsource.MessageID) (mailsource.Message, error) {
	if err := ctx.Err(); err != nil {
		return mailsource.Message{}, err
	}
	f.mu.Lock()
	hang := f.hangGet[id]
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return mailsource.Message{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.getErr[id]; err != nil {
		return mailsource.Message{}, err
	}
	msg, ok := f.messages[id]
	if !ok {
		return mailsource.Message{}, fmt.Errorf("message %s not found", id)
	}
	return msg, nil
}

func (f *fakeMailbox) RemoveUnreadMark(ctx context.Context, id mailsource.MessageID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ackErr[id]; err != nil {
		return err
	}
	f.unread[id] = false
	f.acked = append(f.acked, id)
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	records []order.Record
	failFor map[string]error // by Nombre
	hangFor map[string]bool  // by Nombre, blocks until the call context ends
}

func (s *fakeStore) Insert(ctx context.Context, r order.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.hangFor[r.Nombre] {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[r.Nombre]; err != nil {
		return err
	}
	s.records = append(s.records, r)
	return nil
}

func (s *fakeStore) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.records))
	for i, r := range s.records {
		out[i] = r.Nombre
	}
	return out
}

type memLedger struct {
	mu   sync.Mutex
	seen map[mailsource.MessageID]bool
	err  error
}

func (l *memLedger) Seen(_ context.Context, id mailsource.MessageID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	return l.seen[id], nil
}

func (l *memLedger) Remember(_ context.Context, id mailsource.MessageID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = map[mailsource.MessageID]bool{}
	}
	l.seen[id] = true
	return nil
}

func (l *memLedger) Forget(_ context.Context, id mailsource.MessageID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, id)
	return nil
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	cycles   []string
}

func (r *countingRecorder) MessageOutcome(o string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[o]++
}

func (r *countingRecorder) CycleFinished(result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, result)
}

var errBoom = errors.New("boom")

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
