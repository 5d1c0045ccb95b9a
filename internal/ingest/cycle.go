// Package ingest runs the order-mail ingestion cycle: list unread order mail,
// extract and parse each message, persist the record and clear the unread mark.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jdaza33/gmail-api/internal/mailsource"
	"github.com/jdaza33/gmail-api/internal/order"
)

// Ledger remembers messages whose record is stored but whose unread mark may
// not have been cleared yet.
type Ledger interface {
	Seen(ctx context.Context, id mailsource.MessageID) (bool, error)
	Remember(ctx context.Context, id mailsource.MessageID) error
	Forget(ctx context.Context, id mailsource.MessageID) error
}

// Recorder receives per-message outcomes and per-cycle results.
type Recorder interface {
	MessageOutcome(outcome string)
	CycleFinished(result string, d time.Duration)
}

// Message outcomes passed to Recorder.
const (
	OutcomePersisted    = "persisted"
	OutcomeSkipped      = "skipped"
	OutcomeDeduplicated = "deduplicated"
	OutcomeFailed       = "failed"
)

// Report aggregates one cycle.
type Report struct {
	RunID        string        `json:"run_id"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Discovered   int           `json:"discovered"`
	Parsed       int           `json:"parsed"`
	Persisted    int           `json:"persisted"`
	Acknowledged int           `json:"acknowledged"`
	Skipped      int           `json:"skipped"`
	Deduplicated int           `json:"deduplicated"`
	Failed       int           `json:"failed"`
	Failures     []*StageError `json:"failures,omitempty"`
}

// Service runs ingestion cycles against one mailbox and one record store.
type Service struct {
	Source      mailsource.Source
	Extractor   *Extractor
	Sink        *Sink
	Ledger      Ledger // optional
	Filter      mailsource.Filter
	Concurrency int
	Timeout     time.Duration // per list and acknowledge call
	Log         *slog.Logger
	Metrics     Recorder
	Clock       func() time.Time
}

// NewService wires a cycle over src and store with one call timeout for every
// provider and store call.
func NewService(src mailsource.Source, store RecordStore, log *slog.Logger, timeout time.Duration) *Service {
	return &Service{
		Source:      src,
		Extractor:   &Extractor{Source: src, Timeout: timeout},
		Sink:        &Sink{Store: store, Timeout: timeout},
		Filter:      mailsource.NewFilter(mailsource.DefaultSenders, true),
		Concurrency: 1,
		Timeout:     timeout,
		Log:         log,
		Clock:       time.Now,
	}
}

// Run executes one cycle. Per-message failures are collected in the report and
// never stop the batch. The returned error is non-nil only when listing fails or
// when the provider rejected the credentials; the report is valid either way.
//
// Once ctx is canceled no further messages are started, but messages already in
// flight finish on their own per-call timeouts.
func (s *Service) Run(ctx context.Context) (Report, error) {
	clock := s.Clock
	if clock == nil {
		clock = time.Now
	}
	rep := &Report{RunID: uuid.NewString(), StartedAt: clock()}
	log := s.logger().With("run_id", rep.RunID)

	ids, err := s.list(ctx)
	if err != nil {
		rep.Duration = clock().Sub(rep.StartedAt)
		log.Error("list messages failed", "stage", StageList, "error", err)
		s.cycleFinished(err, rep.Duration)
		return *rep, err
	}
	rep.Discovered = len(ids)
	if len(ids) == 0 {
		rep.Duration = clock().Sub(rep.StartedAt)
		log.Info("no order messages", "duration", rep.Duration)
		s.cycleFinished(nil, rep.Duration)
		return *rep, nil
	}

	var (
		mu   sync.Mutex
		g    errgroup.Group
		work = context.WithoutCancel(ctx)
	)
	limit := s.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, id := range ids {
		if ctx.Err() != nil {
			log.Warn("cycle interrupted, remaining messages left unread", "error", ctx.Err())
			break
		}
		g.Go(func() error {
			s.process(work, log, id, rep, &mu)
			return nil
		})
	}
	_ = g.Wait()

	rep.Duration = clock().Sub(rep.StartedAt)
	var runErr error
	for _, f := range rep.Failures {
		if errors.Is(f, ErrAuth) {
			runErr = fmt.Errorf("cycle %s: %w", rep.RunID, f)
			break
		}
	}
	log.Info("cycle finished",
		"discovered", rep.Discovered,
		"persisted", rep.Persisted,
		"acknowledged", rep.Acknowledged,
		"skipped", rep.Skipped,
		"deduplicated", rep.Deduplicated,
		"failed", rep.Failed,
		"duration", rep.Duration,
	)
	s.cycleFinished(runErr, rep.Duration)
	return *rep, runErr
}

func (s *Service) list(ctx context.Context) ([]mailsource.MessageID, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	ids, err := s.Source.List(ctx, s.Filter)
	if err != nil {
		return nil, sourceError("list messages", err)
	}
	return ids, nil
}

func (s *Service) process(ctx context.Context, log *slog.Logger, id mailsource.MessageID, rep *Report, mu *sync.Mutex) {
	log = log.With("message_id", id)
	fail := func(stage Stage, err error) {
		se := &StageError{Stage: stage, MessageID: id, Err: err}
		log.Error("message failed", "stage", stage, "error", err)
		mu.Lock()
		rep.Failed++
		rep.Failures = append(rep.Failures, se)
		mu.Unlock()
		s.outcome(OutcomeFailed)
	}
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	payload, err := s.Extractor.Extract(ctx, id)
	if err != nil {
		fail(StageExtract, err)
		return
	}
	res := order.Parse(payload.Parts, payload.Subject)
	if res.NotParseable() {
		log.Info("no order block, leaving message unread", "subject", payload.Subject.String())
		count(&rep.Skipped)
		s.outcome(OutcomeSkipped)
		return
	}
	count(&rep.Parsed)

	if s.alreadyStored(ctx, log, id) {
		count(&rep.Deduplicated)
		s.outcome(OutcomeDeduplicated)
	} else {
		if err := s.Sink.Persist(ctx, res.Record); err != nil {
			fail(StagePersist, err)
			return
		}
		count(&rep.Persisted)
		s.outcome(OutcomePersisted)
		if s.Ledger != nil {
			if err := s.Ledger.Remember(ctx, id); err != nil {
				log.Warn("ledger remember failed", "error", err)
			}
		}
	}

	if err := s.acknowledge(ctx, id); err != nil {
		fail(StageAcknowledge, err)
		return
	}
	count(&rep.Acknowledged)
	if s.Ledger != nil {
		if err := s.Ledger.Forget(ctx, id); err != nil {
			log.Warn("ledger forget failed", "error", err)
		}
	}
}

// alreadyStored reports a ledger hit. Ledger errors fall back to inserting.
func (s *Service) alreadyStored(ctx context.Context, log *slog.Logger, id mailsource.MessageID) bool {
	if s.Ledger == nil {
		return false
	}
	seen, err := s.Ledger.Seen(ctx, id)
	if err != nil {
		log.Warn("ledger lookup failed", "error", err)
		return false
	}
	return seen
}

func (s *Service) acknowledge(ctx context.Context, id mailsource.MessageID) error {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	if err := s.Source.RemoveUnreadMark(ctx, id); err != nil {
		return fmt.Errorf("%w: %w", ErrAcknowledge, sourceError("remove unread mark", err))
	}
	return nil
}

func (s *Service) logger() *slog.Logger {
	if s.Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Log
}

func (s *Service) outcome(o string) {
	if s.Metrics != nil {
		s.Metrics.MessageOutcome(o)
	}
}

func (s *Service) cycleFinished(err error, d time.Duration) {
	if s.Metrics == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, ErrAuth):
		result = "auth"
	case err != nil:
		result = "error"
	}
	s.Metrics.CycleFinished(result, d)
}
