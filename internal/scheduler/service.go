// Package scheduler drives the periodic jobs (ingestion cycle, token watchdog) on
// cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Func is a scheduled job body. It receives the scheduler's root context bounded
// by the job timeout.
type Func func(ctx context.Context) error

// Job is one named schedule.
type Job struct {
	Name         string
	Schedule     string // standard 5-field cron or @every/@hourly descriptor
	Timeout      time.Duration
	RunOnStartup bool
	Run          Func
}

type Service struct {
	cron     *cron.Cron
	parser   cron.Parser
	log      *slog.Logger
	jobs     []Job
	location *time.Location
	entries  map[string]cron.EntryID
	mu       sync.RWMutex
	rootCtx  context.Context
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Option func(*Service)

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// NewService builds a scheduler. Overlapping runs of the same job are skipped by
// the cron engine itself.
func NewService(jobs []Job, opts ...Option) *Service {
	s := &Service{
		log:      slog.New(slog.DiscardHandler),
		location: time.UTC,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:     jobs,
		entries:  make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = newCron(s.location, s.log)
	return s
}

func newCron(loc *time.Location, log *slog.Logger) *cron.Cron {
	logger := cronLogger{log: log}
	return cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
}

// Validate parses every schedule without registering anything.
func (s *Service) Validate() error {
	for _, j := range s.jobs {
		if _, err := s.parser.Parse(j.Schedule); err != nil {
			return fmt.Errorf("job %s: schedule %q: %w", j.Name, j.Schedule, err)
		}
	}
	return nil
}

// Start registers all jobs and starts the engine. Jobs marked RunOnStartup are
// fired once right away.
func (s *Service) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return nil
	}
	s.rootCtx = ctx
	for _, j := range s.jobs {
		sched, err := s.parser.Parse(j.Schedule)
		if err != nil {
			return fmt.Errorf("job %s: schedule %q: %w", j.Name, j.Schedule, err)
		}
		id := s.cron.Schedule(sched, s.wrap(j))
		s.mu.Lock()
		s.entries[j.Name] = id
		s.mu.Unlock()
		s.log.Info("job scheduled", "job", j.Name, "schedule", j.Schedule)
	}
	s.cron.Start()
	s.started = true
	for _, j := range s.jobs {
		if j.RunOnStartup {
			s.mu.RLock()
			id := s.entries[j.Name]
			s.mu.RUnlock()
			job := s.cron.Entry(id).WrappedJob
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				job.Run()
			}()
		}
	}
	return nil
}

// Stop halts scheduling and waits for running jobs, including startup runs.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		s.wg.Wait()
	})
}

// Next returns the next activation of the named job, or the zero time.
func (s *Service) Next(name string) time.Time {
	s.mu.RLock()
	id, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Service) wrap(j Job) cron.Job {
	return cron.FuncJob(func() { s.execute(j) })
}

func (s *Service) execute(j Job) {
	ctx := s.rootCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	start := time.Now()
	if err := j.Run(ctx); err != nil {
		s.log.Warn("job failed", "job", j.Name, "duration", time.Since(start), "error", err)
		return
	}
	s.log.Debug("job finished", "job", j.Name, "duration", time.Since(start))
}

// cronLogger routes the engine's own messages through slog.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
