package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestValidateRejectsBadSchedule(t *testing.T) {
	svc := NewService([]Job{{Name: "bad", Schedule: "every five minutes", Run: func(context.Context) error { return nil }}})
	if err := svc.Validate(); err == nil {
		t.Fatalf("expected schedule error")
	}
	if err := svc.Start(context.Background()); err == nil {
		t.Fatalf("expected start to fail on bad schedule")
	}
}

func TestStartRegistersEntriesAndRunsStartupJobs(t *testing.T) {
	var ran int32
	done := make(chan struct{})
	svc := NewService([]Job{
		{Name: "cycle", Schedule: "*/5 * * * *", RunOnStartup: true, Run: func(context.Context) error {
			if atomic.AddInt32(&ran, 1) == 1 {
				close(done)
			}
			return nil
		}},
		{Name: "watchdog", Schedule: "@every 1m", Run: func(context.Context) error { return nil }},
	})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("startup job did not run")
	}
	if svc.Next("cycle").IsZero() || svc.Next("watchdog").IsZero() {
		t.Fatalf("expected next activation for both jobs")
	}
	if !svc.Next("missing").IsZero() {
		t.Fatalf("expected zero time for unknown job")
	}
}

func TestStopWaitsForRunningJob(t *testing.T) {
	started := make(chan struct{})
	var finished int32
	svc := NewService([]Job{{Name: "slow", Schedule: "@every 1h", RunOnStartup: true, Run: func(context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
		return nil
	}}})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started
	svc.Stop()
	if atomic.LoadInt32(&finished) != 1 {
		t.Fatalf("stop returned before the running job finished")
	}
}

func TestJobTimeoutBoundsContext(t *testing.T) {
	errs := make(chan error, 1)
	svc := NewService([]Job{{Name: "bounded", Schedule: "@every 1h", Timeout: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		errs <- ctx.Err()
		return ctx.Err()
	}}})
	svc.execute(svc.jobs[0])
	if err := <-errs; !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSkipIfStillRunning(t *testing.T) {
	var runs int32
	release := make(chan struct{})
	svc := NewService([]Job{{Name: "cycle", Schedule: "@every 1h", Run: func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		<-release
		return nil
	}}})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	job := svc.cron.Entry(svc.entries["cycle"]).WrappedJob
	go job.Run()
	time.Sleep(20 * time.Millisecond)
	job.Run() // returns immediately: first run still holds the slot
	close(release)
	svc.Stop()
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("expected overlapping run to be skipped, got %d runs", got)
	}
}
