package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/t-cloud/edge-certmon/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestRegisterValidation(t *testing.T) {
	s := New(testLogger())

	if err := s.Register(Job{Name: "sync", Schedule: "0 2 */2 * *", Run: func(ctx context.Context) error { return nil }}); err != nil {
		t.Fatalf("valid job: %v", err)
	}
	if err := s.Register(Job{Name: "sync", Schedule: "0 2 * * *", Run: func(ctx context.Context) error { return nil }}); err == nil {
		t.Error("duplicate name must be rejected")
	}
	if err := s.Register(Job{Name: "bad", Schedule: "not a cron expr", Run: func(ctx context.Context) error { return nil }}); err == nil {
		t.Error("invalid schedule must be rejected")
	}
}

func TestTriggerRunsJob(t *testing.T) {
	var runs atomic.Int32
	s := New(testLogger())
	s.Register(Job{Name: "sync", Schedule: "0 2 * * *", Run: func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}})

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if err := s.Trigger("sync"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })

	if err := s.Trigger("nope"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("unknown job error = %v, want ErrUnknownJob", err)
	}
}

func TestTriggerOverlapCoalesces(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32

	s := New(testLogger())
	s.Register(Job{Name: "slow", Schedule: "0 2 * * *", Run: func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := s.Trigger("slow"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })

	// One trigger queues while the job runs; the next is rejected.
	if err := s.Trigger("slow"); err != nil {
		t.Errorf("second trigger must queue: %v", err)
	}
	if err := s.Trigger("slow"); !errors.Is(err, ErrJobBusy) {
		t.Errorf("third trigger = %v, want ErrJobBusy", err)
	}

	close(release)
	waitFor(t, time.Second, func() bool { return runs.Load() == 2 })
	s.Stop()
}

func TestStatusTracksRuns(t *testing.T) {
	jobErr := errors.New("nsx unreachable")
	s := New(testLogger())
	s.Register(Job{Name: "sync", Schedule: "0 2 * * *", Run: func(ctx context.Context) error { return jobErr }})
	s.Register(Job{Name: "check", Schedule: "0 3 * * 1", Run: func(ctx context.Context) error { return nil }})

	before := s.Status()
	if len(before) != 2 || before[0].Name != "sync" || before[1].Name != "check" {
		t.Fatalf("status order = %+v, want registration order", before)
	}
	if before[0].State != types.JobIdle || before[0].LastStarted != nil {
		t.Errorf("unstarted job status = %+v", before[0])
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	s.Trigger("sync")
	waitFor(t, time.Second, func() bool {
		st := s.Status()[0]
		return st.State == types.JobIdle && st.LastStarted != nil
	})

	st := s.Status()[0]
	if st.LastError != jobErr.Error() {
		t.Errorf("last error = %q, want %q", st.LastError, jobErr)
	}

	// A later successful run clears the recorded error.
	s.jobs["sync"].run = func(ctx context.Context) error { return nil }
	s.Trigger("sync")
	waitFor(t, time.Second, func() bool { return s.Status()[0].LastError == "" })
}

func TestRunStartupSequence(t *testing.T) {
	var order []string
	s := New(testLogger())
	s.Register(Job{Name: "sync", Schedule: "0 2 * * *", Run: func(ctx context.Context) error {
		order = append(order, "sync")
		return errors.New("transient")
	}})
	s.Register(Job{Name: "check", Schedule: "0 3 * * 1", Run: func(ctx context.Context) error {
		order = append(order, "check")
		return nil
	}})

	// Runs synchronously and continues past the failed first job.
	s.RunStartup(context.Background(), "sync", "check")

	if len(order) != 2 || order[0] != "sync" || order[1] != "check" {
		t.Errorf("startup order = %v, want [sync check]", order)
	}
}
