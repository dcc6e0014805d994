package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"reviewbot/internal/eventbus"
	logx "reviewbot/pkg/logx"
)

func newTestService(bus eventbus.Bus) *Service {
	return New(Config{Enabled: true, DefaultTimeout: time.Second, HistorySize: 3}, logx.Nop(), bus)
}

func TestAddValidates(t *testing.T) {
	s := newTestService(nil)
	noop := func(context.Context) error { return nil }
	if err := s.Add("", "5m", JobOptions{}, noop); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := s.Add("sweep", "5m", JobOptions{}, nil); err == nil {
		t.Fatal("nil job accepted")
	}
	if err := s.Add("sweep", "61 * * * *", JobOptions{}, noop); err == nil {
		t.Fatal("bad cron accepted")
	}
	if err := s.Add("sweep", "@every 5m", JobOptions{}, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("sweep", "0 */2 * * *", JobOptions{}, noop); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "0 */2 * * *" {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}
	if !s.Remove("sweep") || s.Remove("sweep") {
		t.Fatal("Remove did not report correctly")
	}
}

func TestRunNowSkipsOverlap(t *testing.T) {
	s := newTestService(nil)
	release := make(chan struct{})
	started := make(chan struct{})
	_ = s.Add("slow", "1h", JobOptions{}, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})

	errc := make(chan error, 1)
	go func() { errc <- s.RunNow(context.Background(), "slow") }()
	<-started
	if err := s.RunNow(context.Background(), "slow"); !errors.Is(err, ErrSkipped) {
		t.Fatalf("overlapping run err = %v", err)
	}
	close(release)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Fatal("unknown schedule ran")
	}
}

func TestRunRecoversPanicAndTimesOut(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	s := newTestService(bus)

	_ = s.Add("panics", "1h", JobOptions{}, func(context.Context) error { panic("nil map") })
	_ = s.Add("hangs", "1h", JobOptions{Timeout: 20 * time.Millisecond}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := s.RunNow(context.Background(), "panics"); err == nil {
		t.Fatal("panic not reported")
	}
	if err := s.RunNow(context.Background(), "hangs"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout err = %v", err)
	}
	hist := s.Snapshot().History
	if len(hist) != 2 || hist[0].Error == "" || hist[1].Name != "hangs" {
		t.Fatalf("history = %+v", hist)
	}
	if got := len(events); got != 2 {
		t.Fatalf("events = %d, want 2", got)
	}
}

func TestHistoryBounded(t *testing.T) {
	s := newTestService(nil)
	_ = s.Add("tick", "1h", JobOptions{}, func(context.Context) error { return nil })
	for i := 0; i < 5; i++ {
		_ = s.RunNow(context.Background(), "tick")
	}
	if got := len(s.Snapshot().History); got != 3 {
		t.Fatalf("history len = %d, want 3", got)
	}
}

func TestStartTriggersIntervalJobs(t *testing.T) {
	s := newTestService(nil)
	var runs atomic.Int32
	_ = s.Add("tick", "20ms", JobOptions{}, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Start(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if runs.Load() == 0 {
		t.Fatal("interval job never ran")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	s.Start(context.Background())
	if s.Snapshot().Enabled {
		t.Fatal("disabled scheduler reports enabled")
	}
	s.Stop(context.Background())
}
