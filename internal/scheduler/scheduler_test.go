package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunsImmediatelyThenOnTicker(t *testing.T) {
	var runs atomic.Int64
	s := New(testLogger())
	if err := s.Register("count", 10*time.Millisecond, func(context.Context) {
		runs.Add(1)
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := runs.Load(); got < 3 {
		t.Errorf("runs = %d, want at least 3", got)
	}
}

func TestOverlapSkipped(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	var runs atomic.Int64

	s := New(testLogger())
	if err := s.Register("slow", time.Hour, func(context.Context) {
		runs.Add(1)
		close(started)
		<-block
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-started
	// Manual trigger while the first run is in flight shares the guard and
	// is skipped, but the task is still found.
	if !s.RunNow(context.Background(), "slow") {
		t.Error("RunNow = false for a registered task")
	}
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1 while first run is in flight", got)
	}

	close(block)
	s.Stop()
}

func TestRunNowUnknownTask(t *testing.T) {
	s := New(testLogger())
	if s.RunNow(context.Background(), "missing") {
		t.Error("RunNow = true for an unregistered task")
	}
}

func TestRegisterAfterStart(t *testing.T) {
	s := New(testLogger())
	if err := s.Register("a", time.Hour, func(context.Context) {}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Register("b", time.Hour, func(context.Context) {}); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Register after Start = %v, want ErrAlreadyStarted", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(testLogger())
	s.Stop() // before Start

	if err := s.Register("a", time.Hour, func(context.Context) {}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	s.Stop() // twice
}

func TestStopWaitsForInflightRun(t *testing.T) {
	entered := make(chan struct{})
	var finished atomic.Bool

	s := New(testLogger())
	if err := s.Register("slow", time.Hour, func(context.Context) {
		close(entered)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-entered
	s.Stop()
	if !finished.Load() {
		t.Error("Stop returned before the in-flight run finished")
	}
}
