// Package scheduler runs the engine's periodic tasks. Each task is a named
// closure on its own ticker; a tick that arrives while the previous run is
// still in flight is skipped, never queued.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var ErrAlreadyStarted = errors.New("scheduler: already started")

type task struct {
	name     string
	interval time.Duration
	fn       func(context.Context)
	running  atomic.Bool
}

// run executes the task once, skipping if a previous run is still active.
func (t *task) run(ctx context.Context, logger *slog.Logger) {
	if !t.running.CompareAndSwap(false, true) {
		logger.Warn("task still running, tick skipped", slog.String("task", t.name))
		return
	}
	defer t.running.Store(false)

	start := time.Now()
	t.fn(ctx)
	logger.Debug("task finished",
		slog.String("task", t.name),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// Scheduler owns a set of periodic tasks. Register before Start; Stop is
// safe to call at any time, including before Start or more than once.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	tasks   []*task
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger.With(slog.String("component", "scheduler"))}
}

// Register adds a named periodic task. Registering after Start fails.
func (s *Scheduler) Register(name string, interval time.Duration, fn func(context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.tasks = append(s.tasks, &task{name: name, interval: interval, fn: fn})
	return nil
}

// Start launches every registered task. Each task runs once immediately and
// then on its interval until the context is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	s.group = g
	tasks := s.tasks
	s.mu.Unlock()

	for _, t := range tasks {
		t := t
		g.Go(func() error {
			s.logger.Info("task started",
				slog.String("task", t.name),
				slog.Duration("interval", t.interval),
			)
			t.run(ctx, s.logger)

			ticker := time.NewTicker(t.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					s.logger.Info("task stopped", slog.String("task", t.name))
					return nil
				case <-ticker.C:
					t.run(ctx, s.logger)
				}
			}
		})
	}
	return nil
}

// RunNow triggers one task out of band. It shares the overlap guard with
// the ticker, so a manual trigger during a scheduled run is skipped.
func (s *Scheduler) RunNow(ctx context.Context, name string) bool {
	s.mu.Lock()
	var found *task
	for _, t := range s.tasks {
		if t.name == name {
			found = t
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		return false
	}
	found.run(ctx, s.logger)
	return true
}

// Stop cancels all tasks and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	group := s.group
	s.cancel = nil
	s.group = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if group != nil {
		_ = group.Wait()
	}
}
