// Package scheduler provides the process-wide worker pool that poll loops run on.
// It supports one-shot delayed tasks, fixed-rate periodic tasks and supervised
// goroutines, and has an explicit start/drain lifecycle.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Static errors for scheduler operations.
var (
	// ErrClosed is returned when work is submitted to a scheduler that is shutting down.
	ErrClosed = errors.New("scheduler: closed")
	// ErrInvalidPeriod is returned when a periodic task has a non-positive period.
	ErrInvalidPeriod = errors.New("scheduler: period must be positive")
)

// Func is the unit of work run by the scheduler. The context is cancelled when
// the scheduler is forcibly shut down.
type Func func(ctx context.Context)

// Scheduler runs delayed and periodic tasks on a bounded pool of worker goroutines.
type Scheduler struct {
	logger *slog.Logger
	slots  *semaphore.Weighted

	mu     sync.Mutex
	queue  taskQueue
	closed bool

	wake    chan struct{}
	closing chan struct{}
	stopped chan struct{}

	runCtx context.Context
	force  context.CancelFunc

	tasks errgroup.Group
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used to report task panics and lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a scheduler with the given number of workers and starts its dispatcher.
// A non-positive worker count is treated as one.
func New(workers int, opts ...Option) *Scheduler {
	if workers <= 0 {
		workers = 1
	}

	runCtx, force := context.WithCancel(context.Background())
	s := &Scheduler{
		logger:  slog.Default(),
		slots:   semaphore.NewWeighted(int64(workers)),
		wake:    make(chan struct{}, 1),
		closing: make(chan struct{}),
		stopped: make(chan struct{}),
		runCtx:  runCtx,
		force:   force,
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.dispatch()

	s.logger.Debug("scheduler started", slog.Int("workers", workers))
	return s
}

// Schedule runs fn once after delay. The returned task can be cancelled while it is queued.
func (s *Scheduler) Schedule(delay time.Duration, fn Func) (*Task, error) {
	return s.enqueue(&Task{fn: fn, due: time.Now().Add(delay)})
}

// ScheduleAtFixedRate runs fn after initialDelay and then every period.
// Runs of the same task never overlap: if a run outlasts one or more periods,
// the overdue ticks are skipped and the next run is aligned to the original cadence.
func (s *Scheduler) ScheduleAtFixedRate(initialDelay, period time.Duration, fn Func) (*Task, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	return s.enqueue(&Task{fn: fn, due: time.Now().Add(initialDelay), period: period})
}

// Go runs fn on a supervised goroutine that does not occupy a worker slot.
// Shutdown waits for it like any other running task.
func (s *Scheduler) Go(fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.tasks.Go(func() error {
		s.safeRun(fn)
		return nil
	})
	return nil
}

// Closing returns a channel that is closed when Shutdown begins.
func (s *Scheduler) Closing() <-chan struct{} {
	return s.closing
}

// Pending returns the number of queued tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Shutdown stops accepting work, discards queued tasks and waits for running tasks.
// If ctx expires first, the task context is cancelled and the ctx error is returned
// once the running tasks have returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.stopped
		return nil
	}
	s.closed = true
	dropped := s.queue.Len()
	for _, t := range s.queue {
		t.index = -1
		t.cancelled = true
	}
	s.queue = nil
	s.mu.Unlock()
	close(s.closing)

	s.logger.Info("scheduler draining", slog.Int("dropped_tasks", dropped))

	drained := make(chan struct{})
	go func() {
		<-s.stopped
		_ = s.tasks.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.force()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler grace period expired, cancelling running tasks")
		s.force()
		<-drained
		return fmt.Errorf("scheduler: forced shutdown: %w", ctx.Err())
	}
}

func (s *Scheduler) enqueue(t *Task) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	t.s = s
	heap.Push(&s.queue, t)
	s.notify()
	return t, nil
}

// notify wakes the dispatcher. Callers hold s.mu.
func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatch reserves a worker slot, waits for the next due task and runs it.
func (s *Scheduler) dispatch() {
	defer close(s.stopped)
	for {
		if err := s.slots.Acquire(s.runCtx, 1); err != nil {
			return
		}
		t, ok := s.next()
		if !ok {
			s.slots.Release(1)
			return
		}
		s.tasks.Go(func() error {
			defer s.slots.Release(1)
			s.run(t)
			return nil
		})
	}
}

// next blocks until a queued task is due. It returns false once the scheduler closes.
func (s *Scheduler) next() (*Task, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, false
		}

		var (
			timer *time.Timer
			due   <-chan time.Time
		)
		if s.queue.Len() > 0 {
			head := s.queue[0]
			wait := time.Until(head.due)
			if wait <= 0 {
				heap.Pop(&s.queue)
				s.mu.Unlock()
				return head, true
			}
			timer = time.NewTimer(wait)
			due = timer.C
		}
		s.mu.Unlock()

		select {
		case <-due:
		case <-s.wake:
		case <-s.closing:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (s *Scheduler) run(t *Task) {
	s.safeRun(t.fn)

	s.mu.Lock()
	defer s.mu.Unlock()
	if t.period <= 0 || t.cancelled || s.closed {
		return
	}

	now := time.Now()
	next := t.due.Add(t.period)
	for !next.After(now) {
		next = next.Add(t.period)
	}
	t.due = next
	heap.Push(&s.queue, t)
	s.notify()
}

func (s *Scheduler) safeRun(fn Func) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn(s.runCtx)
}
