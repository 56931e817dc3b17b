// Package poller waits for a remote long-running operation to reach a terminal
// status. One contract is implemented by four scheduling strategies that are
// interchangeable from the caller's point of view:
//
//   - reschedule: each pending result schedules the next check on the shared
//     worker pool, delayed from the end of the current check.
//   - fixed-rate: one periodic task on the shared worker pool; checks never
//     overlap and overdue ticks are skipped.
//   - blocking: a straight-line sleep/check loop on a supervised goroutine;
//     the next check is due one interval after the previous check started.
//   - stream: a ticker stage feeding a check stage feeding a take-first-terminal
//     stage on a supervised goroutine; ticks arriving while a check is running
//     are dropped.
//
// In every strategy the first check is issued immediately, checks for one
// operation are strictly sequential, and the first terminal outcome wins.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/videogen-lro/internal/observability"
	"github.com/maauso/videogen-lro/internal/operation"
	"github.com/maauso/videogen-lro/internal/scheduler"
)

// Static errors for poller construction and configuration.
var (
	// ErrInvalidConfig is returned when Interval or MaxWait is not positive.
	ErrInvalidConfig = errors.New("poller: invalid config")
	// ErrUnknownStrategy is returned for a strategy name outside the closed set.
	ErrUnknownStrategy = errors.New("poller: unknown strategy")
	// ErrSchedulerRequired is returned when a pool-backed strategy has no scheduler.
	ErrSchedulerRequired = errors.New("poller: scheduler is required")
	// ErrNilCheck is returned when Poll is called without a check function.
	ErrNilCheck = errors.New("poller: check function is required")
)

// CheckFunc performs one status check. It returns a normalised status, or an
// error which ends the poll immediately.
type CheckFunc func(ctx context.Context, handle operation.Handle) (operation.Status, error)

// Config bounds a poll loop. Both fields are required; the cancellation signal
// is the context passed to Poll.
type Config struct {
	// Interval is the time between status checks.
	Interval time.Duration
	// MaxWait is the deadline measured from the start of polling.
	MaxWait time.Duration
}

// Validate checks that both durations are positive.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidConfig, c.Interval)
	}
	if c.MaxWait <= 0 {
		return fmt.Errorf("%w: max wait must be positive, got %s", ErrInvalidConfig, c.MaxWait)
	}
	return nil
}

// Poller waits for an operation to reach a terminal status.
//
// Poll returns the success payload, or an error that is one of:
// *operation.FailedError, operation.ErrProtocolViolation (as returned by check),
// any other error returned by check, an error wrapping operation.ErrTimeout or
// operation.ErrCancelled, or an error wrapping scheduler.ErrClosed.
type Poller interface {
	Poll(ctx context.Context, handle operation.Handle, check CheckFunc, cfg Config) (operation.Result, error)
	Strategy() Strategy
}

// Option configures a poller.
type Option func(*base)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *base) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(b *base) {
		if t != nil {
			b.tracer = t
		}
	}
}

// New returns the poller for strategy. Every strategy runs on sched and ends
// with scheduler.ErrClosed once sched starts shutting down.
func New(strategy Strategy, sched *scheduler.Scheduler, opts ...Option) (Poller, error) {
	b := base{
		strategy: strategy,
		logger:   slog.Default(),
		metrics:  observability.NewNoopMetrics(),
		tracer:   observability.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(&b)
	}

	switch strategy {
	case StrategyReschedule:
		if sched == nil {
			return nil, ErrSchedulerRequired
		}
		return &reschedulePoller{base: b, sched: sched}, nil
	case StrategyFixedRate:
		if sched == nil {
			return nil, ErrSchedulerRequired
		}
		return &fixedRatePoller{base: b, sched: sched}, nil
	case StrategyBlocking:
		if sched == nil {
			return nil, ErrSchedulerRequired
		}
		return &blockingPoller{base: b, sched: sched}, nil
	case StrategyStream:
		if sched == nil {
			return nil, ErrSchedulerRequired
		}
		return &streamPoller{base: b, sched: sched}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// NewAll builds one poller per strategy, keyed by strategy.
func NewAll(sched *scheduler.Scheduler, opts ...Option) (map[Strategy]Poller, error) {
	pollers := make(map[Strategy]Poller, len(strategies))
	for _, s := range strategies {
		p, err := New(s, sched, opts...)
		if err != nil {
			return nil, err
		}
		pollers[s] = p
	}
	return pollers, nil
}
