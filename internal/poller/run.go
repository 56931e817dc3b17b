package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/maauso/videogen-lro/internal/observability"
	"github.com/maauso/videogen-lro/internal/operation"
	"github.com/maauso/videogen-lro/internal/scheduler"
)

// errDeadline is the context cause set when MaxWait elapses.
var errDeadline = errors.New("poller: max wait elapsed")

// base holds what every strategy shares.
type base struct {
	strategy Strategy
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// Strategy returns the poller's strategy.
func (b *base) Strategy() Strategy {
	return b.strategy
}

// run is the state of a single poll loop. The first call to settle decides the outcome.
type run struct {
	*base
	handle operation.Handle
	check  CheckFunc
	cfg    Config

	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span
	start  time.Time

	once   sync.Once
	done   chan struct{}
	result operation.Result
	err    error
	checks atomic.Int64
}

func (b *base) begin(ctx context.Context, handle operation.Handle, check CheckFunc, cfg Config) (*run, error) {
	if check == nil {
		return nil, ErrNilCheck
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, span := b.tracer.StartPoll(ctx, handle.String(), b.strategy.String())
	pctx, cancel := context.WithTimeoutCause(ctx, cfg.MaxWait, errDeadline)

	return &run{
		base:   b,
		handle: handle,
		check:  check,
		cfg:    cfg,
		ctx:    pctx,
		cancel: cancel,
		span:   span,
		start:  time.Now(),
		done:   make(chan struct{}),
	}, nil
}

// finished reports whether the outcome has been decided.
func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// settle records the outcome if none has been recorded yet.
func (r *run) settle(res operation.Result, err error) bool {
	settled := false
	r.once.Do(func() {
		r.result = res
		r.err = err
		settled = true
		close(r.done)
	})
	return settled
}

// interrupt settles with the timeout or cancellation error for the poll context.
func (r *run) interrupt() {
	r.settle(operation.Result{}, r.contextErr())
}

func (r *run) contextErr() error {
	cause := context.Cause(r.ctx)
	if errors.Is(cause, errDeadline) {
		return fmt.Errorf("%w: %s after %s", operation.ErrTimeout, r.handle, r.cfg.MaxWait)
	}
	return fmt.Errorf("%w: %s: %w", operation.ErrCancelled, r.handle, cause)
}

// invoke performs one status check.
func (r *run) invoke() (operation.Status, error) {
	status, err := r.check(r.ctx, r.handle)
	r.checks.Add(1)
	r.metrics.RecordCheck(r.ctx, r.strategy.String())
	return status, err
}

// observe applies one check result and reports whether the loop must stop.
func (r *run) observe(status operation.Status, err error) bool {
	if r.finished() {
		return true
	}
	// A check that overlapped the deadline or a cancellation is discarded.
	if r.ctx.Err() != nil {
		r.interrupt()
		return true
	}
	if err != nil {
		r.settle(operation.Result{}, err)
		return true
	}

	switch status.State {
	case operation.StatePending:
		r.logger.Debug("operation pending",
			slog.String("operation", r.handle.String()),
			slog.String("strategy", r.strategy.String()),
			slog.Int64("checks", r.checks.Load()),
		)
		return false
	case operation.StateSucceeded:
		r.settle(operation.Result{
			Handle:     r.handle,
			Locator:    status.Locator,
			Advisories: status.Advisories,
			Checks:     int(r.checks.Load()),
			Elapsed:    time.Since(r.start),
		}, nil)
	case operation.StateFailed:
		var detail operation.ErrorDetail
		if status.Error != nil {
			detail = *status.Error
		}
		r.settle(operation.Result{}, &operation.FailedError{Handle: r.handle, Detail: detail})
	default:
		r.settle(operation.Result{}, fmt.Errorf("poller: %s: unexpected state %s", r.handle, status.State))
	}
	return true
}

// step runs one check unless the outcome is already decided.
func (r *run) step() bool {
	if r.finished() {
		return true
	}
	return r.observe(r.invoke())
}

// wait blocks until the loop settles, the poll context ends or the scheduler closes.
// closing may be nil.
func (r *run) wait(closing <-chan struct{}) (operation.Result, error) {
	select {
	case <-r.done:
	case <-r.ctx.Done():
		r.interrupt()
	case <-closing:
		r.settle(operation.Result{}, fmt.Errorf("poller: %s: %w", r.handle, scheduler.ErrClosed))
	}
	r.cancel()
	<-r.done

	r.report()
	return r.result, r.err
}

func (r *run) report() {
	elapsed := time.Since(r.start)
	kind := operation.KindOf(r.err)
	r.metrics.RecordPoll(context.WithoutCancel(r.ctx), r.strategy.String(), string(kind), elapsed)
	r.span.SetAttributes(observability.OutcomeAttr(string(kind)))
	r.tracer.RecordError(r.span, r.err)
	r.span.End()

	attrs := []any{
		slog.String("operation", r.handle.String()),
		slog.String("strategy", r.strategy.String()),
		slog.String("outcome", string(kind)),
		slog.Int64("checks", r.checks.Load()),
		slog.Duration("elapsed", elapsed),
	}
	if r.err != nil {
		r.logger.Warn("poll finished without result", append(attrs, slog.String("error", r.err.Error()))...)
		return
	}
	r.logger.Info("poll completed", attrs...)
}
