package poller

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/videogen-lro/internal/operation"
	"github.com/maauso/videogen-lro/internal/scheduler"
)

// observation is one status check result flowing through the pipeline.
type observation struct {
	status operation.Status
	err    error
}

func (o observation) terminal() bool {
	return o.err != nil || o.status.State.IsTerminal()
}

// streamPoller models polling as a pipeline of three stages connected by
// unbuffered channels: ticks -> checks -> first terminal. The check stage
// only pulls a tick once the previous observation has been taken, so ticks
// produced while a check is running are dropped by the ticker. The pipeline
// runs as one supervised goroutine on the scheduler, so Shutdown ends it.
type streamPoller struct {
	base
	sched *scheduler.Scheduler
}

func (p *streamPoller) Poll(ctx context.Context, handle operation.Handle, check CheckFunc, cfg Config) (operation.Result, error) {
	r, err := p.begin(ctx, handle, check, cfg)
	if err != nil {
		return operation.Result{}, err
	}

	err = p.sched.Go(func(context.Context) {
		runPipeline(r, cfg.Interval)
	})
	if err != nil {
		r.settle(operation.Result{}, fmt.Errorf("poller: %s: start pipeline: %w", handle, err))
	}

	return r.wait(p.sched.Closing())
}

// runPipeline connects the three stages and returns once all of them have.
// The stages end when the run settles and wait cancels the poll context.
func runPipeline(r *run, interval time.Duration) {
	var g errgroup.Group
	ticks := make(chan time.Time)
	observations := make(chan observation)

	g.Go(func() error {
		defer close(ticks)
		emitTicks(r.ctx, interval, ticks)
		return nil
	})
	g.Go(func() error {
		defer close(observations)
		mapChecks(r.ctx, r, ticks, observations)
		return nil
	})
	g.Go(func() error {
		takeFirstTerminal(r, observations)
		return nil
	})

	// No stage returns an error.
	_ = g.Wait()
}

// emitTicks sends an immediate tick and then one per interval until ctx ends.
// time.Ticker keeps at most one pending tick, so a slow consumer sees dropped ticks.
func emitTicks(ctx context.Context, interval time.Duration, out chan<- time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := time.Now()
	for {
		select {
		case out <- tick:
		case <-ctx.Done():
			return
		}
		select {
		case tick = <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// mapChecks turns each tick into a status check. It stops after emitting the
// first terminal observation so no check follows a terminal status.
func mapChecks(ctx context.Context, r *run, in <-chan time.Time, out chan<- observation) {
	for range in {
		if r.finished() {
			return
		}
		status, err := r.invoke()
		obs := observation{status: status, err: err}
		select {
		case out <- obs:
		case <-ctx.Done():
			return
		}
		if obs.terminal() {
			return
		}
	}
}

// takeFirstTerminal consumes observations until one ends the poll.
func takeFirstTerminal(r *run, in <-chan observation) {
	for obs := range in {
		if r.observe(obs.status, obs.err) {
			return
		}
	}
}
