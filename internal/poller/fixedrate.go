package poller

import (
	"context"
	"fmt"

	"github.com/maauso/videogen-lro/internal/operation"
	"github.com/maauso/videogen-lro/internal/scheduler"
)

// fixedRatePoller registers one periodic task on the shared pool. The scheduler
// never runs the task concurrently with itself; a check that outlasts the
// interval causes the overdue ticks to be skipped rather than queued.
type fixedRatePoller struct {
	base
	sched *scheduler.Scheduler
}

func (p *fixedRatePoller) Poll(ctx context.Context, handle operation.Handle, check CheckFunc, cfg Config) (operation.Result, error) {
	r, err := p.begin(ctx, handle, check, cfg)
	if err != nil {
		return operation.Result{}, err
	}

	task, err := p.sched.ScheduleAtFixedRate(0, cfg.Interval, func(context.Context) {
		r.step()
	})
	if err != nil {
		r.settle(operation.Result{}, fmt.Errorf("poller: %s: schedule checks: %w", handle, err))
	}

	res, err := r.wait(p.sched.Closing())
	if task != nil {
		task.Cancel()
	}
	return res, err
}
