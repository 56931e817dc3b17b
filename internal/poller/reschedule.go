package poller

import (
	"context"
	"fmt"
	"sync"

	"github.com/maauso/videogen-lro/internal/operation"
	"github.com/maauso/videogen-lro/internal/scheduler"
)

// reschedulePoller schedules each check as a one-shot task on the shared pool.
// After a pending result the next check is queued Interval after the current
// check finished, so slow checks never overlap.
type reschedulePoller struct {
	base
	sched *scheduler.Scheduler
}

func (p *reschedulePoller) Poll(ctx context.Context, handle operation.Handle, check CheckFunc, cfg Config) (operation.Result, error) {
	r, err := p.begin(ctx, handle, check, cfg)
	if err != nil {
		return operation.Result{}, err
	}

	// mu orders rescheduling against cancellation of the queued task.
	var (
		mu   sync.Mutex
		next *scheduler.Task
		tick scheduler.Func
	)
	tick = func(context.Context) {
		if r.step() {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if r.finished() {
			return
		}
		t, err := p.sched.Schedule(cfg.Interval, tick)
		if err != nil {
			r.settle(operation.Result{}, fmt.Errorf("poller: %s: schedule next check: %w", handle, err))
			return
		}
		next = t
	}

	mu.Lock()
	next, err = p.sched.Schedule(0, tick)
	mu.Unlock()
	if err != nil {
		r.settle(operation.Result{}, fmt.Errorf("poller: %s: schedule first check: %w", handle, err))
	}

	res, err := r.wait(p.sched.Closing())

	mu.Lock()
	if next != nil {
		next.Cancel()
	}
	mu.Unlock()

	return res, err
}
