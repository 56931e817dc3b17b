package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/maauso/videogen-lro/internal/operation"
	"github.com/maauso/videogen-lro/internal/scheduler"
)

// blockingPoller runs the whole loop as sequential code on a goroutine
// supervised by the scheduler. It does not occupy a worker slot.
type blockingPoller struct {
	base
	sched *scheduler.Scheduler
}

func (p *blockingPoller) Poll(ctx context.Context, handle operation.Handle, check CheckFunc, cfg Config) (operation.Result, error) {
	r, err := p.begin(ctx, handle, check, cfg)
	if err != nil {
		return operation.Result{}, err
	}

	err = p.sched.Go(func(context.Context) {
		for {
			started := time.Now()
			if r.step() {
				return
			}

			// The next check is due one interval after this one started.
			timer := time.NewTimer(max(cfg.Interval-time.Since(started), 0))
			select {
			case <-timer.C:
			case <-r.ctx.Done():
				timer.Stop()
				r.interrupt()
				return
			case <-r.done:
				timer.Stop()
				return
			}
		}
	})
	if err != nil {
		r.settle(operation.Result{}, fmt.Errorf("poller: %s: start loop: %w", handle, err))
	}

	return r.wait(p.sched.Closing())
}
