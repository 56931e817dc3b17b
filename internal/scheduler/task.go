package scheduler

import (
	"container/heap"
	"time"
)

// Task is a queued unit of work. Its fields are guarded by the owning scheduler's mutex.
type Task struct {
	s      *Scheduler
	fn     Func
	due    time.Time
	period time.Duration

	index     int // position in the queue, -1 when not queued
	cancelled bool
}

// Cancel removes the task from the queue and stops any further periodic runs.
// It returns true if a queued run was removed. A run already in progress is not
// interrupted.
func (t *Task) Cancel() bool {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	t.cancelled = true
	if t.index < 0 {
		return false
	}
	heap.Remove(&s.queue, t.index)
	return true
}

// taskQueue is a min-heap of tasks ordered by due time.
type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool { return q[i].due.Before(q[j].due) }

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*Task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
