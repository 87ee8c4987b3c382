// Package queue implements the ordered pending-job collection.
package queue

import (
	"sort"
	"sync"

	"github.com/scangrid-io/scangrid/internal/grid"
)

// Queue holds pending jobs ordered by priority, then scan frequency, then
// oldest last-scan timestamp (never-scanned targets sort ahead). Rate-limited
// and retried jobs re-enter at the tail so other eligible jobs make progress.
type Queue struct {
	mu   sync.Mutex
	jobs []*grid.Job
	wake chan struct{}
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
	}
}

// Push inserts job at its ordered position.
func (q *Queue) Push(job *grid.Job) {
	q.mu.Lock()
	idx := sort.Search(len(q.jobs), func(i int) bool {
		return less(job.Target, q.jobs[i].Target)
	})
	q.jobs = append(q.jobs, nil)
	copy(q.jobs[idx+1:], q.jobs[idx:])
	q.jobs[idx] = job
	q.mu.Unlock()
	q.signal()
}

// PushTail appends job after everything currently queued, regardless of
// ordering. Used for rate-limit deferrals and retry re-enqueues.
func (q *Queue) PushTail(job *grid.Job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
	q.signal()
}

// Pop removes and returns the head job.
func (q *Queue) Pop() (*grid.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, false
	}
	job := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return job, true
}

// Len reports the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Wake returns a channel that pulses whenever a job is inserted, letting the
// dispatch loop block instead of polling.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// less orders a strictly ahead of b.
func less(a, b grid.ScanTarget) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() > b.Priority.Rank()
	}
	if a.Frequency.Rank() != b.Frequency.Rank() {
		return a.Frequency.Rank() > b.Frequency.Rank()
	}
	switch {
	case a.LastScannedAt == nil && b.LastScannedAt == nil:
		return false
	case a.LastScannedAt == nil:
		return true
	case b.LastScannedAt == nil:
		return false
	default:
		return a.LastScannedAt.Before(*b.LastScannedAt)
	}
}
