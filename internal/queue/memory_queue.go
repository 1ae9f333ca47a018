package queue

import (
	"context"
	"sync"
)

// MemoryQueue collects jobs in-process. Tests inspect Jobs(); FailWith
// simulates a broken downstream.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []IssueJob
	err  error
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) FailWith(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.err = err
}

func (q *MemoryQueue) Enqueue(_ context.Context, _ string, payload IssueJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, payload)
	return nil
}

func (q *MemoryQueue) Jobs() []IssueJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]IssueJob, len(q.jobs))
	copy(out, q.jobs)
	return out
}
