package app

import (
	"context"
	"fmt"

	"github.com/probelab/scoutrelay/internal/core"
	"github.com/probelab/scoutrelay/internal/queue"
)

// Handoff converts an intervention into a durable unit of work for the
// issue pipeline. It returns the enqueue result so the call site logs
// the failure; nothing here ever reaches the live session.
type Handoff struct {
	queue queue.JobQueue
}

func NewHandoff(jq queue.JobQueue) *Handoff {
	return &Handoff{queue: jq}
}

func (h *Handoff) Report(ctx context.Context, job queue.IssueJob) error {
	if err := h.queue.Enqueue(ctx, queue.JobProcessIssue, job); err != nil {
		return fmt.Errorf("%w: %v", core.ErrHandoffFailure, err)
	}
	return nil
}
