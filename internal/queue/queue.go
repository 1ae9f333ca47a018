// Package queue hands AI-flagged interventions to the asynchronous
// issue-processing pipeline. At-least-once is assumed downstream; the
// relay only enqueues.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/probelab/scoutrelay/internal/domain"
)

// JobProcessIssue is the job name the issue pipeline consumes.
const JobProcessIssue = "process-issue"

// IssueJob is one detected intervention plus the session context the
// pipeline needs to file a useful ticket.
type IssueJob struct {
	SessionID  domain.SessionID  `json:"sessionId"`
	Trigger    string            `json:"trigger"`
	Timestamp  time.Time         `json:"timestamp"`
	Transcript string            `json:"transcript,omitempty"`
	Telemetry  []json.RawMessage `json:"telemetry,omitempty"`
}

type JobQueue interface {
	Enqueue(ctx context.Context, jobName string, payload IssueJob) error
}
