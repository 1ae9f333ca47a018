// Package domain contains entity without logic, just meta-data
package domain

type SessionID string

// Status is the persisted lifecycle state of a testing session.
// Transitions are monotonic: PENDING -> RUNNING -> COMPLETED.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
)

// rank orders statuses for the monotonicity check. Unknown statuses rank
// lowest so a corrupt row never blocks a forward transition.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusRunning:
		return 2
	case StatusCompleted:
		return 3
	}
	return 0
}

// CanAdvanceTo reports whether moving to next would keep the lifecycle
// monotonic.
func (s Status) CanAdvanceTo(next Status) bool {
	return next.rank() > s.rank()
}

// Mission is the exploratory-testing brief the AI is steered by.
type Mission struct {
	URL     string `json:"url"`
	Context string `json:"context"`
}

// Session is the session-store row the relay caches while a room is live.
type Session struct {
	ID      SessionID `json:"id"`
	Status  Status    `json:"status"`
	Mission Mission   `json:"mission"`
}
