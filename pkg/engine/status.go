package engine

import "fmt"

// Status is the per-action state machine. Transitions only move forward:
// QUEUED -> PENDING -> RUNNING -> SUCCESS|FAILURE, with CANCELED reachable
// from any non-terminal state on external cancellation.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
	StatusCanceled Status = "canceled"
)

var statusRank = map[Status]int{
	StatusQueued:   0,
	StatusPending:  1,
	StatusRunning:  2,
	StatusSuccess:  3,
	StatusFailure:  3,
	StatusCanceled: 3,
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusCanceled
}

// StatusTransitionError reports an attempted backwards transition.
type StatusTransitionError struct {
	Ref  string
	From Status
	To   Status
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("action %s: illegal status transition %s -> %s", e.Ref, e.From, e.To)
}
