package task

import "fmt"

// Status is the lifecycle state of a transcription task.
type Status string

// Task status constants
const (
	StatusPending      Status = "pending"
	StatusFetching     Status = "fetching"
	StatusTranscribing Status = "transcribing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusFetching,
	StatusTranscribing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// ParseStatus converts a user supplied string into a Status.
func ParseStatus(s string) (Status, error) {
	for _, status := range AllStatuses {
		if string(status) == s {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsRunning reports whether a worker currently owns a task in this status.
func (s Status) IsRunning() bool {
	return s == StatusFetching || s == StatusTranscribing
}

// CanTransition enforces the task state machine:
//
//	pending      -> fetching | cancelled
//	fetching     -> transcribing | failed | cancelled
//	transcribing -> completed | failed | cancelled
//
// Terminal states have no outgoing edges and nothing re-enters pending.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusFetching || to == StatusCancelled
	case StatusFetching:
		return to == StatusTranscribing || to == StatusFailed || to == StatusCancelled
	case StatusTranscribing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}
