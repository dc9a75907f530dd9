package graph

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a task.
type Status int

const (
	StatusNotStarted Status = iota
	StatusInProgress
	StatusNeedsReview
	StatusChangesRequested
	StatusCompleted
	StatusBlocked
	StatusCancelled
)

// transitions is the legal edge set of the status state machine.
// Cancellation from any non-terminal state is handled in CanTransitionTo.
var transitions = map[Status][]Status{
	StatusNotStarted:       {StatusInProgress},
	StatusInProgress:       {StatusNeedsReview, StatusBlocked},
	StatusNeedsReview:      {StatusCompleted, StatusChangesRequested},
	StatusChangesRequested: {StatusInProgress},
	StatusBlocked:          {StatusInProgress},
}

// String returns the human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusInProgress:
		return "in_progress"
	case StatusNeedsReview:
		return "needs_review"
	case StatusChangesRequested:
		return "changes_requested"
	case StatusCompleted:
		return "completed"
	case StatusBlocked:
		return "blocked"
	case StatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus converts a status name to a Status. Case-insensitive.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "not_started", "":
		return StatusNotStarted, nil
	case "in_progress":
		return StatusInProgress, nil
	case "needs_review":
		return StatusNeedsReview, nil
	case "changes_requested":
		return StatusChangesRequested, nil
	case "completed":
		return StatusCompleted, nil
	case "blocked":
		return StatusBlocked, nil
	case "cancelled":
		return StatusCancelled, nil
	}
	return StatusNotStarted, fmt.Errorf("unknown status %q", s)
}

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether the state machine permits moving from s to
// target. Dependency requirements are checked separately by the graph.
func (s Status) CanTransitionTo(target Status) bool {
	if s.Terminal() {
		return false
	}
	if target == StatusCancelled {
		return true
	}
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// startable reports whether a task in this status may (re-)enter InProgress.
func (s Status) startable() bool {
	return s == StatusNotStarted || s == StatusChangesRequested || s == StatusBlocked
}
