package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTransition is returned when a status change is not in the
	// state machine's legal edge set. The task is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTaskNotFound is returned when a task ID does not exist in the graph.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDependenciesIncomplete is returned when a transition requires every
	// dependency to be Completed and at least one is not.
	ErrDependenciesIncomplete = errors.New("dependencies not completed")
)

// CycleError reports a dependency cycle. Members holds the task IDs that
// could not be topologically ordered.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving tasks: %s", strings.Join(e.Members, ", "))
}

// MissingDependencyError reports a dependency on a task ID that does not
// exist in the graph.
type MissingDependencyError struct {
	TaskID string
	DepID  string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("task %q depends on non-existent task %q", e.TaskID, e.DepID)
}
