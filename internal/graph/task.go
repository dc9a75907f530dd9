package graph

import (
	"fmt"
	"strings"
	"time"
)

// Priority orders runnable tasks when more than one could be handed out.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

// String returns the human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority converts a priority name to a Priority. Case-insensitive.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "high":
		return PriorityHigh, nil
	case "medium", "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityMedium, fmt.Errorf("unknown priority %q", s)
}

// Message is one entry in a task's append-only audit trail.
type Message struct {
	Sender    string
	Timestamp time.Time
	Text      string
}

// Task is a unit of work in the goal graph.
// Tasks are never deleted; a task that should not run is marked Cancelled.
type Task struct {
	ID          string
	Name        string
	Description string
	Priority    Priority
	DependsOn   []string // Task IDs that must be Completed before this task starts
	Status      Status
	Owner       string // Worker currently responsible, empty if unowned
	Messages    []Message
	CreatedAt   time.Time
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	if task.Messages != nil {
		cp.Messages = append([]Message(nil), task.Messages...)
	}
	return &cp
}
