package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/toposort"
)

// Graph is the goal graph: a directed acyclic dependency graph of tasks with
// a status state machine per node. It owns all tasks; callers only ever see
// clones.
type Graph struct {
	mu         sync.RWMutex
	tasks      map[string]*Task    // All tasks indexed by ID
	dependents map[string][]string // Maps taskID -> list of tasks that depend on it
}

// New creates an empty goal graph.
func New() *Graph {
	return &Graph{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
	}
}

// AddTask adds a task to the graph. Returns an error if the task ID already
// exists or the task depends on itself. The graph must be re-validated after
// any structural edit before it is used to serve work.
func (g *Graph) AddTask(task *Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %q already exists", task.ID)
	}
	for _, depID := range task.DependsOn {
		if depID == task.ID {
			return fmt.Errorf("task %q cannot depend on itself", task.ID)
		}
	}

	stored := cloneTask(task)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	g.tasks[task.ID] = stored

	// Build dependents map for efficient downstream lookup
	for _, depID := range stored.DependsOn {
		g.dependents[depID] = append(g.dependents[depID], stored.ID)
	}

	return nil
}

// Validate checks structural integrity: every referenced dependency exists
// and the dependency relation is acyclic. Returns the topological order of
// task IDs on success. Cycles are reported as *CycleError naming the
// offending tasks, dangling references as *MissingDependencyError.
func (g *Graph) Validate() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// First, verify all dependencies exist
	for taskID, task := range g.tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.tasks[depID]; !exists {
				return nil, &MissingDependencyError{TaskID: taskID, DepID: depID}
			}
		}
	}

	// Build edges for topological sort
	var edges []toposort.Edge
	for taskID, task := range g.tasks {
		if len(task.DependsOn) == 0 {
			// Task with no dependencies - add edge from nil to ensure it's included
			edges = append(edges, toposort.Edge{nil, taskID})
		} else {
			for _, depID := range task.DependsOn {
				// Edge (depID, taskID) means depID must come before taskID
				edges = append(edges, toposort.Edge{depID, taskID})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, &CycleError{Members: g.cycleMembersLocked()}
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	return order, nil
}

// cycleMembersLocked identifies tasks that participate in (or depend on) a
// cycle by repeatedly peeling tasks whose dependencies are all peeled.
// Whatever cannot be peeled is part of the problem. Caller holds g.mu.
func (g *Graph) cycleMembersLocked() []string {
	resolved := make(map[string]bool, len(g.tasks))

	for {
		progressed := false
		for id, task := range g.tasks {
			if resolved[id] {
				continue
			}
			free := true
			for _, depID := range task.DependsOn {
				if !resolved[depID] {
					free = false
					break
				}
			}
			if free {
				resolved[id] = true
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	var members []string
	for id := range g.tasks {
		if !resolved[id] {
			members = append(members, id)
		}
	}
	sort.Strings(members)
	return members
}

// Runnable returns tasks eligible to (re-)enter InProgress: status is
// NotStarted, ChangesRequested, or Blocked AND every dependency is Completed.
// Eligibility is derived from current stored status on every call, never
// cached. Results are ordered by priority (high first), then creation time,
// then ID, so selection is deterministic.
func (g *Graph) Runnable() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	runnable := []*Task{}

	for _, task := range g.tasks {
		if !task.Status.startable() {
			continue
		}

		satisfied := true
		for _, depID := range task.DependsOn {
			dep, exists := g.tasks[depID]
			if !exists || dep.Status != StatusCompleted {
				satisfied = false
				break
			}
		}

		if satisfied {
			runnable = append(runnable, cloneTask(task))
		}
	}

	sort.Slice(runnable, func(i, j int) bool {
		a, b := runnable[i], runnable[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	return runnable
}

// Transition moves a task to a new status. The check and the set are atomic:
// an illegal transition returns ErrInvalidTransition and leaves the task
// unchanged. Entering InProgress from NotStarted and entering Completed both
// require every dependency to be Completed. A non-empty note is appended to
// the task's audit trail as a message from the actor.
// Returns the status the task held before the transition.
func (g *Graph) Transition(taskID string, to Status, actor, note string) (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	from := task.Status
	if !from.CanTransitionTo(to) {
		return from, fmt.Errorf("%w: %s -> %s for task %q", ErrInvalidTransition, from, to, taskID)
	}

	if (to == StatusInProgress && from == StatusNotStarted) || to == StatusCompleted {
		for _, depID := range task.DependsOn {
			dep, ok := g.tasks[depID]
			if !ok || dep.Status != StatusCompleted {
				return from, fmt.Errorf("%w: task %q dependency %q", ErrDependenciesIncomplete, taskID, depID)
			}
		}
	}

	task.Status = to
	if note != "" {
		task.Messages = append(task.Messages, Message{
			Sender:    actor,
			Timestamp: time.Now(),
			Text:      note,
		})
	}

	return from, nil
}

// SetOwner assigns (or with empty owner, clears) the worker responsible for
// a task. Returns the previous owner.
func (g *Graph) SetOwner(taskID, owner string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	prev := task.Owner
	task.Owner = owner
	return prev, nil
}

// AppendMessage appends an entry to a task's audit trail.
func (g *Graph) AppendMessage(taskID string, msg Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	task.Messages = append(task.Messages, msg)
	return nil
}

// Get returns a clone of the task by ID.
func (g *Graph) Get(taskID string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns clones of all tasks.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make([]*Task, 0, len(g.tasks))
	for _, task := range g.tasks {
		tasks = append(tasks, cloneTask(task))
	}
	return tasks
}

// Dependents returns the IDs of tasks that depend directly on the given task.
func (g *Graph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return append([]string(nil), g.dependents[taskID]...)
}

// Structure returns the dependency relation as an id -> deps mapping.
// Used by the coordinator to fingerprint the graph and skip redundant
// validation runs between structural edits.
func (g *Graph) Structure() map[string][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	structure := make(map[string][]string, len(g.tasks))
	for id, task := range g.tasks {
		structure[id] = append([]string(nil), task.DependsOn...)
	}
	return structure
}

// Complete reports whether every non-cancelled task is Completed.
func (g *Graph) Complete() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, task := range g.tasks {
		if task.Status == StatusCancelled {
			continue
		}
		if task.Status != StatusCompleted {
			return false
		}
	}
	return true
}
