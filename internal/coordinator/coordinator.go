// Package coordinator is the single facade workers and reviewers talk to.
// It owns the goal graph, the artifact lock manager, and the memory store
// for one project run, and mediates every mutation so that concurrent
// correctness lives in one place. Coordinators are constructed explicitly
// and passed by reference; there is no process-wide singleton.
package coordinator

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/falconhq/falcon/internal/events"
	"github.com/falconhq/falcon/internal/graph"
	"github.com/falconhq/falcon/internal/locks"
	"github.com/falconhq/falcon/internal/memory"
)

var (
	// ErrNoneAvailable is returned by RequestWork when no task is runnable
	// for the caller right now. Callers poll on their own cadence.
	ErrNoneAvailable = errors.New("no task available")

	// ErrNotOwner is returned when an actor attempts a transition reserved
	// for the task's owner, or a review transition on their own task.
	ErrNotOwner = errors.New("actor may not perform this transition")

	// ErrGraphInvalid wraps a structural validation error. While the graph
	// is invalid the coordinator refuses to serve new work.
	ErrGraphInvalid = errors.New("goal graph is structurally invalid")
)

// Coordinator composes the goal graph, lock manager, and memory store
// behind the operations workers and reviewers are allowed to perform.
type Coordinator struct {
	graph  *graph.Graph
	locks  *locks.Manager
	memory *memory.Store
	feed   *events.Feed

	mu            sync.Mutex
	validatedHash uint64 // structure fingerprint of the last validation run
	validationErr error  // result of that run

	// heldLocks records paths locked through LockForEdit, keyed by worker
	// and then by the task the acquisition was correlated with, so settling
	// one task never strips locks the worker holds for another.
	heldLocks map[string]map[string]map[string]struct{}
}

// New creates a coordinator over the given components. feed may be nil.
func New(g *graph.Graph, lm *locks.Manager, mem *memory.Store, feed *events.Feed) *Coordinator {
	return &Coordinator{
		graph:     g,
		locks:     lm,
		memory:    mem,
		feed:      feed,
		heldLocks: make(map[string]map[string]map[string]struct{}),
	}
}

// Graph exposes read access to the goal graph (all returned tasks are clones).
func (c *Coordinator) Graph() *graph.Graph { return c.graph }

// Memory exposes the memory store for worker context passing.
func (c *Coordinator) Memory() *memory.Store { return c.memory }

// AddTask adds a task to the goal graph. The next RequestWork revalidates
// the structure before serving anything.
func (c *Coordinator) AddTask(task *graph.Task) error {
	return c.graph.AddTask(task)
}

// Validate checks the graph's structural integrity, caching the result
// against a fingerprint of the dependency relation so an unchanged graph is
// not re-sorted on every RequestWork.
func (c *Coordinator) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validateLocked()
}

func (c *Coordinator) validateLocked() error {
	hash, err := hashstructure.Hash(c.graph.Structure(), hashstructure.FormatV2, nil)
	if err != nil {
		return fmt.Errorf("fingerprinting graph structure: %w", err)
	}

	if hash != c.validatedHash {
		_, verr := c.graph.Validate()
		c.validatedHash = hash
		c.validationErr = verr
	}

	if c.validationErr != nil {
		return fmt.Errorf("%w: %w", ErrGraphInvalid, c.validationErr)
	}
	return nil
}

// RequestWork hands the caller the highest-priority runnable task:
// unowned, or a task the caller already owns that re-entered the runnable
// set (changes requested, blocker cleared). The task is transitioned to
// InProgress with the caller as owner. Returns ErrNoneAvailable when
// nothing is runnable; never blocks. A structurally invalid graph blocks
// all work until the structure is fixed.
func (c *Coordinator) RequestWork(workerID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.validateLocked(); err != nil {
		return "", err
	}

	for _, task := range c.graph.Runnable() {
		if task.Owner != "" && task.Owner != workerID {
			continue
		}

		from, err := c.graph.Transition(task.ID, graph.StatusInProgress, workerID, "")
		if err != nil {
			continue
		}

		prevOwner, err := c.graph.SetOwner(task.ID, workerID)
		if err != nil {
			log.Printf("WARNING: assigning owner of task %s: %v", task.ID, err)
			continue
		}
		c.publishTask(task.ID, events.FieldStatus, from.String(), graph.StatusInProgress.String(), workerID)
		if prevOwner != workerID {
			c.publishTask(task.ID, events.FieldOwner, prevOwner, workerID, workerID)
		}
		return task.ID, nil
	}

	return "", ErrNoneAvailable
}

// Transition moves a task through the status state machine on behalf of
// actorID, enforcing ownership rules on top of the machine itself:
//
//   - Review verdicts (NeedsReview -> Completed / ChangesRequested) must
//     come from someone other than the task's owner.
//   - Worker progress (-> NeedsReview, -> Blocked, resuming -> InProgress)
//     must come from the owner.
//   - Cancellation is administrative and open to anyone.
//
// feedback, when non-empty, is appended to the task's audit trail.
// Completing a task clears its owner and releases any artifact locks the
// owner still holds; the freed dependents become runnable on the next
// RequestWork because eligibility is always derived from current status.
func (c *Coordinator) Transition(taskID string, to graph.Status, actorID, feedback string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.graph.Get(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", graph.ErrTaskNotFound, taskID)
	}

	switch to {
	case graph.StatusCompleted, graph.StatusChangesRequested:
		if actorID == task.Owner {
			return fmt.Errorf("%w: %s owns task %s and cannot review it", ErrNotOwner, actorID, taskID)
		}
	case graph.StatusNeedsReview, graph.StatusBlocked:
		if actorID != task.Owner {
			return fmt.Errorf("%w: task %s is owned by %s", ErrNotOwner, taskID, task.Owner)
		}
	case graph.StatusInProgress:
		if task.Owner != "" && actorID != task.Owner {
			return fmt.Errorf("%w: task %s is owned by %s", ErrNotOwner, taskID, task.Owner)
		}
	}

	from, err := c.graph.Transition(taskID, to, actorID, feedback)
	if err != nil {
		return err
	}
	c.publishTask(taskID, events.FieldStatus, from.String(), to.String(), actorID)

	switch to {
	case graph.StatusInProgress:
		if task.Owner == "" {
			if _, err := c.graph.SetOwner(taskID, actorID); err != nil {
				log.Printf("WARNING: assigning owner of task %s: %v", taskID, err)
			} else {
				c.publishTask(taskID, events.FieldOwner, "", actorID, actorID)
			}
		}
	case graph.StatusCompleted, graph.StatusCancelled:
		c.releaseTaskLocksLocked(task.Owner, taskID)
		if task.Owner != "" {
			if _, err := c.graph.SetOwner(taskID, ""); err != nil {
				log.Printf("WARNING: clearing owner of task %s: %v", taskID, err)
			} else {
				c.publishTask(taskID, events.FieldOwner, task.Owner, "", actorID)
			}
		}
	}

	return nil
}

// LockForEdit acquires the exclusive write lock on an artifact for a worker
// and records the acquisition on the worker's current task for audit
// correlation. Contention surfaces as locks.ErrAlreadyLocked, which is
// retryable, not a failure.
func (c *Coordinator) LockForEdit(path, workerID string) error {
	if err := c.locks.Acquire(path, workerID); err != nil {
		return err
	}

	taskID := c.currentTaskID(workerID)

	c.mu.Lock()
	byTask, ok := c.heldLocks[workerID]
	if !ok {
		byTask = make(map[string]map[string]struct{})
		c.heldLocks[workerID] = byTask
	}
	paths, ok := byTask[taskID]
	if !ok {
		paths = make(map[string]struct{})
		byTask[taskID] = paths
	}
	paths[path] = struct{}{}
	c.mu.Unlock()

	c.auditLock(taskID, workerID, "locked "+path+" for edit")
	return nil
}

// Unlock releases an artifact lock taken through LockForEdit.
func (c *Coordinator) Unlock(path, workerID string) error {
	if err := c.locks.Release(path, workerID); err != nil {
		return err
	}

	c.mu.Lock()
	for _, paths := range c.heldLocks[workerID] {
		delete(paths, path)
	}
	c.mu.Unlock()

	c.auditLock(c.currentTaskID(workerID), workerID, "released "+path)
	return nil
}

// ReadArtifact reads artifact content regardless of lock state, for
// reviewers inspecting in-progress work.
func (c *Coordinator) ReadArtifact(path, readerID string) ([]byte, error) {
	return c.locks.ReadThrough(path, readerID)
}

// WriteArtifact writes artifact content for a worker. The worker must hold
// the lock on the path.
func (c *Coordinator) WriteArtifact(path, workerID string, content []byte) error {
	if locked, holder := c.locks.IsLocked(path); !locked || holder != workerID {
		return fmt.Errorf("%w: %s must lock %s before writing", locks.ErrNotHolder, workerID, path)
	}
	return c.locks.WriteArtifact(path, content)
}

// ReviewQueue returns tasks awaiting review that the given reviewer is
// allowed to judge (i.e. not their own work).
func (c *Coordinator) ReviewQueue(reviewerID string) []*graph.Task {
	var queue []*graph.Task
	for _, task := range c.graph.Tasks() {
		if task.Status == graph.StatusNeedsReview && task.Owner != reviewerID {
			queue = append(queue, task)
		}
	}
	return queue
}

// ProjectComplete reports whether every non-cancelled task is Completed.
func (c *Coordinator) ProjectComplete() bool {
	return c.graph.Complete()
}

// Close tears the coordinator down, releasing every lock still held
// through it. The change feed is owned by the caller and is not closed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for workerID := range c.heldLocks {
		c.releaseWorkerLocksLocked(workerID)
	}
}

// releaseTaskLocksLocked releases the locks a worker holds on behalf of one
// task, leaving its locks for other tasks in place. Caller holds c.mu.
func (c *Coordinator) releaseTaskLocksLocked(workerID, taskID string) {
	for path := range c.heldLocks[workerID][taskID] {
		// The lock may have expired and been reclaimed already; either
		// way it is no longer this task's to hold.
		if err := c.locks.Release(path, workerID); err != nil && !errors.Is(err, locks.ErrNotHolder) {
			log.Printf("WARNING: releasing %s for %s: %v", path, workerID, err)
		}
	}
	delete(c.heldLocks[workerID], taskID)
}

// releaseWorkerLocksLocked releases every lock a worker holds through the
// coordinator, across all tasks. Caller holds c.mu.
func (c *Coordinator) releaseWorkerLocksLocked(workerID string) {
	for taskID := range c.heldLocks[workerID] {
		c.releaseTaskLocksLocked(workerID, taskID)
	}
}

// currentTaskID returns the worker's current in-progress task, or "" when
// the worker owns none.
func (c *Coordinator) currentTaskID(workerID string) string {
	for _, task := range c.graph.Tasks() {
		if task.Owner == workerID && task.Status == graph.StatusInProgress {
			return task.ID
		}
	}
	return ""
}

// auditLock appends a lock-related audit message to the given task, if any.
func (c *Coordinator) auditLock(taskID, workerID, text string) {
	if taskID == "" {
		return
	}
	c.graph.AppendMessage(taskID, graph.Message{Sender: workerID, Text: text})
}

func (c *Coordinator) publishTask(taskID, field string, oldValue, newValue any, actorID string) {
	if c.feed == nil {
		return
	}
	c.feed.Publish(events.Change{
		EntityType: events.EntityTask,
		EntityID:   taskID,
		Field:      field,
		OldValue:   oldValue,
		NewValue:   newValue,
		ActorID:    actorID,
	})
}
