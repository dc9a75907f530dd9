// Package agent runs worker and reviewer loops against a coordinator.
// Workers ask for runnable tasks, delegate content generation to a Producer
// (the language-model collaborator), and move tasks into review; reviewers
// read artifacts through locks and settle the review verdict. The pool
// never inspects artifact semantics.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/falconhq/falcon/internal/coordinator"
	"github.com/falconhq/falcon/internal/graph"
	"github.com/falconhq/falcon/internal/locks"
)

// artifactKeyPrefix is the shared-memory key prefix under which workers
// record where a task's artifact landed, so reviewers can find it.
const artifactKeyPrefix = "artifact:"

// PoolConfig configures a worker/reviewer pool.
type PoolConfig struct {
	Workers      int           // Number of worker loops (default 2)
	Reviewers    int           // Number of reviewer loops (default 1)
	PollInterval time.Duration // Idle wait between RequestWork attempts (default 250ms)
	Retry        RetryConfig
	Producer     Producer
	Reviewer     Reviewer
}

// Pool drives a set of concurrent worker and reviewer loops against one
// coordinator until the project completes or the context is cancelled.
type Pool struct {
	cfg      PoolConfig
	coord    *coordinator.Coordinator
	breakers *BreakerRegistry
}

// NewPool creates a pool. Zero config values get defaults.
func NewPool(cfg PoolConfig, coord *coordinator.Coordinator) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Reviewers <= 0 {
		cfg.Reviewers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}

	return &Pool{
		cfg:      cfg,
		coord:    coord,
		breakers: NewBreakerRegistry(),
	}
}

// Run executes worker and reviewer loops until every non-cancelled task is
// Completed, the context is cancelled, or the producer's circuit breaker
// gives up. Structural graph errors abort the run; they need a human, not
// a retry.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers + p.cfg.Reviewers)

	for i := 0; i < p.cfg.Workers; i++ {
		workerID := "worker-" + uuid.NewString()
		g.Go(func() error {
			return p.workerLoop(gctx, workerID)
		})
	}

	for i := 0; i < p.cfg.Reviewers; i++ {
		reviewerID := "reviewer-" + uuid.NewString()
		g.Go(func() error {
			return p.reviewerLoop(gctx, reviewerID)
		})
	}

	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, workerID string) error {
	idle := p.newIdlePolicy()
	for {
		if p.coord.ProjectComplete() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		taskID, err := p.coord.RequestWork(workerID)
		switch {
		case errors.Is(err, coordinator.ErrNoneAvailable):
			if !p.wait(ctx, idle.NextBackOff()) {
				return nil
			}
			continue
		case errors.Is(err, coordinator.ErrGraphInvalid):
			return err
		case err != nil:
			return fmt.Errorf("worker %s requesting work: %w", workerID, err)
		}
		idle.Reset()

		if err := p.runTask(ctx, workerID, taskID); err != nil {
			return err
		}
	}
}

// runTask produces content for one task, writes it under lock, and submits
// the task for review. Producer failure is an external blocker: the task is
// moved to Blocked with the failure recorded, not abandoned.
func (p *Pool) runTask(ctx context.Context, workerID, taskID string) error {
	task, ok := p.coord.Graph().Get(taskID)
	if !ok {
		return fmt.Errorf("assigned task %s disappeared", taskID)
	}

	assignment := Assignment{
		Task:    task,
		Context: p.coord.Memory().Context(workerID),
	}

	artifact, err := produceWithRetry(ctx, p.cfg.Producer, assignment, p.breakers.Get(RoleWorker), p.cfg.Retry)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return fmt.Errorf("producer circuit open, stopping pool: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("WARNING: producer failed for task %s: %v", taskID, err)
		if terr := p.coord.Transition(taskID, graph.StatusBlocked, workerID, "producer failed: "+err.Error()); terr != nil {
			log.Printf("ERROR: could not block task %s: %v", taskID, terr)
		}
		return nil
	}

	if artifact.Path != "" {
		if err := p.writeUnderLock(ctx, workerID, artifact); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("WARNING: writing artifact for task %s: %v", taskID, err)
			if terr := p.coord.Transition(taskID, graph.StatusBlocked, workerID, "artifact write failed: "+err.Error()); terr != nil {
				log.Printf("ERROR: could not block task %s: %v", taskID, terr)
			}
			return nil
		}
		// Reviewers find the artifact through shared memory.
		p.coord.Memory().Put(workerID, artifactKeyPrefix+taskID, artifact.Path, true)
	}

	return p.coord.Transition(taskID, graph.StatusNeedsReview, workerID, artifact.Summary)
}

// writeUnderLock acquires the artifact's write lock (retrying contention
// with backoff), writes the content, and releases the lock.
func (p *Pool) writeUnderLock(ctx context.Context, workerID string, artifact Artifact) error {
	acquire := func() error {
		err := p.coord.LockForEdit(artifact.Path, workerID)
		if errors.Is(err, locks.ErrAlreadyLocked) {
			return err // retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	if err := backoff.Retry(acquire, backoff.WithContext(newBackOff(p.cfg.Retry), ctx)); err != nil {
		return err
	}
	defer func() {
		if err := p.coord.Unlock(artifact.Path, workerID); err != nil {
			log.Printf("WARNING: releasing lock on %s: %v", artifact.Path, err)
		}
	}()

	return p.coord.WriteArtifact(artifact.Path, workerID, artifact.Content)
}

func (p *Pool) reviewerLoop(ctx context.Context, reviewerID string) error {
	idle := p.newIdlePolicy()
	for {
		if p.coord.ProjectComplete() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		queue := p.coord.ReviewQueue(reviewerID)
		if len(queue) == 0 {
			if !p.wait(ctx, idle.NextBackOff()) {
				return nil
			}
			continue
		}
		idle.Reset()

		for _, task := range queue {
			if err := p.reviewTask(ctx, reviewerID, task); err != nil {
				return err
			}
		}
	}
}

func (p *Pool) reviewTask(ctx context.Context, reviewerID string, task *graph.Task) error {
	var content []byte
	if pathValue, err := p.coord.Memory().GetShared(artifactKeyPrefix + task.ID); err == nil {
		if path, ok := pathValue.(string); ok {
			content, err = p.coord.ReadArtifact(path, reviewerID)
			if err != nil {
				log.Printf("WARNING: reviewer %s reading %s: %v", reviewerID, path, err)
			}
		}
	}

	assignment := Assignment{Task: task, Context: p.coord.Memory().Context(reviewerID)}
	verdict, err := reviewWithRetry(ctx, p.cfg.Reviewer, assignment, content, p.breakers.Get(RoleReviewer), p.cfg.Retry)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return fmt.Errorf("reviewer circuit open, stopping pool: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("WARNING: review failed for task %s: %v", task.ID, err)
		return nil
	}

	target := graph.StatusChangesRequested
	if verdict.Approved {
		target = graph.StatusCompleted
	}

	err = p.coord.Transition(task.ID, target, reviewerID, verdict.Feedback)
	if err != nil && !errors.Is(err, graph.ErrInvalidTransition) {
		// Invalid transition means another reviewer settled this task first.
		log.Printf("WARNING: recording verdict for task %s: %v", task.ID, err)
	}
	return nil
}

// newIdlePolicy builds the backoff used between empty polls. It grows from
// the configured poll interval and never gives up; finding no work is not a
// failure.
func (p *Pool) newIdlePolicy() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.PollInterval
	policy.MaxInterval = 16 * p.cfg.PollInterval
	policy.MaxElapsedTime = 0
	return policy
}

// wait sleeps for d. Returns false if the context ended first.
func (p *Pool) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
