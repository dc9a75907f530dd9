package agent

import (
	"context"

	"github.com/falconhq/falcon/internal/graph"
)

// Role is the closed set of agent roles in a project run.
type Role string

const (
	RoleWorker   Role = "worker"
	RoleReviewer Role = "reviewer"
)

// Assignment is everything a producer gets about the task it is asked to
// work on: the task itself (including audit messages carrying reviewer
// feedback) and the caller's memory context.
type Assignment struct {
	Task    *graph.Task
	Context map[string]any
}

// Artifact is the produced output: where it goes and what it contains.
// The coordination core never inspects Content semantics.
type Artifact struct {
	Path    string
	Content []byte
	Summary string
}

// Verdict is a reviewer's judgement on a task's artifact.
type Verdict struct {
	Approved bool
	Feedback string
}

// Producer generates artifact content for a task. This is the boundary to
// the external language-model collaborator; implementations typically shell
// out to a model CLI or API.
type Producer interface {
	Produce(ctx context.Context, a Assignment) (Artifact, error)
}

// Reviewer judges a task's artifact content.
type Reviewer interface {
	Review(ctx context.Context, a Assignment, content []byte) (Verdict, error)
}
