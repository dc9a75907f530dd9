package llm

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/falconhq/falcon/internal/agent"
)

// verdictPrefix markers the reviewer model is instructed to lead with.
const (
	approveMarker = "APPROVE"
	reviseMarker  = "REVISE"
)

// Producer asks the model to draft an artifact for an assigned task.
type Producer struct {
	client *Client
}

// NewProducer wraps a client as the pool's producing collaborator.
func NewProducer(client *Client) *Producer {
	return &Producer{client: client}
}

// Produce sends the task brief to the model and packages the reply as the
// task's artifact under tasks/<id>.md.
func (p *Producer) Produce(ctx context.Context, a agent.Assignment) (agent.Artifact, error) {
	reply, err := p.client.Send(ctx, producePrompt(a))
	if err != nil {
		return agent.Artifact{}, err
	}
	if reply == "" {
		return agent.Artifact{}, fmt.Errorf("model returned empty output for task %s", a.Task.ID)
	}

	return agent.Artifact{
		Path:    filepath.Join("tasks", a.Task.ID+".md"),
		Content: []byte(reply),
		Summary: "drafted " + a.Task.Name,
	}, nil
}

// Reviewer asks the model to judge an artifact.
type Reviewer struct {
	client *Client
}

// NewReviewer wraps a client as the pool's reviewing collaborator.
func NewReviewer(client *Client) *Reviewer {
	return &Reviewer{client: client}
}

// Review sends the artifact to the model and parses its verdict. The model
// is instructed to open with APPROVE or REVISE; anything else is treated as
// a revision request with the full reply as feedback.
func (r *Reviewer) Review(ctx context.Context, a agent.Assignment, content []byte) (agent.Verdict, error) {
	reply, err := r.client.Send(ctx, reviewPrompt(a, content))
	if err != nil {
		return agent.Verdict{}, err
	}

	return parseVerdict(reply), nil
}

func producePrompt(a agent.Assignment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", a.Task.Name)
	if a.Task.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", a.Task.Description)
	}
	writeContext(&b, a.Context)
	b.WriteString("\nProduce the complete artifact for this task. Reply with the artifact content only.")
	return b.String()
}

func reviewPrompt(a agent.Assignment, content []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the artifact for task %q.\n", a.Task.Name)
	if a.Task.Description != "" {
		fmt.Fprintf(&b, "Task details: %s\n", a.Task.Description)
	}
	writeContext(&b, a.Context)
	fmt.Fprintf(&b, "\nArtifact:\n%s\n", content)
	fmt.Fprintf(&b, "\nReply with %s if the artifact fulfils the task, or %s followed by what must change.", approveMarker, reviseMarker)
	return b.String()
}

// writeContext appends shared and private memory in a stable order.
func writeContext(b *strings.Builder, context map[string]any) {
	if len(context) == 0 {
		return
	}

	keys := make([]string, 0, len(context))
	for key := range context {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	b.WriteString("Known context:\n")
	for _, key := range keys {
		fmt.Fprintf(b, "  %s: %v\n", key, context[key])
	}
}

func parseVerdict(reply string) agent.Verdict {
	trimmed := strings.TrimSpace(reply)
	upper := strings.ToUpper(trimmed)

	if strings.HasPrefix(upper, approveMarker) {
		feedback := strings.TrimSpace(trimmed[len(approveMarker):])
		return agent.Verdict{Approved: true, Feedback: feedback}
	}

	feedback := trimmed
	if strings.HasPrefix(upper, reviseMarker) {
		feedback = strings.TrimSpace(strings.TrimLeft(trimmed[len(reviseMarker):], ":,. "))
	}
	if feedback == "" {
		feedback = "revision requested"
	}
	return agent.Verdict{Approved: false, Feedback: feedback}
}
