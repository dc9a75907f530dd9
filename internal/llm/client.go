// Package llm bridges the agent pool to a language model exposed as a CLI
// subprocess. A Client shells out once per request; Producer and Reviewer
// wrap the client behind the pool's collaborator interfaces.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Config defines how to invoke the model CLI.
type Config struct {
	Command      string   // CLI binary name (e.g., "claude")
	Args         []string // Extra args prepended to every invocation
	Model        string   // Model override, passed as --model when set
	SystemPrompt string   // Role prompt, passed as --system-prompt when set
	WorkDir      string   // Subprocess working directory, cwd when empty
}

// Client invokes a model CLI as a subprocess, one invocation per request.
type Client struct {
	cfg Config
	pm  *ProcessManager
}

// NewClient creates a Client. The ProcessManager is optional; when nil,
// subprocesses are not tracked for shutdown cleanup.
func NewClient(cfg Config, pm *ProcessManager) (*Client, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("llm: command not configured")
	}
	if cfg.WorkDir == "" {
		workDir, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.WorkDir = workDir
	}

	return &Client{cfg: cfg, pm: pm}, nil
}

// Send submits one prompt and returns the model's text output.
func (c *Client) Send(ctx context.Context, prompt string) (string, error) {
	cmd := newCommand(ctx, c.cfg.Command, c.buildArgs(prompt)...)
	cmd.Dir = c.cfg.WorkDir

	stdout, _, err := execute(cmd, c.pm)
	if err != nil {
		return "", fmt.Errorf("%s invocation failed: %w", c.cfg.Command, err)
	}

	return strings.TrimSpace(string(stdout)), nil
}

func (c *Client) buildArgs(prompt string) []string {
	args := append([]string{}, c.cfg.Args...)
	args = append(args, "-p", prompt)

	if c.cfg.Model != "" {
		args = append(args, "--model", c.cfg.Model)
	}
	if c.cfg.SystemPrompt != "" {
		args = append(args, "--system-prompt", c.cfg.SystemPrompt)
	}

	return args
}
