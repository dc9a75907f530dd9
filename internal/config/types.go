package config

import "time"

// RoleConfig customizes one agent role (prompt and model selection are
// consumed by whatever Producer or Reviewer implementation gets wired in).
type RoleConfig struct {
	Command      string   `json:"command,omitempty"` // Model CLI binary for this role
	Args         []string `json:"args,omitempty"`    // Default args prepended to every invocation
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Model        string   `json:"model,omitempty"`
}

// ProjectConfig is the top-level configuration.
type ProjectConfig struct {
	DataDir        string                `json:"data_dir,omitempty"`         // Where the SQLite database lives
	ArtifactDir    string                `json:"artifact_dir,omitempty"`     // Root for artifact reads and writes
	LockTTLSeconds int                   `json:"lock_ttl_seconds,omitempty"` // Artifact lock expiry
	Workers        int                   `json:"workers,omitempty"`
	Reviewers      int                   `json:"reviewers,omitempty"`
	PollIntervalMS int                   `json:"poll_interval_ms,omitempty"` // Idle wait between work requests
	Roles          map[string]RoleConfig `json:"roles,omitempty"`
}

// LockTTL returns the configured lock expiry as a duration.
func (c *ProjectConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// PollInterval returns the configured idle wait as a duration.
func (c *ProjectConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}
