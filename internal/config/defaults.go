package config

// DefaultConfig returns the default configuration with built-in roles.
func DefaultConfig() *ProjectConfig {
	return &ProjectConfig{
		DataDir:        ".falcon",
		ArtifactDir:    "artifacts",
		LockTTLSeconds: 300,
		Workers:        2,
		Reviewers:      1,
		PollIntervalMS: 250,
		Roles: map[string]RoleConfig{
			"worker": {
				Command:      "claude",
				SystemPrompt: "You implement tasks and produce artifacts for review.",
			},
			"reviewer": {
				Command:      "claude",
				SystemPrompt: "You review artifacts for correctness and completeness.",
			},
		},
	}
}
