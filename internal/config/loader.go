package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*ProjectConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.falcon/config.json
// Project: .falcon/config.json (relative to cwd)
func LoadDefault() (*ProjectConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".falcon", "config.json")
	projectPath := filepath.Join(".falcon", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base
// config. Scalars override only when set; roles merge per key. Missing
// files are silently skipped.
func mergeConfigFile(base *ProjectConfig, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded ProjectConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.DataDir != "" {
		base.DataDir = loaded.DataDir
	}
	if loaded.ArtifactDir != "" {
		base.ArtifactDir = loaded.ArtifactDir
	}
	if loaded.LockTTLSeconds > 0 {
		base.LockTTLSeconds = loaded.LockTTLSeconds
	}
	if loaded.Workers > 0 {
		base.Workers = loaded.Workers
	}
	if loaded.Reviewers > 0 {
		base.Reviewers = loaded.Reviewers
	}
	if loaded.PollIntervalMS > 0 {
		base.PollIntervalMS = loaded.PollIntervalMS
	}

	for key, role := range loaded.Roles {
		base.Roles[key] = role
	}

	return nil
}
