package llm

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestExecuteDrainsLargeOutput(t *testing.T) {
	// Output well past the pipe buffer must not deadlock.
	cmd := newCommand(context.Background(), "sh", "-c", "yes x | head -c 200000")
	stdout, _, err := execute(cmd, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(stdout) != 200000 {
		t.Errorf("stdout length = %d, want 200000", len(stdout))
	}
}

func TestExecuteReportsStderr(t *testing.T) {
	cmd := newCommand(context.Background(), "sh", "-c", "echo broken >&2; exit 1")
	_, stderr, err := execute(cmd, nil)
	if err == nil {
		t.Fatal("execute succeeded despite exit 1")
	}
	if !strings.Contains(string(stderr), "broken") {
		t.Errorf("stderr = %q, want to contain broken", stderr)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q does not include stderr", err)
	}
}

func TestProcessManagerTracksCommands(t *testing.T) {
	pm := NewProcessManager()
	if pm.Count() != 0 {
		t.Fatalf("initial count = %d, want 0", pm.Count())
	}

	cmd := newCommand(context.Background(), "sh", "-c", "sleep 0.05")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pm.Track(cmd)
	if pm.Count() != 1 {
		t.Errorf("count after Track = %d, want 1", pm.Count())
	}

	if err := cmd.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	pm.Untrack(cmd)
	if pm.Count() != 0 {
		t.Errorf("count after Untrack = %d, want 0", pm.Count())
	}
}

func TestKillAllTerminatesProcessGroup(t *testing.T) {
	pm := NewProcessManager()
	cmd := newCommand(context.Background(), "sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pm.Track(cmd)

	if err := pm.KillAll(); err != nil {
		t.Fatalf("KillAll: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if err == nil {
			t.Error("process exited cleanly, expected kill")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process survived KillAll")
	}
}

func TestExecuteTracksWhileRunning(t *testing.T) {
	pm := NewProcessManager()
	cmd := newCommand(context.Background(), "sh", "-c", "true")
	if _, _, err := execute(cmd, pm); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if pm.Count() != 0 {
		t.Errorf("count after execute = %d, want 0", pm.Count())
	}
}
