package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/falconhq/falcon/internal/agent"
	"github.com/falconhq/falcon/internal/config"
	"github.com/falconhq/falcon/internal/coordinator"
	"github.com/falconhq/falcon/internal/events"
	"github.com/falconhq/falcon/internal/graph"
	"github.com/falconhq/falcon/internal/llm"
	"github.com/falconhq/falcon/internal/locks"
	"github.com/falconhq/falcon/internal/memory"
	"github.com/falconhq/falcon/internal/persistence"
)

var runResume bool

var runCmd = &cobra.Command{
	Use:   "run [graph-file]",
	Short: "Execute a task graph with a pool of worker and reviewer agents",
	Long: `Run loads a task graph, starts the configured worker and reviewer agents,
and drives every task through implementation and review. State is saved on
exit, so an interrupted run can continue with --resume.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runResume, "resume", false, "continue the saved project instead of loading a graph file")
}

func runRun(cmd *cobra.Command, args []string) error {
	if !runResume && len(args) == 0 {
		return fmt.Errorf("graph file required unless --resume is set")
	}

	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}

	// Graceful shutdown on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := persistence.NewSQLiteStore(ctx, filepath.Join(cfg.DataDir, "falcon.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	feed := events.NewFeed()
	defer feed.Close()
	go streamChanges(feed.SubscribeAll(256))

	lm := locks.NewManager(locks.Config{
		TTL:          cfg.LockTTL(),
		ArtifactRoot: cfg.ArtifactDir,
		Feed:         feed,
	})
	mem := memory.NewStore(feed)

	var g *graph.Graph
	if runResume {
		if g, err = store.LoadGraph(ctx); err != nil {
			return fmt.Errorf("loading saved project: %w", err)
		}
		saved, err := store.LoadLocks(ctx)
		if err != nil {
			return fmt.Errorf("loading saved locks: %w", err)
		}
		for _, lock := range saved {
			lm.Restore(lock)
		}
		if err := store.LoadMemory(ctx, mem); err != nil {
			return fmt.Errorf("loading saved memory: %w", err)
		}
	} else {
		if g, err = loadGraphFile(args[0]); err != nil {
			return err
		}
	}

	coord := coordinator.New(g, lm, mem, feed)
	defer coord.Close()
	if err := coord.Validate(); err != nil {
		return err
	}

	// Kill agent subprocesses when the run context ends.
	pm := llm.NewProcessManager()
	go func() {
		<-ctx.Done()
		if err := pm.KillAll(); err != nil {
			log.Printf("Error killing subprocesses: %v", err)
		}
	}()

	producerClient, err := roleClient(cfg, "worker", pm)
	if err != nil {
		return err
	}
	reviewerClient, err := roleClient(cfg, "reviewer", pm)
	if err != nil {
		return err
	}

	pool := agent.NewPool(agent.PoolConfig{
		Workers:      cfg.Workers,
		Reviewers:    cfg.Reviewers,
		PollInterval: cfg.PollInterval(),
		Producer:     llm.NewProducer(producerClient),
		Reviewer:     llm.NewReviewer(reviewerClient),
	}, coord)

	log.Printf("Starting %d workers and %d reviewers", cfg.Workers, cfg.Reviewers)
	runErr := pool.Run(ctx)

	// Persist final state even when the run was interrupted or failed.
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.SaveGraph(saveCtx, g); err != nil {
		log.Printf("Error saving graph: %v", err)
	}
	if err := store.SaveLocks(saveCtx, lm.Snapshot()); err != nil {
		log.Printf("Error saving locks: %v", err)
	}
	if err := store.SaveMemory(saveCtx, mem); err != nil {
		log.Printf("Error saving memory: %v", err)
	}

	if runErr != nil {
		return runErr
	}
	if coord.ProjectComplete() {
		fmt.Println("All tasks completed.")
	} else {
		fmt.Println("Stopped before completion. Continue with: falcon run --resume")
	}
	return nil
}

// roleClient builds the model client for a configured role.
func roleClient(cfg *config.ProjectConfig, role string, pm *llm.ProcessManager) (*llm.Client, error) {
	roleCfg, ok := cfg.Roles[role]
	if !ok {
		return nil, fmt.Errorf("no %q role configured", role)
	}

	return llm.NewClient(llm.Config{
		Command:      roleCfg.Command,
		Args:         roleCfg.Args,
		Model:        roleCfg.Model,
		SystemPrompt: roleCfg.SystemPrompt,
	}, pm)
}

// streamChanges logs every coordination event for the duration of the run.
func streamChanges(changes <-chan events.Change) {
	for change := range changes {
		log.Printf("%s %s: %s %v -> %v (%s)",
			change.EntityType, change.EntityID, change.Field,
			change.OldValue, change.NewValue, change.ActorID)
	}
}
