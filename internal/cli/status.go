package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/falconhq/falcon/internal/config"
	"github.com/falconhq/falcon/internal/graph"
	"github.com/falconhq/falcon/internal/persistence"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted state of the current project",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}

	dbPath := filepath.Join(cfg.DataDir, "falcon.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No saved project. Start one with: falcon run <graph-file>")
		return nil
	}

	store, err := persistence.NewSQLiteStore(cmd.Context(), dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	g, err := store.LoadGraph(cmd.Context())
	if err != nil {
		return err
	}

	tasks := g.Tasks()
	if len(tasks) == 0 {
		fmt.Println("Saved project contains no tasks.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tPRIORITY\tSTATUS\tOWNER\tCREATED")
	counts := make(map[graph.Status]int)
	for _, task := range tasks {
		counts[task.Status]++
		owner := task.Owner
		if owner == "" {
			owner = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", task.Name, task.Priority, task.Status, owner, formatAge(task.CreatedAt))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d tasks: %d completed, %d in review, %d in progress, %d blocked\n",
		len(tasks),
		counts[graph.StatusCompleted],
		counts[graph.StatusNeedsReview],
		counts[graph.StatusInProgress],
		counts[graph.StatusBlocked])

	locks, err := store.LoadLocks(cmd.Context())
	if err != nil {
		return err
	}
	if len(locks) > 0 {
		fmt.Println("\nHeld artifact locks:")
		for _, lock := range locks {
			fmt.Printf("  %s held by %s (%s)\n", lock.Path, lock.Holder, formatAge(lock.AcquiredAt))
		}
	}

	return nil
}

// formatAge returns a human-readable relative time string.
func formatAge(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return "just now"
	}

	minutes := int(duration.Minutes())
	if minutes < 60 {
		return fmt.Sprintf("%dm ago", minutes)
	}

	hours := int(duration.Hours())
	if hours < 24 {
		return fmt.Sprintf("%dh ago", hours)
	}

	return fmt.Sprintf("%dd ago", hours/24)
}
