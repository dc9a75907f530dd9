package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/falconhq/falcon/internal/graph"
)

var validateCmd = &cobra.Command{
	Use:   "validate <graph-file>",
	Short: "Check a task graph for cycles and dangling dependencies",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	g, err := loadGraphFile(args[0])
	if err != nil {
		return err
	}

	order, err := g.Validate()
	if err != nil {
		var cycleErr *graph.CycleError
		if errors.As(err, &cycleErr) {
			return fmt.Errorf("dependency cycle involving: %s", strings.Join(cycleErr.Members, ", "))
		}
		var missingErr *graph.MissingDependencyError
		if errors.As(err, &missingErr) {
			return fmt.Errorf("task %s depends on unknown task %s", missingErr.TaskID, missingErr.DepID)
		}
		return err
	}

	fmt.Printf("Graph is valid. %d tasks, execution order:\n", len(order))
	for i, id := range order {
		task, _ := g.Get(id)
		fmt.Printf("  %d. %s (%s)\n", i+1, task.Name, task.Priority)
	}
	return nil
}
