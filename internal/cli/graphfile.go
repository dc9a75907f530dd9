package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/falconhq/falcon/internal/graph"
)

// graphFile is the on-disk task graph definition.
type graphFile struct {
	Tasks []taskDef `json:"tasks"`
}

type taskDef struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"` // high, medium (default), low
	DependsOn   []string `json:"depends_on,omitempty"`
}

// loadGraphFile reads a JSON task definition file into a goal graph.
// All tasks start in NotStarted.
func loadGraphFile(path string) (*graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var file graphFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(file.Tasks) == 0 {
		return nil, fmt.Errorf("%s defines no tasks", path)
	}

	g := graph.New()
	for _, def := range file.Tasks {
		if def.ID == "" {
			return nil, fmt.Errorf("%s: task with empty id", path)
		}
		priority, err := graph.ParsePriority(def.Priority)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", def.ID, err)
		}

		task := &graph.Task{
			ID:          def.ID,
			Name:        def.Name,
			Description: def.Description,
			Priority:    priority,
			DependsOn:   def.DependsOn,
		}
		if task.Name == "" {
			task.Name = def.ID
		}
		if err := g.AddTask(task); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	return g, nil
}
