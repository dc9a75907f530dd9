package persistence

import (
	"context"
	"fmt"

	"github.com/falconhq/falcon/internal/graph"
)

// SaveGraph replaces the stored goal graph with a snapshot of g.
// The whole snapshot commits atomically.
func (s *SQLiteStore) SaveGraph(ctx context.Context, g *graph.Graph) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Clear child tables explicitly rather than leaning on ON DELETE
	// CASCADE, which only fires when foreign keys are enforced on the
	// connection running the delete.
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_messages`); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies`); err != nil {
		return fmt.Errorf("failed to clear dependencies: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}

	for _, task := range g.Tasks() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, name, description, priority, status, owner, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		`, task.ID, task.Name, task.Description, task.Priority.String(), task.Status.String(), task.Owner, task.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
		}

		for _, depID := range task.DependsOn {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO task_dependencies (task_id, depends_on_id)
				VALUES (?, ?)
			`, task.ID, depID)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
			}
		}

		for _, msg := range task.Messages {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO task_messages (task_id, sender, sent_at, text)
				VALUES (?, ?, ?, ?)
			`, task.ID, msg.Sender, msg.Timestamp, msg.Text)
			if err != nil {
				return fmt.Errorf("failed to insert message for task %s: %w", task.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadGraph reconstructs the goal graph from storage. Statuses, owners, and
// message history come back exactly as saved. Structural validity is not
// checked here; callers run Validate on the result as usual.
func (s *SQLiteStore) LoadGraph(ctx context.Context) (*graph.Graph, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, priority, status, owner, created_at
		FROM tasks
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make(map[string]*graph.Task)
	var order []string
	for rows.Next() {
		task := &graph.Task{}
		var priorityStr, statusStr string

		err := rows.Scan(&task.ID, &task.Name, &task.Description, &priorityStr, &statusStr, &task.Owner, &task.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if task.Priority, err = graph.ParsePriority(priorityStr); err != nil {
			return nil, fmt.Errorf("task %s: %w", task.ID, err)
		}
		if task.Status, err = graph.ParseStatus(statusStr); err != nil {
			return nil, fmt.Errorf("task %s: %w", task.ID, err)
		}

		tasks[task.ID] = task
		order = append(order, task.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	if err := s.loadDependencies(ctx, tasks); err != nil {
		return nil, err
	}
	if err := s.loadMessages(ctx, tasks); err != nil {
		return nil, err
	}

	g := graph.New()
	for _, id := range order {
		if err := g.AddTask(tasks[id]); err != nil {
			return nil, fmt.Errorf("failed to rebuild graph: %w", err)
		}
	}
	return g, nil
}

func (s *SQLiteStore) loadDependencies(ctx context.Context, tasks map[string]*graph.Task) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id
		FROM task_dependencies
		ORDER BY task_id, depends_on_id
	`)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID, depID string
		if err := rows.Scan(&taskID, &depID); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		if task, ok := tasks[taskID]; ok {
			task.DependsOn = append(task.DependsOn, depID)
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) loadMessages(ctx context.Context, tasks map[string]*graph.Task) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, sender, sent_at, text
		FROM task_messages
		ORDER BY task_id, sent_at, id
	`)
	if err != nil {
		return fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID string
		var msg graph.Message
		if err := rows.Scan(&taskID, &msg.Sender, &msg.Timestamp, &msg.Text); err != nil {
			return fmt.Errorf("failed to scan message: %w", err)
		}
		if task, ok := tasks[taskID]; ok {
			task.Messages = append(task.Messages, msg)
		}
	}
	return rows.Err()
}
