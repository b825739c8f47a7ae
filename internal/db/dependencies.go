package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/ldi/tasktree/pkg/models"
)

// CreateDependency inserts the edge task -> dependsOn, meaning task cannot
// be worked on until dependsOn is completed. The insertion is rejected if it
// is a self-dependency, references a missing task, duplicates an existing
// edge, or would close a cycle.
func (db *DB) CreateDependency(ctx context.Context, taskName, dependsOnTaskName string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := db.createDependency(ctx, tx, taskName, dependsOnTaskName); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	return nil
}

// CreateDependencies inserts several prerequisites for one task in a single
// transaction. Either every edge lands or none does.
func (db *DB) CreateDependencies(ctx context.Context, taskName string, dependsOnTaskNames []string) error {
	if len(dependsOnTaskNames) == 0 {
		return fmt.Errorf("%w: at least one prerequisite is required", ErrValidation)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, dep := range dependsOnTaskNames {
		if err := db.createDependency(ctx, tx, taskName, dep); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	return nil
}

// createDependency validates and inserts one edge using the given executor.
// The cycle check walks the graph as it exists inside the transaction, so a
// batch of edges is validated incrementally.
func (db *DB) createDependency(ctx context.Context, exec executor, taskName, dependsOnTaskName string) error {
	if strings.TrimSpace(taskName) == "" || strings.TrimSpace(dependsOnTaskName) == "" {
		return fmt.Errorf("%w: task name cannot be empty", ErrValidation)
	}
	if taskName == dependsOnTaskName {
		return fmt.Errorf("%w: a task cannot depend on itself", ErrValidation)
	}

	task, err := db.getTaskByName(ctx, exec, taskName)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %q: %w", taskName, ErrNotFound)
	}
	dependsOn, err := db.getTaskByName(ctx, exec, dependsOnTaskName)
	if err != nil {
		return err
	}
	if dependsOn == nil {
		return fmt.Errorf("task %q: %w", dependsOnTaskName, ErrNotFound)
	}

	var exists int
	err = exec.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dependencies WHERE task_id = ? AND depends_on_task_id = ?`,
		task.ID, dependsOn.ID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check for existing dependency: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("dependency %s -> %s: %w", taskName, dependsOnTaskName, ErrDuplicate)
	}

	reachable, err := db.isReachable(ctx, exec, dependsOn.ID, task.ID)
	if err != nil {
		return err
	}
	if reachable {
		return fmt.Errorf("dependency %s -> %s: %w", taskName, dependsOnTaskName, ErrCycle)
	}

	_, err = exec.ExecContext(ctx,
		`INSERT INTO dependencies (task_id, depends_on_task_id) VALUES (?, ?)`,
		task.ID, dependsOn.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to create dependency: %w", mapConstraintError(err))
	}
	return nil
}

// isReachable reports whether to is reachable from from by following
// dependency edges outward (X depends_on Y). BFS over an adjacency list
// loaded in one query; O(N + E) and portable across storage engines.
func (db *DB) isReachable(ctx context.Context, exec executor, from, to string) (bool, error) {
	adjacency, err := db.loadAdjacency(ctx, exec)
	if err != nil {
		return false, err
	}

	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node == to {
			return true, nil
		}
		for _, next := range adjacency[node] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false, nil
}

func (db *DB) loadAdjacency(ctx context.Context, exec executor) (map[string][]string, error) {
	rows, err := exec.QueryContext(ctx, `SELECT task_id, depends_on_task_id FROM dependencies`)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependency graph: %w", err)
	}
	defer rows.Close()

	adjacency := make(map[string][]string)
	for rows.Next() {
		var taskID, dependsOnID string
		if err := rows.Scan(&taskID, &dependsOnID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		adjacency[taskID] = append(adjacency[taskID], dependsOnID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return adjacency, nil
}

// RemoveDependency deletes the edge task -> dependsOn. Returns false if the
// edge did not exist; removal never needs validation since deleting an edge
// cannot introduce a cycle.
func (db *DB) RemoveDependency(ctx context.Context, taskName, dependsOnTaskName string) (bool, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM dependencies
		WHERE task_id = (SELECT id FROM tasks WHERE name = ?)
		  AND depends_on_task_id = (SELECT id FROM tasks WHERE name = ?)
	`, taskName, dependsOnTaskName)
	if err != nil {
		return false, fmt.Errorf("failed to delete dependency: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	db.triggerChange(ctx)
	return true, nil
}

// ListDependencies returns edges as name pairs, sorted by task name then
// prerequisite name. With taskName set, only edges mentioning that task
// (either side) are returned.
func (db *DB) ListDependencies(ctx context.Context, taskName *string) ([]*models.Dependency, error) {
	query := `
		SELECT t.name AS task_name, p.name AS depends_on_task_name
		FROM dependencies dep
		JOIN tasks t ON dep.task_id = t.id
		JOIN tasks p ON dep.depends_on_task_id = p.id
	`
	args := []any{}
	if taskName != nil {
		query += " WHERE t.name = ? OR p.name = ?"
		args = append(args, *taskName, *taskName)
	}
	query += " ORDER BY t.name ASC, p.name ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer rows.Close()

	var deps []*models.Dependency
	for rows.Next() {
		d := &models.Dependency{}
		if err := rows.Scan(&d.TaskName, &d.DependsOnTaskName); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return deps, nil
}

// GetDependencies returns the prerequisite tasks of the named task.
func (db *DB) GetDependencies(ctx context.Context, taskName string) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		JOIN dependencies dep ON t.id = dep.depends_on_task_id
		JOIN tasks src ON dep.task_id = src.id
		JOIN features f ON t.feature_id = f.id
		WHERE src.name = ?
	` + taskOrder
	return db.queryTasks(ctx, query, taskName)
}

// GetDependents returns the tasks that depend on the named task.
func (db *DB) GetDependents(ctx context.Context, taskName string) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		JOIN dependencies dep ON t.id = dep.task_id
		JOIN tasks target ON dep.depends_on_task_id = target.id
		JOIN features f ON t.feature_id = f.id
		WHERE target.name = ?
	` + taskOrder
	return db.queryTasks(ctx, query, taskName)
}
