package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ldi/tasktree/pkg/models"
)

// taskColumns is the select list shared by every task query.
const taskColumns = `
	t.id, t.feature_id, t.name, t.description, t.specification,
	t.priority, t.tests_required, t.status,
	t.created_at, t.updated_at, t.started_at, t.completed_at,
	f.name AS feature_name
`

// taskOrder sorts by priority, then creation time. rowid breaks ties so
// equal-priority tasks created within the same second keep insertion order.
const taskOrder = ` ORDER BY t.priority DESC, t.created_at ASC, t.rowid ASC`

// CreateTask inserts a new task. FeatureName defaults to misc; the feature
// must exist. Status defaults to pending and is canonicalized; creating a
// task directly in in_progress or completed stamps the same timestamps as
// an explicit status transition.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	if err := db.createTask(ctx, db.DB, t); err != nil {
		return err
	}

	db.triggerChange(ctx)
	return nil
}

// CreateTaskWithDependencies inserts a task and its outgoing dependency
// edges in one transaction. Either everything lands or nothing does.
func (db *DB) CreateTaskWithDependencies(ctx context.Context, t *models.Task, dependsOn []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := db.createTask(ctx, tx, t); err != nil {
		return err
	}
	for _, dep := range dependsOn {
		if err := db.createDependency(ctx, tx, t.Name, dep); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	return nil
}

func (db *DB) createTask(ctx context.Context, exec executor, t *models.Task) error {
	if err := validateTask(t); err != nil {
		return err
	}

	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	featureName := t.FeatureName
	if featureName == "" {
		featureName = models.MiscFeatureName
	}
	f, err := db.getFeatureByName(ctx, exec, featureName)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("feature %q: %w", featureName, ErrNotFound)
	}
	t.FeatureID = f.ID
	t.FeatureName = f.Name

	existing, err := db.getTaskByName(ctx, exec, t.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("task %q: %w", t.Name, ErrDuplicate)
	}

	testsRequired := 0
	if t.TestsRequired {
		testsRequired = 1
	}

	query := `
		INSERT INTO tasks (id, feature_id, name, description, specification, tests_required, priority, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = exec.ExecContext(ctx, query,
		t.ID, t.FeatureID, t.Name, t.Description, t.Specification, testsRequired, t.Priority, t.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", mapConstraintError(err))
	}

	// Re-read so the caller sees trigger-stamped timestamps.
	created, err := db.getTaskByName(ctx, exec, t.Name)
	if err != nil {
		return err
	}
	*t = *created
	return nil
}

func validateTask(t *models.Task) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: task name cannot be empty", ErrValidation)
	}
	if len(t.Name) > models.MaxTaskNameLength {
		return fmt.Errorf("%w: task name must be %d characters or fewer",
			ErrValidation, models.MaxTaskNameLength)
	}
	if strings.TrimSpace(t.Description) == "" {
		return fmt.Errorf("%w: task description cannot be empty", ErrValidation)
	}
	if strings.TrimSpace(t.Specification) == "" {
		return fmt.Errorf("%w: task specification cannot be empty", ErrValidation)
	}
	if t.Priority < models.MinPriority || t.Priority > models.MaxPriority {
		return fmt.Errorf("%w: priority must be between %d and %d",
			ErrValidation, models.MinPriority, models.MaxPriority)
	}
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	status, err := models.ParseTaskStatus(string(t.Status))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	t.Status = status
	return nil
}

// GetTask retrieves a task by name. Returns nil if not found.
func (db *DB) GetTask(ctx context.Context, name string) (*models.Task, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: task name cannot be empty", ErrValidation)
	}
	return db.getTaskByName(ctx, db.DB, name)
}

func (db *DB) getTaskByName(ctx context.Context, exec executor, name string) (*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		JOIN features f ON t.feature_id = f.id
		WHERE t.name = ?
	`
	t := &models.Task{}
	var testsRequired int
	err := exec.QueryRowContext(ctx, query, name).Scan(
		&t.ID, &t.FeatureID, &t.Name, &t.Description, &t.Specification,
		&t.Priority, &testsRequired, &t.Status,
		&t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.CompletedAt,
		&t.FeatureName,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task by name: %w", err)
	}

	t.TestsRequired = testsRequired == 1
	return t, nil
}

// TaskFilter narrows ListTasks. Nil fields match everything.
type TaskFilter struct {
	Status      *models.TaskStatus
	PriorityMin *int
	FeatureName *string
}

// ListTasks returns tasks matching the filter, ordered by priority DESC then
// created_at ASC.
func (db *DB) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		JOIN features f ON t.feature_id = f.id
		WHERE 1=1
	`
	args := []any{}

	if filter.Status != nil {
		status, err := models.ParseTaskStatus(string(*filter.Status))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		query += " AND t.status = ?"
		args = append(args, status)
	}
	if filter.PriorityMin != nil {
		query += " AND t.priority >= ?"
		args = append(args, *filter.PriorityMin)
	}
	if filter.FeatureName != nil {
		query += " AND f.name = ?"
		args = append(args, *filter.FeatureName)
	}

	query += taskOrder

	return db.queryTasks(ctx, query, args...)
}

func (db *DB) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t := &models.Task{}
		var testsRequired int
		err := rows.Scan(
			&t.ID, &t.FeatureID, &t.Name, &t.Description, &t.Specification,
			&t.Priority, &testsRequired, &t.Status,
			&t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.CompletedAt,
			&t.FeatureName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.TestsRequired = testsRequired == 1
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tasks, nil
}

// UpdateTask applies a partial update to the named task. Omitted fields keep
// their values. Returns nil (not an error) if the task does not exist.
// Status changes carry their timestamp side effects atomically.
func (db *DB) UpdateTask(ctx context.Context, name string, patch models.TaskPatch) (*models.Task, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: task name cannot be empty", ErrValidation)
	}
	if err := validatePatch(&patch); err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := db.getTaskByName(ctx, tx, name)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	if patch.IsZero() {
		return current, nil
	}

	// Deterministic update plan: only the set fields, in a fixed order.
	var sets []string
	var args []any
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Specification != nil {
		sets = append(sets, "specification = ?")
		args = append(args, *patch.Specification)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *patch.Priority)
	}
	if patch.TestsRequired != nil {
		testsRequired := 0
		if *patch.TestsRequired {
			testsRequired = 1
		}
		sets = append(sets, "tests_required = ?")
		args = append(args, testsRequired)
	}
	args = append(args, current.ID)

	query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to update task: %w", mapConstraintError(err))
	}

	updated, err := db.getTaskByName(ctx, tx, name)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	return updated, nil
}

func validatePatch(patch *models.TaskPatch) error {
	if patch.Description != nil && strings.TrimSpace(*patch.Description) == "" {
		return fmt.Errorf("%w: task description cannot be empty", ErrValidation)
	}
	if patch.Specification != nil && strings.TrimSpace(*patch.Specification) == "" {
		return fmt.Errorf("%w: task specification cannot be empty", ErrValidation)
	}
	if patch.Priority != nil && (*patch.Priority < models.MinPriority || *patch.Priority > models.MaxPriority) {
		return fmt.Errorf("%w: priority must be between %d and %d",
			ErrValidation, models.MinPriority, models.MaxPriority)
	}
	if patch.Status != nil {
		status, err := models.ParseTaskStatus(*patch.Status)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		canonical := string(status)
		patch.Status = &canonical
	}
	return nil
}

// CompleteTask marks the named task completed. Returns nil if not found.
func (db *DB) CompleteTask(ctx context.Context, name string) (*models.Task, error) {
	status := string(models.TaskStatusCompleted)
	return db.UpdateTask(ctx, name, models.TaskPatch{Status: &status})
}

// StartTask marks the named task in_progress. Returns nil if not found.
func (db *DB) StartTask(ctx context.Context, name string) (*models.Task, error) {
	status := string(models.TaskStatusInProgress)
	return db.UpdateTask(ctx, name, models.TaskPatch{Status: &status})
}

// DeleteTask deletes a task by name. Every dependency edge referencing the
// task (incoming or outgoing) is removed in the same statement via the
// schema's cascade. Returns false if the task did not exist.
func (db *DB) DeleteTask(ctx context.Context, name string) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, fmt.Errorf("%w: task name cannot be empty", ErrValidation)
	}

	res, err := db.ExecContext(ctx, `DELETE FROM tasks WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
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

// GetAvailableTasks returns tasks that are ready to work on: not completed,
// with every prerequisite completed.
func (db *DB) GetAvailableTasks(ctx context.Context) ([]*models.Task, error) {
	query := `
		SELECT id, feature_id, name, description, specification,
		       priority, tests_required, status,
		       created_at, updated_at, started_at, completed_at,
		       feature_name
		FROM v_available_tasks
		ORDER BY priority DESC, created_at ASC, task_rowid ASC
	`
	return db.queryTasks(ctx, query)
}

// CountAvailableTasks returns the number of available tasks without
// claiming any of them.
func (db *DB) CountAvailableTasks(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM v_available_tasks`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count available tasks: %w", err)
	}
	return count, nil
}

// ClaimNextTask atomically claims the highest-priority available pending
// task by marking it in_progress. Returns nil if none is available.
func (db *DB) ClaimNextTask(ctx context.Context) (*models.Task, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var name string
	err = tx.QueryRowContext(ctx, `
		SELECT name
		FROM v_available_tasks
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC, task_rowid ASC
		LIMIT 1
	`).Scan(&name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select next task: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'in_progress' WHERE name = ?`, name); err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	claimed, err := db.getTaskByName(ctx, tx, name)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	return claimed, nil
}
