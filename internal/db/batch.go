package db

import (
	"context"
	"fmt"
)

// CommitBatch writes the session's staged items in one transaction, in
// insertion order within each kind: features first, then tasks, then
// dependency edges. Every record goes through the same validation as a
// direct write, so a staged edge that would close a cycle rolls back the
// whole batch. The staged items are consumed either way.
func (db *DB) CommitBatch(ctx context.Context, sessionID string) error {
	items := db.Staging.GetAndClear(sessionID)
	if len(items.Features) == 0 && len(items.Tasks) == 0 && len(items.Dependencies) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, f := range items.Features {
		if err := db.createFeature(ctx, tx, f); err != nil {
			return fmt.Errorf("staged feature %q: %w", f.Name, err)
		}
	}

	for _, t := range items.Tasks {
		if err := db.createTask(ctx, tx, t); err != nil {
			return fmt.Errorf("staged task %q: %w", t.Name, err)
		}
	}

	for _, d := range items.Dependencies {
		if err := db.createDependency(ctx, tx, d.TaskName, d.DependsOnTaskName); err != nil {
			return fmt.Errorf("staged dependency: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	return nil
}
