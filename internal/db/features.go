package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ldi/tasktree/pkg/models"
)

// CreateFeature inserts a new feature. The name must be unique and at most
// 55 characters; the specification must be non-empty.
func (db *DB) CreateFeature(ctx context.Context, f *models.Feature) error {
	if err := db.createFeature(ctx, db.DB, f); err != nil {
		return err
	}

	db.triggerChange(ctx)
	return nil
}

func (db *DB) createFeature(ctx context.Context, exec executor, f *models.Feature) error {
	if err := validateFeature(f); err != nil {
		return err
	}

	if f.ID == "" {
		f.ID = uuid.New().String()
	}

	existing, err := db.getFeatureByName(ctx, exec, f.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("feature %q: %w", f.Name, ErrDuplicate)
	}

	query := `
		INSERT INTO features (id, name, description, specification)
		VALUES (?, ?, ?, ?)
		RETURNING created_at, updated_at
	`
	err = exec.QueryRowContext(ctx, query, f.ID, f.Name, f.Description, f.Specification).
		Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create feature: %w", mapConstraintError(err))
	}
	return nil
}

func validateFeature(f *models.Feature) error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: feature name cannot be empty", ErrValidation)
	}
	if len(f.Name) > models.MaxFeatureNameLength {
		return fmt.Errorf("%w: feature name must be %d characters or fewer",
			ErrValidation, models.MaxFeatureNameLength)
	}
	if strings.TrimSpace(f.Specification) == "" {
		return fmt.Errorf("%w: feature specification cannot be empty", ErrValidation)
	}
	return nil
}

// GetFeature retrieves a feature by name. Returns nil if not found.
func (db *DB) GetFeature(ctx context.Context, name string) (*models.Feature, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: feature name cannot be empty", ErrValidation)
	}
	return db.getFeatureByName(ctx, db.DB, name)
}

func (db *DB) getFeatureByName(ctx context.Context, exec executor, name string) (*models.Feature, error) {
	query := `
		SELECT id, name, description, specification, created_at, updated_at
		FROM features
		WHERE name = ?
	`
	f := &models.Feature{}
	err := exec.QueryRowContext(ctx, query, name).Scan(
		&f.ID, &f.Name, &f.Description, &f.Specification, &f.CreatedAt, &f.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feature by name: %w", err)
	}

	return f, nil
}

// ListFeatures returns all features ordered by name.
func (db *DB) ListFeatures(ctx context.Context) ([]*models.Feature, error) {
	query := `
		SELECT id, name, description, specification, created_at, updated_at
		FROM features
		ORDER BY name ASC
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	defer rows.Close()

	var features []*models.Feature
	for rows.Next() {
		f := &models.Feature{}
		err := rows.Scan(
			&f.ID, &f.Name, &f.Description, &f.Specification, &f.CreatedAt, &f.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}
		features = append(features, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return features, nil
}

// DeleteFeature deletes a feature by name, cascading to its tasks and every
// dependency edge touching those tasks. Returns false if the feature did not
// exist. The reserved misc feature cannot be deleted.
func (db *DB) DeleteFeature(ctx context.Context, name string) (bool, error) {
	if name == models.MiscFeatureName {
		return false, fmt.Errorf("%w: the %q feature cannot be deleted",
			ErrValidation, models.MiscFeatureName)
	}

	res, err := db.ExecContext(ctx, `DELETE FROM features WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete feature: %w", err)
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
