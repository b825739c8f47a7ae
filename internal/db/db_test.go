package db

import (
	"context"
	"errors"
	"testing"

	"github.com/ldi/tasktree/pkg/models"
)

func newTestDB(t *testing.T) (*DB, context.Context) {
	t.Helper()

	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.Init(ctx); err != nil {
		t.Fatalf("Failed to init database: %v", err)
	}
	return db, ctx
}

func TestInitSeedsMiscFeature(t *testing.T) {
	db, ctx := newTestDB(t)

	f, err := db.GetFeature(ctx, models.MiscFeatureName)
	if err != nil {
		t.Fatalf("Failed to get misc feature: %v", err)
	}
	if f == nil {
		t.Fatal("Expected misc feature after Init, got nil")
	}

	// Init is idempotent
	if err := db.Init(ctx); err != nil {
		t.Fatalf("Second Init failed: %v", err)
	}

	features, err := db.ListFeatures(ctx)
	if err != nil {
		t.Fatalf("Failed to list features: %v", err)
	}
	if len(features) != 1 {
		t.Errorf("Expected 1 feature after double Init, got %d", len(features))
	}
}

func TestMiscFeatureCannotBeDeleted(t *testing.T) {
	db, ctx := newTestDB(t)

	_, err := db.DeleteFeature(ctx, models.MiscFeatureName)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation deleting misc, got %v", err)
	}

	f, err := db.GetFeature(ctx, models.MiscFeatureName)
	if err != nil {
		t.Fatalf("Failed to get misc feature: %v", err)
	}
	if f == nil {
		t.Fatal("misc feature should survive deletion attempt")
	}
}

func TestOnChangeHook(t *testing.T) {
	db, ctx := newTestDB(t)

	calls := 0
	db.SetOnChange(func(ctx context.Context) { calls++ })

	f := &models.Feature{Name: "hooked", Description: "d", Specification: "s"}
	if err := db.CreateFeature(ctx, f); err != nil {
		t.Fatalf("Failed to create feature: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 onChange call, got %d", calls)
	}

	// Failed writes do not fire the hook
	if err := db.CreateFeature(ctx, &models.Feature{Name: "hooked", Description: "d", Specification: "s"}); err == nil {
		t.Fatal("Expected duplicate error")
	}
	if calls != 1 {
		t.Errorf("Expected 1 onChange call after failed write, got %d", calls)
	}

	// Disabled hook stays silent
	db.DisableOnChange()
	if _, err := db.DeleteFeature(ctx, "hooked"); err != nil {
		t.Fatalf("Failed to delete feature: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected no onChange call while disabled, got %d", calls)
	}

	db.EnableOnChange()
	if err := db.CreateFeature(ctx, &models.Feature{Name: "hooked2", Description: "d", Specification: "s"}); err != nil {
		t.Fatalf("Failed to create feature: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 onChange calls after re-enable, got %d", calls)
	}
}
