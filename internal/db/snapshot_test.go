package db

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ldi/tasktree/pkg/models"
)

func pinClock(db *DB) time.Time {
	at := time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)
	db.SetNowFunc(func() time.Time { return at })
	return at
}

func TestSnapshotExportFormat(t *testing.T) {
	db, ctx := newTestDB(t)
	pinClock(db)

	if err := db.CreateFeature(ctx, &models.Feature{Name: "alpha", Description: "d", Specification: "s"}); err != nil {
		t.Fatalf("Failed to create feature: %v", err)
	}

	// Created out of name order; the export must not care.
	mustCreateTask(t, db, &models.Task{Name: "zulu", Description: "d", Specification: "s", FeatureName: "alpha"})
	mustCreateTask(t, db, &models.Task{Name: "bravo", Description: "caf\u00e9 menu", Specification: "s", Priority: 4})
	if err := db.CreateDependency(ctx, "zulu", "bravo"); err != nil {
		t.Fatalf("Failed to create dependency: %v", err)
	}

	var buf bytes.Buffer
	if err := db.WriteSnapshot(ctx, &buf); err != nil {
		t.Fatalf("Failed to write snapshot: %v", err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	// 1. meta first, with the exact key order and pinned clock
	wantMeta := `{"record_type":"meta","schema_version":"1","generated_at":"2024-06-01 10:30:00","source":"sqlite"}`
	if lines[0] != wantMeta {
		t.Errorf("Meta line mismatch:\n got %s\nwant %s", lines[0], wantMeta)
	}

	// 2. features sorted by name (alpha, misc), then tasks (bravo, zulu), then deps
	if len(lines) != 6 {
		t.Fatalf("Expected 6 lines, got %d:\n%s", len(lines), out)
	}
	prefixes := []string{
		`{"record_type":"meta"`,
		`{"record_type":"feature","name":"alpha"`,
		`{"record_type":"feature","name":"misc"`,
		`{"record_type":"task","name":"bravo"`,
		`{"record_type":"task","name":"zulu"`,
		`{"record_type":"dependency","task_name":"zulu","depends_on_task_name":"bravo"}`,
	}
	for i, prefix := range prefixes {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("Line %d: expected prefix %s, got %s", i, prefix, lines[i])
		}
	}

	// 3. pure ASCII output, with non-ASCII escaped
	for _, b := range []byte(out) {
		if b > 0x7f {
			t.Fatalf("Snapshot contains non-ASCII byte %#x", b)
		}
	}
	if !strings.Contains(out, `caf\u00e9`) {
		t.Error("Expected escaped non-ASCII content in snapshot")
	}

	// 4. task key order
	if !strings.Contains(lines[3], `"description":"caf\u00e9 menu","specification":"s","feature_name":"misc","tests_required":false,"priority":4,"status":"pending"`) {
		t.Errorf("Task record key order mismatch: %s", lines[3])
	}
	if !strings.Contains(lines[3], `"started_at":null,"completed_at":null}`) {
		t.Errorf("Expected null timestamps at end of task record: %s", lines[3])
	}
}

func TestSnapshotDeterministicExport(t *testing.T) {
	db, ctx := newTestDB(t)
	pinClock(db)

	mustCreateTask(t, db, &models.Task{Name: "t1", Description: "d", Specification: "s"})
	mustCreateTask(t, db, &models.Task{Name: "t2", Description: "d", Specification: "s"})
	if err := db.CreateDependency(ctx, "t2", "t1"); err != nil {
		t.Fatalf("Failed to create dependency: %v", err)
	}

	var first, second bytes.Buffer
	if err := db.WriteSnapshot(ctx, &first); err != nil {
		t.Fatalf("First export failed: %v", err)
	}
	if err := db.WriteSnapshot(ctx, &second); err != nil {
		t.Fatalf("Second export failed: %v", err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Error("Exports of the same graph differ")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	db, ctx := newTestDB(t)
	pinClock(db)

	if err := db.CreateFeature(ctx, &models.Feature{Name: "engine", Description: "d", Specification: "s"}); err != nil {
		t.Fatalf("Failed to create feature: %v", err)
	}
	mustCreateTask(t, db, &models.Task{Name: "design", Description: "d", Specification: "s", FeatureName: "engine", Priority: 9})
	mustCreateTask(t, db, &models.Task{Name: "build", Description: "d", Specification: "s", FeatureName: "engine", Priority: 7, TestsRequired: true})
	if err := db.CreateDependency(ctx, "build", "design"); err != nil {
		t.Fatalf("Failed to create dependency: %v", err)
	}
	if _, err := db.CompleteTask(ctx, "design"); err != nil {
		t.Fatalf("Failed to complete task: %v", err)
	}
	if _, err := db.StartTask(ctx, "build"); err != nil {
		t.Fatalf("Failed to start task: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.jsonl")
	if err := db.ExportSnapshot(ctx, path); err != nil {
		t.Fatalf("Failed to export snapshot: %v", err)
	}
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}

	// Import into a fresh store, re-export, compare bytes.
	db2, ctx2 := newTestDB(t)
	pinClock(db2)
	if err := db2.ImportSnapshot(ctx2, path, true); err != nil {
		t.Fatalf("Failed to import snapshot: %v", err)
	}

	path2 := filepath.Join(dir, "snapshot2.jsonl")
	if err := db2.ExportSnapshot(ctx2, path2); err != nil {
		t.Fatalf("Failed to re-export snapshot: %v", err)
	}
	reexported, err := os.ReadFile(path2)
	if err != nil {
		t.Fatalf("Failed to read re-export: %v", err)
	}

	if !bytes.Equal(original, reexported) {
		t.Errorf("Round trip is not byte-identical:\n--- original ---\n%s\n--- reexport ---\n%s", original, reexported)
	}

	// Imported state is queryable, not just serializable.
	build, err := db2.GetTask(ctx2, "build")
	if err != nil || build == nil {
		t.Fatalf("Imported task missing: %v", err)
	}
	if build.Status != models.TaskStatusInProgress || build.StartedAt == nil {
		t.Errorf("Imported task lost lifecycle state: %+v", build)
	}
	deps, err := db2.GetDependencies(ctx2, "build")
	if err != nil || len(deps) != 1 {
		t.Fatalf("Imported dependency missing: %v", err)
	}
}

func writeSnapshotFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snap.jsonl")
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write snapshot file: %v", err)
	}
	return path
}

const testMetaLine = `{"record_type":"meta","schema_version":"1","generated_at":"2024-06-01 10:30:00","source":"sqlite"}`

func TestImportMerge(t *testing.T) {
	db, ctx := newTestDB(t)

	mustCreateTask(t, db, &models.Task{Name: "existing", Description: "d", Specification: "s"})

	path := writeSnapshotFile(t,
		testMetaLine,
		`{"record_type":"feature","name":"extra","description":"d","specification":"s","created_at":"2024-01-01 00:00:00","updated_at":"2024-01-01 00:00:00"}`,
		`{"record_type":"task","name":"imported","description":"d","specification":"s","feature_name":"extra","tests_required":true,"priority":3,"status":"pending","created_at":"2024-01-01 00:00:00","updated_at":"2024-01-01 00:00:00","started_at":null,"completed_at":null}`,
		`{"record_type":"dependency","task_name":"imported","depends_on_task_name":"existing"}`,
	)

	if err := db.ImportSnapshot(ctx, path, false); err != nil {
		t.Fatalf("Merge import failed: %v", err)
	}

	task, err := db.GetTask(ctx, "imported")
	if err != nil || task == nil {
		t.Fatalf("Imported task missing: %v", err)
	}
	if task.FeatureName != "extra" || task.Priority != 3 {
		t.Errorf("Imported task fields wrong: %+v", task)
	}
	deps, err := db.GetDependencies(ctx, "imported")
	if err != nil || len(deps) != 1 || deps[0].Name != "existing" {
		t.Fatalf("Cross-boundary dependency not imported: %v", err)
	}

	// Merging again conflicts, and the failed import changes nothing.
	err = db.ImportSnapshot(ctx, path, false)
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate on re-merge, got %v", err)
	}
}

func TestImportOverwrite(t *testing.T) {
	db, ctx := newTestDB(t)

	mustCreateTask(t, db, &models.Task{Name: "doomed", Description: "d", Specification: "s"})

	path := writeSnapshotFile(t,
		testMetaLine,
		`{"record_type":"task","name":"fresh","description":"d","specification":"s","feature_name":"misc","tests_required":false,"priority":0,"status":"pending","created_at":"2024-01-01 00:00:00","updated_at":"2024-01-01 00:00:00","started_at":null,"completed_at":null}`,
	)

	if err := db.ImportSnapshot(ctx, path, true); err != nil {
		t.Fatalf("Overwrite import failed: %v", err)
	}

	// Old contents are gone, misc is re-seeded, new task present.
	old, err := db.GetTask(ctx, "doomed")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if old != nil {
		t.Error("Pre-import task should be gone after overwrite")
	}
	fresh, err := db.GetTask(ctx, "fresh")
	if err != nil || fresh == nil {
		t.Fatalf("Imported task missing: %v", err)
	}
	misc, err := db.GetFeature(ctx, models.MiscFeatureName)
	if err != nil || misc == nil {
		t.Fatalf("misc feature missing after overwrite import: %v", err)
	}
}

func TestImportAtomicity(t *testing.T) {
	db, ctx := newTestDB(t)

	// The dependency at the end references a missing task, so the whole
	// import must roll back, including the valid records before it.
	path := writeSnapshotFile(t,
		testMetaLine,
		`{"record_type":"task","name":"partial","description":"d","specification":"s","feature_name":"misc","tests_required":false,"priority":0,"status":"pending","created_at":"2024-01-01 00:00:00","updated_at":"2024-01-01 00:00:00","started_at":null,"completed_at":null}`,
		`{"record_type":"dependency","task_name":"partial","depends_on_task_name":"ghost"}`,
	)

	err := db.ImportSnapshot(ctx, path, false)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	task, err := db.GetTask(ctx, "partial")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if task != nil {
		t.Error("Partial import left data behind")
	}
}

func TestImportCycleRejected(t *testing.T) {
	db, ctx := newTestDB(t)

	path := writeSnapshotFile(t,
		testMetaLine,
		`{"record_type":"task","name":"a","description":"d","specification":"s","feature_name":"misc","tests_required":false,"priority":0,"status":"pending","created_at":"2024-01-01 00:00:00","updated_at":"2024-01-01 00:00:00","started_at":null,"completed_at":null}`,
		`{"record_type":"task","name":"b","description":"d","specification":"s","feature_name":"misc","tests_required":false,"priority":0,"status":"pending","created_at":"2024-01-01 00:00:00","updated_at":"2024-01-01 00:00:00","started_at":null,"completed_at":null}`,
		`{"record_type":"dependency","task_name":"a","depends_on_task_name":"b"}`,
		`{"record_type":"dependency","task_name":"b","depends_on_task_name":"a"}`,
	)

	err := db.ImportSnapshot(ctx, path, false)
	if !errors.Is(err, ErrCycle) {
		t.Errorf("Expected ErrCycle, got %v", err)
	}
}

func TestImportFormatErrors(t *testing.T) {
	db, ctx := newTestDB(t)

	cases := []struct {
		name     string
		lines    []string
		wantLine int
	}{
		{"invalid json", []string{testMetaLine, `{not json`}, 2},
		{"unknown record type", []string{testMetaLine, `{"record_type":"widget"}`}, 2},
		{"missing meta", []string{`{"record_type":"feature","name":"f","description":"d","specification":"s"}`}, 1},
		{"duplicate meta", []string{testMetaLine, testMetaLine}, 2},
		{"bad schema version", []string{`{"record_type":"meta","schema_version":"9","generated_at":"2024-06-01 10:30:00","source":"sqlite"}`}, 1},
		{"ordering violation", []string{
			testMetaLine,
			`{"record_type":"task","name":"t","description":"d","specification":"s","feature_name":"misc","tests_required":false,"priority":0,"status":"pending","created_at":"2024-01-01 00:00:00","updated_at":"2024-01-01 00:00:00","started_at":null,"completed_at":null}`,
			`{"record_type":"feature","name":"late","description":"d","specification":"s"}`,
		}, 3},
		{"bad status", []string{
			testMetaLine,
			`{"record_type":"task","name":"t","description":"d","specification":"s","feature_name":"misc","tests_required":false,"priority":0,"status":"done","created_at":"2024-01-01 00:00:00","updated_at":"2024-01-01 00:00:00","started_at":null,"completed_at":null}`,
		}, 2},
		{"priority out of range", []string{
			testMetaLine,
			`{"record_type":"task","name":"t","description":"d","specification":"s","feature_name":"misc","tests_required":false,"priority":42,"status":"pending","created_at":"2024-01-01 00:00:00","updated_at":"2024-01-01 00:00:00","started_at":null,"completed_at":null}`,
		}, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeSnapshotFile(t, tc.lines...)
			err := db.ImportSnapshot(ctx, path, false)

			var formatErr *SnapshotFormatError
			if !errors.As(err, &formatErr) {
				t.Fatalf("Expected SnapshotFormatError, got %v", err)
			}
			if formatErr.Line != tc.wantLine {
				t.Errorf("Expected error on line %d, got %d (%v)", tc.wantLine, formatErr.Line, err)
			}
		})
	}
}

func TestAutoSnapshot(t *testing.T) {
	db, ctx := newTestDB(t)
	pinClock(db)

	path := filepath.Join(t.TempDir(), "auto.jsonl")
	db.EnableAutoSnapshot(path, func(err error) {
		t.Errorf("Auto snapshot failed: %v", err)
	})

	if err := db.CreateFeature(ctx, &models.Feature{Name: "tracked", Description: "d", Specification: "s"}); err != nil {
		t.Fatalf("Failed to create feature: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Auto snapshot not written: %v", err)
	}
	if !strings.Contains(string(data), `"name":"tracked"`) {
		t.Errorf("Snapshot missing new feature:\n%s", data)
	}
}

func TestAutoSnapshotSuppressedDuringImport(t *testing.T) {
	db, ctx := newTestDB(t)

	// Import itself counts as one change: exactly one notification afterwards.
	exports := 0
	db.SetOnChange(func(ctx context.Context) { exports++ })

	path := writeSnapshotFile(t,
		testMetaLine,
		`{"record_type":"task","name":"only","description":"d","specification":"s","feature_name":"misc","tests_required":false,"priority":0,"status":"pending","created_at":"2024-01-01 00:00:00","updated_at":"2024-01-01 00:00:00","started_at":null,"completed_at":null}`,
	)
	if err := db.ImportSnapshot(ctx, path, false); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if exports != 1 {
		t.Errorf("Expected exactly 1 change notification for import, got %d", exports)
	}
}
