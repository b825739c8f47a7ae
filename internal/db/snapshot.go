package db

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"
	"github.com/ldi/tasktree/pkg/models"
)

const (
	snapshotSchemaVersion = "1"
	snapshotSource        = "sqlite"
	timestampLayout       = "2006-01-02 15:04:05"
)

// Record block order within a snapshot file. meta appears exactly once and
// first; the remaining blocks may be empty but never interleave backward.
var recordOrder = map[string]int{
	"meta":       0,
	"feature":    1,
	"task":       2,
	"dependency": 3,
}

// Snapshot records. Field order here is the wire key order, so keep it
// fixed: encoding/json emits keys in struct order.

type metaRecord struct {
	RecordType    string `json:"record_type"`
	SchemaVersion string `json:"schema_version"`
	GeneratedAt   string `json:"generated_at"`
	Source        string `json:"source"`
}

type featureRecord struct {
	RecordType    string `json:"record_type"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Specification string `json:"specification"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type taskRecord struct {
	RecordType    string  `json:"record_type"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Specification string  `json:"specification"`
	FeatureName   string  `json:"feature_name"`
	TestsRequired bool    `json:"tests_required"`
	Priority      int     `json:"priority"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
	StartedAt     *string `json:"started_at"`
	CompletedAt   *string `json:"completed_at"`
}

type dependencyRecord struct {
	RecordType        string `json:"record_type"`
	TaskName          string `json:"task_name"`
	DependsOnTaskName string `json:"depends_on_task_name"`
}

// EnableAutoSnapshot exports a snapshot to path after every successful
// write. Export failures must not fail the originating write, so they are
// reported to onError (which may be nil).
func (db *DB) EnableAutoSnapshot(path string, onError func(error)) {
	db.SetOnChange(func(ctx context.Context) {
		if err := db.ExportSnapshot(ctx, path); err != nil && onError != nil {
			onError(err)
		}
	})
}

// ExportSnapshot writes the full graph to path atomically via a temporary
// file. Two exports of the same graph under the same clock are
// byte-identical regardless of insertion order.
func (db *DB) ExportSnapshot(ctx context.Context, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "snapshot-*.jsonl")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempFile.Name())
		}
	}()

	if err := db.WriteSnapshot(ctx, tempFile); err != nil {
		return err
	}

	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	filename := tempFile.Name()
	tempFile = nil // Prevent defer from removing it

	if err := os.Rename(filename, path); err != nil {
		os.Remove(filename)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// WriteSnapshot serializes the graph to w: one meta line, features sorted by
// name, tasks sorted by name, dependencies sorted by (task, prerequisite).
func (db *DB) WriteSnapshot(ctx context.Context, w io.Writer) error {
	bw := bufio.NewWriter(w)

	meta := metaRecord{
		RecordType:    "meta",
		SchemaVersion: snapshotSchemaVersion,
		GeneratedAt:   db.now().UTC().Format(timestampLayout),
		Source:        snapshotSource,
	}
	if err := writeRecord(bw, meta); err != nil {
		return err
	}

	if err := db.writeFeatureRecords(ctx, bw); err != nil {
		return err
	}
	if err := db.writeTaskRecords(ctx, bw); err != nil {
		return err
	}
	if err := db.writeDependencyRecords(ctx, bw); err != nil {
		return err
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (db *DB) writeFeatureRecords(ctx context.Context, w *bufio.Writer) error {
	rows, err := db.QueryContext(ctx, `
		SELECT name, description, specification,
		       CAST(created_at AS TEXT), CAST(updated_at AS TEXT)
		FROM features
		ORDER BY name ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to query features for snapshot: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec := featureRecord{RecordType: "feature"}
		if err := rows.Scan(&rec.Name, &rec.Description, &rec.Specification,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan feature for snapshot: %w", err)
		}
		if err := writeRecord(w, rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (db *DB) writeTaskRecords(ctx context.Context, w *bufio.Writer) error {
	rows, err := db.QueryContext(ctx, `
		SELECT t.name, t.description, t.specification, f.name,
		       t.tests_required, t.priority, t.status,
		       CAST(t.created_at AS TEXT), CAST(t.updated_at AS TEXT),
		       CAST(t.started_at AS TEXT), CAST(t.completed_at AS TEXT)
		FROM tasks t
		JOIN features f ON t.feature_id = f.id
		ORDER BY t.name ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to query tasks for snapshot: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec := taskRecord{RecordType: "task"}
		var testsRequired int
		var startedAt, completedAt sql.NullString
		if err := rows.Scan(&rec.Name, &rec.Description, &rec.Specification, &rec.FeatureName,
			&testsRequired, &rec.Priority, &rec.Status,
			&rec.CreatedAt, &rec.UpdatedAt, &startedAt, &completedAt); err != nil {
			return fmt.Errorf("failed to scan task for snapshot: %w", err)
		}
		rec.TestsRequired = testsRequired == 1
		if startedAt.Valid {
			rec.StartedAt = &startedAt.String
		}
		if completedAt.Valid {
			rec.CompletedAt = &completedAt.String
		}
		if err := writeRecord(w, rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (db *DB) writeDependencyRecords(ctx context.Context, w *bufio.Writer) error {
	rows, err := db.QueryContext(ctx, `
		SELECT t.name, p.name
		FROM dependencies dep
		JOIN tasks t ON dep.task_id = t.id
		JOIN tasks p ON dep.depends_on_task_id = p.id
		ORDER BY t.name ASC, p.name ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to query dependencies for snapshot: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec := dependencyRecord{RecordType: "dependency"}
		if err := rows.Scan(&rec.TaskName, &rec.DependsOnTaskName); err != nil {
			return fmt.Errorf("failed to scan dependency for snapshot: %w", err)
		}
		if err := writeRecord(w, rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func writeRecord(w *bufio.Writer, record any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record); err != nil {
		return fmt.Errorf("failed to encode snapshot record: %w", err)
	}
	line := escapeNonASCII(strings.TrimRight(buf.String(), "\n"))
	if _, err := w.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write snapshot record: %w", err)
	}
	return nil
}

// escapeNonASCII rewrites runes above 0x7F as \uXXXX escapes so the
// artifact is pure ASCII and diffs cleanly everywhere.
func escapeNonASCII(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r < 0x80:
			b.WriteRune(r)
		case r <= 0xFFFF:
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&b, `\u%04x\u%04x`, hi, lo)
		}
	}
	return b.String()
}

// ImportSnapshot rebuilds the store from a snapshot file. With overwrite
// set, existing contents are destroyed first; otherwise records are
// inserted into the existing store and name conflicts surface as
// ErrDuplicate. Either way the import is one atomic transaction.
func (db *DB) ImportSnapshot(ctx context.Context, path string, overwrite bool) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	if err := db.importSnapshot(ctx, file, overwrite); err != nil {
		return err
	}

	db.triggerChange(ctx)
	return nil
}

func (db *DB) importSnapshot(ctx context.Context, r io.Reader, overwrite bool) error {
	features, tasks, deps, err := parseSnapshot(r)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if overwrite {
		for _, stmt := range []string{
			`DELETE FROM dependencies`,
			`DELETE FROM tasks`,
			`DELETE FROM features`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to clear store: %w", err)
			}
		}
	}

	for _, rec := range features {
		if err := db.importFeature(ctx, tx, rec); err != nil {
			return err
		}
	}

	// The reserved misc feature must exist even if the snapshot predates it.
	if err := db.ensureMiscFeature(ctx, tx); err != nil {
		return err
	}

	for _, rec := range tasks {
		if err := db.importTask(ctx, tx, rec); err != nil {
			return err
		}
	}
	for _, rec := range deps {
		if err := db.createDependency(ctx, tx, rec.TaskName, rec.DependsOnTaskName); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (db *DB) importFeature(ctx context.Context, exec executor, rec featureRecord) error {
	existing, err := db.getFeatureByName(ctx, exec, rec.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("feature %q: %w", rec.Name, ErrDuplicate)
	}

	createdAt := rec.CreatedAt
	if createdAt == "" {
		createdAt = db.now().UTC().Format(timestampLayout)
	}
	updatedAt := rec.UpdatedAt
	if updatedAt == "" {
		updatedAt = createdAt
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO features (id, name, description, specification, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), rec.Name, rec.Description, rec.Specification, createdAt, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to import feature %q: %w", rec.Name, mapConstraintError(err))
	}
	return nil
}

func (db *DB) importTask(ctx context.Context, exec executor, rec taskRecord) error {
	f, err := db.getFeatureByName(ctx, exec, rec.FeatureName)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("feature %q: %w", rec.FeatureName, ErrNotFound)
	}

	existing, err := db.getTaskByName(ctx, exec, rec.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("task %q: %w", rec.Name, ErrDuplicate)
	}

	testsRequired := 0
	if rec.TestsRequired {
		testsRequired = 1
	}
	createdAt := rec.CreatedAt
	if createdAt == "" {
		createdAt = db.now().UTC().Format(timestampLayout)
	}
	updatedAt := rec.UpdatedAt
	if updatedAt == "" {
		updatedAt = createdAt
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO tasks (
			id, feature_id, name, description, specification,
			tests_required, priority, status,
			created_at, updated_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), f.ID, rec.Name, rec.Description, rec.Specification,
		testsRequired, rec.Priority, rec.Status,
		createdAt, updatedAt, rec.StartedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to import task %q: %w", rec.Name, mapConstraintError(err))
	}
	return nil
}

// parseSnapshot reads and validates the snapshot line by line, enforcing
// the record block order and the supported schema version.
func parseSnapshot(r io.Reader) ([]featureRecord, []taskRecord, []dependencyRecord, error) {
	var (
		features []featureRecord
		tasks    []taskRecord
		deps     []dependencyRecord
		sawMeta  bool
	)
	currentBlock := -1

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var base struct {
			RecordType string `json:"record_type"`
		}
		if err := json.Unmarshal([]byte(text), &base); err != nil {
			return nil, nil, nil, snapshotErrf(line, "invalid JSON: %v", err)
		}

		blockIndex, ok := recordOrder[base.RecordType]
		if !ok {
			return nil, nil, nil, snapshotErrf(line, "unknown record_type %q", base.RecordType)
		}
		if blockIndex < currentBlock {
			return nil, nil, nil, snapshotErrf(line, "record ordering violation: %s", base.RecordType)
		}
		currentBlock = blockIndex

		switch base.RecordType {
		case "meta":
			if sawMeta {
				return nil, nil, nil, snapshotErrf(line, "snapshot must contain exactly one meta record")
			}
			var meta metaRecord
			if err := json.Unmarshal([]byte(text), &meta); err != nil {
				return nil, nil, nil, snapshotErrf(line, "invalid meta record: %v", err)
			}
			if meta.SchemaVersion != snapshotSchemaVersion {
				return nil, nil, nil, snapshotErrf(line, "unsupported schema version %q", meta.SchemaVersion)
			}
			if meta.GeneratedAt == "" {
				return nil, nil, nil, snapshotErrf(line, "meta record must include generated_at")
			}
			sawMeta = true

		case "feature":
			if !sawMeta {
				return nil, nil, nil, snapshotErrf(line, "snapshot must start with a meta record")
			}
			var rec featureRecord
			if err := json.Unmarshal([]byte(text), &rec); err != nil {
				return nil, nil, nil, snapshotErrf(line, "invalid feature record: %v", err)
			}
			if rec.Name == "" {
				return nil, nil, nil, snapshotErrf(line, "feature record missing name")
			}
			features = append(features, rec)

		case "task":
			if !sawMeta {
				return nil, nil, nil, snapshotErrf(line, "snapshot must start with a meta record")
			}
			var rec taskRecord
			if err := json.Unmarshal([]byte(text), &rec); err != nil {
				return nil, nil, nil, snapshotErrf(line, "invalid task record: %v", err)
			}
			if rec.Name == "" {
				return nil, nil, nil, snapshotErrf(line, "task record missing name")
			}
			if _, err := models.ParseTaskStatus(rec.Status); err != nil {
				return nil, nil, nil, snapshotErrf(line, "task %q: %v", rec.Name, err)
			}
			if rec.Priority < models.MinPriority || rec.Priority > models.MaxPriority {
				return nil, nil, nil, snapshotErrf(line, "task %q: priority out of range", rec.Name)
			}
			tasks = append(tasks, rec)

		case "dependency":
			if !sawMeta {
				return nil, nil, nil, snapshotErrf(line, "snapshot must start with a meta record")
			}
			var rec dependencyRecord
			if err := json.Unmarshal([]byte(text), &rec); err != nil {
				return nil, nil, nil, snapshotErrf(line, "invalid dependency record: %v", err)
			}
			if rec.TaskName == "" || rec.DependsOnTaskName == "" {
				return nil, nil, nil, snapshotErrf(line, "dependency record missing task names")
			}
			deps = append(deps, rec)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if !sawMeta {
		return nil, nil, nil, snapshotErrf(0, "snapshot must include a meta record")
	}

	return features, tasks, deps, nil
}
