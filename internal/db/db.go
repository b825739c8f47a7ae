package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	embedsql "github.com/ldi/tasktree/embed/sql"
	"github.com/ldi/tasktree/pkg/models"
	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
	Staging          *StagingManager
	now              func() time.Time
	onChange         func(ctx context.Context)
	onChangeMu       sync.RWMutex
	onChangeDisabled bool
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SetOnChange installs a hook invoked after every successful write.
func (db *DB) SetOnChange(fn func(ctx context.Context)) {
	db.onChangeMu.Lock()
	defer db.onChangeMu.Unlock()
	db.onChange = fn
}

func (db *DB) DisableOnChange() {
	db.onChangeMu.Lock()
	defer db.onChangeMu.Unlock()
	db.onChangeDisabled = true
}

func (db *DB) EnableOnChange() {
	db.onChangeMu.Lock()
	defer db.onChangeMu.Unlock()
	db.onChangeDisabled = false
}

func (db *DB) triggerChange(ctx context.Context) {
	db.onChangeMu.RLock()
	fn := db.onChange
	disabled := db.onChangeDisabled
	db.onChangeMu.RUnlock()

	if fn != nil && !disabled {
		fn(ctx)
	}
}

// SetNowFunc overrides the clock used for snapshot metadata. Row timestamps
// are stamped by SQLite and are unaffected.
func (db *DB) SetNowFunc(fn func() time.Time) {
	db.now = fn
}

// Open opens a SQLite database at the given path.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL mode for better concurrency
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Foreign keys support
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// SQLite works best with a single writer.
	sqlDB.SetMaxOpenConns(1)

	return &DB{
		DB:      sqlDB,
		Staging: NewStagingManager(),
		now:     time.Now,
	}, nil
}

func (db *DB) Migrate(ctx context.Context, schema string) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	db.triggerChange(ctx)
	return nil
}

// Init applies the schema and seeds the reserved misc feature.
func (db *DB) Init(ctx context.Context) error {
	if err := db.Migrate(ctx, embedsql.Schema); err != nil {
		return err
	}
	return db.ensureMiscFeature(ctx, db.DB)
}

func (db *DB) ensureMiscFeature(ctx context.Context, exec executor) error {
	f, err := db.getFeatureByName(ctx, exec, models.MiscFeatureName)
	if err != nil {
		return err
	}
	if f != nil {
		return nil
	}
	seed := &models.Feature{
		Name:          models.MiscFeatureName,
		Description:   "Miscellaneous tasks",
		Specification: "Default feature for tasks created without an explicit feature.",
	}
	if err := db.createFeature(ctx, exec, seed); err != nil {
		return fmt.Errorf("failed to seed misc feature: %w", err)
	}
	return nil
}
