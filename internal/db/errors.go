package db

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by store operations. Callers match them with
// errors.Is; the wrapped message carries the offending name or value.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrDuplicate  = errors.New("already exists")
	ErrCycle      = errors.New("dependency cycle")
)

// SnapshotFormatError reports a malformed snapshot file. Line is 1-based.
type SnapshotFormatError struct {
	Line int
	Msg  string
}

func (e *SnapshotFormatError) Error() string {
	return fmt.Sprintf("snapshot line %d: %s", e.Line, e.Msg)
}

func snapshotErrf(line int, format string, args ...any) error {
	return &SnapshotFormatError{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// mapConstraintError translates SQLite constraint failures into sentinel
// errors. Writes are validated before they reach SQLite, so this only fires
// when a schema constraint catches something the pre-checks missed.
func mapConstraintError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case strings.Contains(msg, "CHECK constraint failed"):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
