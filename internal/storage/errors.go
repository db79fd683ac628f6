package storage

import (
	"errors"
	"fmt"

	"github.com/ldi/butler/pkg/models"
)

// ErrNotFound is returned when an id or prefix matches no task.
var ErrNotFound = errors.New("task not found")

// AmbiguousError is returned when a short id prefix matches more than one
// task. Callers surface the candidates and abort the operation.
type AmbiguousError struct {
	Ref     string
	Matches []*models.Task
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("short id %q matches %d tasks", e.Ref, len(e.Matches))
}

// MalformedFileError reports a task file whose frontmatter is missing
// required keys or fails type parsing. Bulk operations skip the file and
// report it as a warning; single-task operations surface it directly.
type MalformedFileError struct {
	Path  string
	Field string
	Err   error
}

func (e *MalformedFileError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed task file %s: field %q: %v", e.Path, e.Field, e.Err)
	}
	return fmt.Sprintf("malformed task file %s: %v", e.Path, e.Err)
}

func (e *MalformedFileError) Unwrap() error {
	return e.Err
}
