package navigator

import (
	"errors"
	"fmt"
)

var (
	// ErrProjectNotFound matches every *ProjectNotFoundError.
	ErrProjectNotFound = errors.New("project not found")

	// ErrNotReady is returned by selection operations before a project has
	// been loaded.
	ErrNotReady = errors.New("navigator is not ready")

	// ErrDocumentNotFound is returned when a document id is not in the
	// project's document list.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrEntityNotFound is returned when an entity id is not part of the
	// current document.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrEndOfList is returned when moving past the first or last item.
	ErrEndOfList = errors.New("no more items")

	// ErrTaskNotFound is returned for a meta task the project does not use.
	ErrTaskNotFound = errors.New("meta task not found")

	// ErrSuperseded is returned by a project load, or a document list walk,
	// that a newer LoadProject replaced while it was in flight. Its results
	// are discarded.
	ErrSuperseded = errors.New("superseded by a newer project load")
)

// ProjectNotFoundError is the fatal outcome of a project lookup that
// matched nothing. It is not retried.
type ProjectNotFoundError struct {
	ProjectID int
}

func (e *ProjectNotFoundError) Error() string {
	return fmt.Sprintf("No project found for project ID: %d", e.ProjectID)
}

// Is makes the error match ErrProjectNotFound.
func (e *ProjectNotFoundError) Is(target error) bool {
	return target == ErrProjectNotFound
}
