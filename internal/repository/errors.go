package repository

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDestroyed marks operations attempted on a destroyed repository.
	ErrDestroyed = errors.New("repository is destroyed")
	// ErrForeignEntity marks an entity that belongs to another repository.
	ErrForeignEntity = errors.New("entity belongs to another repository")
	// ErrNotTree marks tree operations on a repository whose schema is not a tree.
	ErrNotTree = errors.New("repository schema is not a tree")
	// ErrNoFreeID marks a phantom entity whose generated ids were all taken
	// by records already in storage.
	ErrNoFreeID = errors.New("no free id for new record")
)

// SaveFailure records one entity whose write failed and was rolled back.
type SaveFailure struct {
	EntityID any
	Op       string
	Err      error
}

// SaveError reports the entities a batch save could not persist. Every
// other entity in the batch was committed.
type SaveError struct {
	Repository string
	Failures   []SaveFailure
}

func (e *SaveError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %v: %v", f.Op, f.EntityID, f.Err))
	}
	return fmt.Sprintf("save %s: %d failed: %s", e.Repository, len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes each failure's cause to errors.Is and errors.As.
func (e *SaveError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// IsSaveError reports whether err carries a SaveError.
func IsSaveError(err error) bool {
	var se *SaveError
	return errors.As(err, &se)
}
