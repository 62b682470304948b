package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrDestroyed marks operations attempted after Destroy.
	ErrDestroyed = errors.New("entity is destroyed")
	// ErrFrozen marks value changes attempted on a frozen entity.
	ErrFrozen = errors.New("entity is frozen")
	// ErrAutoSave marks an undelete attempted while the owning repository auto-saves.
	ErrAutoSave = errors.New("repository is in auto-save mode")
	// ErrNotTree marks tree operations on a non-tree entity.
	ErrNotTree = errors.New("entity is not a tree node")
	// ErrNoOwner marks repository-backed operations on an entity outside any repository.
	ErrNoOwner = errors.New("entity has no repository")
	// ErrUnknownProperty marks access to a property the schema does not define.
	ErrUnknownProperty = errors.New("unknown property")
)

// StateError reports an operation the entity's current state forbids.
type StateError struct {
	Op     string
	Schema string
	ID     any
	Err    error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s entity %v: %v", e.Op, e.Schema, e.ID, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// IsStateError reports whether err carries a StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}
