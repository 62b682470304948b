package engine

import (
	"errors"
	"fmt"
)

// SyncError represents an error detected while synchronizing.
//
// Sync errors are usage or state errors: a queued item naming an unknown
// command, a command without handlers, a destroyed engine. Transient
// storage and network failures are not SyncErrors; they move the next
// attempt onto the retry schedule instead.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Message is a human-readable description.
	Message string

	// Command names the queued command, when one is involved.
	Command string

	// EntityID identifies the affected local item.
	EntityID any
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeUnknownCommand indicates a queued item names no registered command.
	ErrCodeUnknownCommand SyncErrorCode = "UNKNOWN_COMMAND"

	// ErrCodeNoHandlers indicates the command has no response handlers.
	ErrCodeNoHandlers SyncErrorCode = "NO_HANDLERS"

	// ErrCodeDestroyed indicates the engine has been destroyed.
	ErrCodeDestroyed SyncErrorCode = "DESTROYED"

	// ErrCodeInvalidConfig indicates an unusable engine configuration.
	ErrCodeInvalidConfig SyncErrorCode = "INVALID_CONFIG"
)

// ErrOffline is recorded as the last error when a sync is attempted while
// the engine is offline.
var ErrOffline = errors.New("engine is offline")

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Command != "" && e.EntityID != nil {
		return fmt.Sprintf("%s: %s (command=%s, entity=%v)", e.Code, e.Message, e.Command, e.EntityID)
	}
	if e.Command != "" {
		return fmt.Sprintf("%s: %s (command=%s)", e.Code, e.Message, e.Command)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsSyncError returns true if err carries a SyncError.
// Uses errors.As to handle wrapped errors.
func IsSyncError(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}

// IsHandlerError returns true if the error reports a queued item whose
// command is unknown or has no handlers.
func IsHandlerError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeUnknownCommand || se.Code == ErrCodeNoHandlers
	}
	return false
}

// NewUnknownCommandError creates a SyncError for an unregistered command.
func NewUnknownCommandError(command string, entityID any) *SyncError {
	return &SyncError{
		Code:     ErrCodeUnknownCommand,
		Message:  "queued item names an unregistered command",
		Command:  command,
		EntityID: entityID,
	}
}

// NewNoHandlersError creates a SyncError for a command without handlers.
func NewNoHandlersError(command string, entityID any) *SyncError {
	return &SyncError{
		Code:     ErrCodeNoHandlers,
		Message:  "command has no response handlers",
		Command:  command,
		EntityID: entityID,
	}
}

func newConfigError(format string, args ...any) *SyncError {
	return &SyncError{Code: ErrCodeInvalidConfig, Message: fmt.Sprintf(format, args...)}
}
