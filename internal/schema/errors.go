package schema

import (
	"errors"
	"fmt"
)

// ConfigError reports invalid schema configuration. It is always a usage
// error and never recoverable at runtime.
type ConfigError struct {
	Schema  string
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Schema != "" {
		return fmt.Sprintf("schema %q: %s: %s", e.Schema, e.Field, e.Message)
	}
	return fmt.Sprintf("schema: %s: %s", e.Field, e.Message)
}

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ValidationError wraps a validator's rejection of an entity's values.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }
