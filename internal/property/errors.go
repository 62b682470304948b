package property

import (
	"errors"
	"fmt"
)

var (
	// ErrNullNotAllowed is wrapped by ValueError when nil is set on a
	// non-nullable property.
	ErrNullNotAllowed = errors.New("null not allowed")

	// ErrUnparsable is wrapped by ValueError when a mandatory value cannot be
	// parsed.
	ErrUnparsable = errors.New("unparsable value")

	// ErrUnknownType is returned when a definition names an unregistered kind.
	ErrUnknownType = errors.New("unknown property type")

	// ErrNoIDGenerator is returned by NewID for kinds without an id scheme.
	ErrNoIDGenerator = errors.New("property type cannot generate ids")
)

// ValueError reports a value that a property refused.
type ValueError struct {
	Property string
	Value    any
	Err      error
}

func (e *ValueError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("property %q: %v (value %v)", e.Property, e.Err, e.Value)
	}
	return fmt.Sprintf("property %q: %v", e.Property, e.Err)
}

func (e *ValueError) Unwrap() error { return e.Err }

// IsValueError reports whether err carries a ValueError.
func IsValueError(err error) bool {
	var ve *ValueError
	return errors.As(err, &ve)
}
