// Package property implements the named, typed fields that make up an entity.
//
// A Property keeps one mutable raw value and caches its parsed form. Display
// and submit values are derived from the parsed value by the property's Kind.
package property

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/hatdata/internal/events"
)

// Property event names.
const (
	EventChange  = "change"
	EventDestroy = "destroy"
)

// ErrDestroyed is returned by operations on a destroyed property.
var ErrDestroyed = errors.New("property: destroyed")

// Siblings gives a parse function read access to the other properties of the
// same entity.
type Siblings interface {
	ParsedValue(name string) (any, error)
}

// Owner is the entity a property belongs to.
type Owner interface {
	Siblings
	Touch(at time.Time)
}

// ParseFunc replaces a kind's parser. Dependent properties use it to derive
// their value from siblings.
type ParseFunc func(raw any, siblings Siblings) (any, error)

// Definition describes a property as configured in a schema.
type Definition struct {
	Name           string `yaml:"name" json:"name"`
	Type           Type   `yaml:"type" json:"type,omitempty"`
	Mapping        string `yaml:"mapping" json:"mapping,omitempty"`
	AllowNull      *bool  `yaml:"allowNull" json:"allowNull,omitempty"`
	DefaultValue   any    `yaml:"defaultValue" json:"defaultValue,omitempty"`
	Depends        string `yaml:"depends" json:"depends,omitempty"`
	IsVirtual      bool   `yaml:"isVirtual" json:"isVirtual,omitempty"`
	IsTempID       bool   `yaml:"isTempId" json:"isTempId,omitempty"`
	SubmitAsString bool   `yaml:"submitAsString" json:"submitAsString,omitempty"`
	Precision      *int   `yaml:"precision" json:"precision,omitempty"`

	// UI metadata, carried but not interpreted.
	Title      string `yaml:"title" json:"title,omitempty"`
	Tooltip    string `yaml:"tooltip" json:"tooltip,omitempty"`
	IsSortable bool   `yaml:"isSortable" json:"isSortable,omitempty"`

	Parse ParseFunc           `yaml:"-" json:"-"`
	NewID func() (any, error) `yaml:"-" json:"-"`
}

// Bool returns a pointer to b, for Definition.AllowNull.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n, for Definition.Precision.
func Int(n int) *int { return &n }

// Property is one named, typed field of an entity.
type Property struct {
	*events.Channel

	def          Definition
	kind         Kind
	owner        Owner
	rawValue     any
	parsedValue  any
	lastModified time.Time
	isDestroyed  bool
}

// New builds a property from its definition. An unknown type is a
// configuration error.
func New(def Definition, owner Owner) (*Property, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("property: name is required")
	}
	if def.Type == "" {
		def.Type = TypeBase
	}
	kind, ok := LookupKind(def.Type)
	if !ok {
		return nil, fmt.Errorf("property %q: %w: %q", def.Name, ErrUnknownType, def.Type)
	}
	return &Property{
		Channel: events.NewChannel([]string{EventChange, EventDestroy}),
		def:     def,
		kind:    kind,
		owner:   owner,
	}, nil
}

// Name returns the property name, unique within its entity.
func (p *Property) Name() string { return p.def.Name }

// Type returns the property's kind name.
func (p *Property) Type() Type { return p.def.Type }

// Definition returns a copy of the configuration the property was built from.
func (p *Property) Definition() Definition { return p.def }

// Mapping returns the dotted source path, defaulting to the name.
func (p *Property) Mapping() string {
	if p.def.Mapping == "" {
		return p.def.Name
	}
	return p.def.Mapping
}

// AllowNull defaults to true.
func (p *Property) AllowNull() bool {
	return p.def.AllowNull == nil || *p.def.AllowNull
}

func (p *Property) DefaultValue() any { return p.def.DefaultValue }
func (p *Property) Depends() string   { return p.def.Depends }
func (p *Property) HasDepends() bool  { return p.def.Depends != "" }
func (p *Property) IsVirtual() bool   { return p.def.IsVirtual }
func (p *Property) IsTempID() bool    { return p.def.IsTempID }
func (p *Property) IsDestroyed() bool { return p.isDestroyed }

// Precision returns the configured precision or the kind's default.
func (p *Property) Precision() int {
	if p.def.Precision != nil {
		return *p.def.Precision
	}
	if pk, ok := p.kind.(precisionKind); ok {
		return pk.defaultPrecision()
	}
	return 0
}

// LastModified is refreshed by every successful SetValue.
func (p *Property) LastModified() time.Time { return p.lastModified }

// EmptyValue is the kind's value for "nothing" on a non-nullable property.
func (p *Property) EmptyValue() any { return p.kind.Empty() }

// Parse converts raw into the property's native type without storing it.
func (p *Property) Parse(raw any) (any, error) {
	var (
		parsed any
		err    error
	)
	if p.def.Parse != nil {
		var sib Siblings
		if p.owner != nil {
			sib = p.owner
		}
		parsed, err = p.def.Parse(raw, sib)
	} else {
		parsed, err = p.kind.Parse(p, raw)
	}
	if err != nil {
		var ve *ValueError
		if errors.As(err, &ve) {
			return nil, err
		}
		return nil, &ValueError{Property: p.def.Name, Value: raw, Err: err}
	}
	return parsed, nil
}

// SetValue stores raw and reports whether it differed from the stored value.
// A change emits EventChange and touches the owner.
func (p *Property) SetValue(raw any) (bool, error) {
	if p.isDestroyed {
		return false, fmt.Errorf("set value on %q: %w", p.def.Name, ErrDestroyed)
	}
	if raw == nil && !p.AllowNull() {
		return false, &ValueError{Property: p.def.Name, Err: ErrNullNotAllowed}
	}
	parsed, err := p.Parse(raw)
	if err != nil {
		return false, err
	}

	old := p.rawValue
	p.parsedValue = parsed
	if Equal(old, raw) {
		return false, nil
	}
	p.rawValue = raw
	p.lastModified = time.Now()
	if p.owner != nil {
		p.owner.Touch(p.lastModified)
	}
	if err := p.Emit(EventChange, p, old, raw); err != nil {
		return true, err
	}
	return true, nil
}

// Recalculate re-parses the stored raw value. Dependent properties are
// refreshed this way after their siblings change.
func (p *Property) Recalculate() error {
	if p.isDestroyed {
		return fmt.Errorf("recalculate %q: %w", p.def.Name, ErrDestroyed)
	}
	parsed, err := p.Parse(p.rawValue)
	if err != nil {
		return err
	}
	p.parsedValue = parsed
	return nil
}

func (p *Property) GetRawValue() any    { return p.rawValue }
func (p *Property) GetParsedValue() any { return p.parsedValue }

// GetDisplayValue formats the parsed value for humans. Nil displays as "".
func (p *Property) GetDisplayValue() any {
	if p.parsedValue == nil {
		return ""
	}
	return p.kind.Display(p, p.parsedValue)
}

// GetSubmitValue is the value sent to storage. With SubmitAsString set it is
// the display-independent string form of the native value.
func (p *Property) GetSubmitValue() any {
	if p.parsedValue == nil {
		return nil
	}
	v := p.kind.Submit(p, p.parsedValue)
	if p.def.SubmitAsString {
		if _, ok := v.(string); !ok {
			return stringify(v)
		}
	}
	return v
}

// NewID generates an identifier using the definition hook or the kind's
// generator.
func (p *Property) NewID() (any, error) {
	if p.def.NewID != nil {
		return p.def.NewID()
	}
	return p.kind.NewID()
}

// Destroy detaches listeners and the owner reference.
func (p *Property) Destroy() {
	if p.isDestroyed {
		return
	}
	_ = p.Emit(EventDestroy, p)
	p.RemoveAllListeners()
	p.owner = nil
	p.isDestroyed = true
}
