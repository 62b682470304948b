// Package schema holds the configuration that entities and repositories are
// built from: property definitions, id/display property names, tree settings,
// sorters, associations, custom methods and the pluggable validator.
//
// Schemas are usually loaded from YAML with Load or LoadFile, but can also be
// constructed in Go. Validate reports configuration mistakes as ConfigError.
package schema

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/hatdata/internal/property"
)

// Sort directions.
const (
	DirectionAsc  = "ASC"
	DirectionDesc = "DESC"
)

// Validator checks an entity's submit values. It is implemented by
// CUEValidator and by any caller-provided validation library adapter.
type Validator interface {
	Validate(ctx context.Context, values map[string]any) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, values map[string]any) error

func (f ValidatorFunc) Validate(ctx context.Context, values map[string]any) error {
	return f(ctx, values)
}

// Receiver is the view of an entity passed to custom methods.
type Receiver interface {
	ID() any
	Get(name string) (any, error)
	Set(name string, value any) error
}

// Method is a custom per-entity method.
type Method func(self Receiver, args ...any) (any, error)

// Static is a custom schema-level function.
type Static func(args ...any) (any, error)

// SorterConfig is a default sorter declared on the model.
type SorterConfig struct {
	Name      string `yaml:"name" json:"name"`
	Direction string `yaml:"direction" json:"direction,omitempty"`
	Natural   bool   `yaml:"natural" json:"natural,omitempty"`
}

// Associations name the schemas this one relates to.
type Associations struct {
	HasOne        []string `yaml:"hasOne" json:"hasOne,omitempty"`
	HasMany       []string `yaml:"hasMany" json:"hasMany,omitempty"`
	BelongsTo     []string `yaml:"belongsTo" json:"belongsTo,omitempty"`
	BelongsToMany []string `yaml:"belongsToMany" json:"belongsToMany,omitempty"`
}

// Has reports whether name appears in any association list.
func (a Associations) Has(name string) bool {
	return slices.Contains(a.HasOne, name) ||
		slices.Contains(a.HasMany, name) ||
		slices.Contains(a.BelongsTo, name) ||
		slices.Contains(a.BelongsToMany, name)
}

// Model describes the shape of an entity.
type Model struct {
	IDProperty          string                `yaml:"idProperty" json:"idProperty"`
	DisplayProperty     string                `yaml:"displayProperty" json:"displayProperty"`
	IsTree              bool                  `yaml:"isTree" json:"isTree,omitempty"`
	ParentIDProperty    string                `yaml:"parentIdProperty" json:"parentIdProperty,omitempty"`
	DepthProperty       string                `yaml:"depthProperty" json:"depthProperty,omitempty"`
	HasChildrenProperty string                `yaml:"hasChildrenProperty" json:"hasChildrenProperty,omitempty"`
	Properties          []property.Definition `yaml:"properties" json:"properties"`
	Sorters             []SorterConfig        `yaml:"sorters" json:"sorters,omitempty"`
	Associations        Associations          `yaml:"associations" json:"associations"`

	// CUE source compiled into Validator by Load.
	ValidatorCUE string    `yaml:"validator" json:"validator,omitempty"`
	Validator    Validator `yaml:"-" json:"-"`
}

// EntityConfig carries custom behaviour attached to entities of the schema.
type EntityConfig struct {
	Methods map[string]Method
	Statics map[string]Static
}

// Schema is the full configuration for one entity type.
type Schema struct {
	Name       string           `yaml:"name" json:"name"`
	Model      Model            `yaml:"model" json:"model"`
	Repository RepositoryConfig `yaml:"repository" json:"repository"`
	Entity     EntityConfig     `yaml:"-" json:"-"`
}

// Property returns the definition named name.
func (s *Schema) Property(name string) (property.Definition, bool) {
	for _, def := range s.Model.Properties {
		if def.Name == name {
			return def, true
		}
	}
	return property.Definition{}, false
}

// PropertyNames lists property names in declaration order.
func (s *Schema) PropertyNames() []string {
	names := make([]string, len(s.Model.Properties))
	for i, def := range s.Model.Properties {
		names[i] = def.Name
	}
	return names
}

// CallStatic invokes a static registered on the schema.
func (s *Schema) CallStatic(name string, args ...any) (any, error) {
	fn, ok := s.Entity.Statics[name]
	if !ok {
		return nil, fmt.Errorf("schema %q: no static %q", s.Name, name)
	}
	return fn(args...)
}

// Validate checks the schema for usage errors.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return &ConfigError{Field: "name", Message: "schema name is required"}
	}
	m := s.Model
	if m.IDProperty == "" {
		return &ConfigError{Schema: s.Name, Field: "model.idProperty", Message: "id property name is required"}
	}
	if m.DisplayProperty == "" {
		return &ConfigError{Schema: s.Name, Field: "model.displayProperty", Message: "display property name is required"}
	}
	if len(m.Properties) == 0 {
		return &ConfigError{Schema: s.Name, Field: "model.properties", Message: "at least one property is required"}
	}

	seen := make(map[string]bool, len(m.Properties))
	for i, def := range m.Properties {
		if def.Name == "" {
			return &ConfigError{Schema: s.Name, Field: fmt.Sprintf("model.properties[%d].name", i), Message: "property name is required"}
		}
		if seen[def.Name] {
			return &ConfigError{Schema: s.Name, Field: "model.properties", Message: fmt.Sprintf("duplicate property %q", def.Name)}
		}
		seen[def.Name] = true
		if def.Type != "" {
			if _, ok := property.LookupKind(def.Type); !ok {
				return &ConfigError{Schema: s.Name, Field: "model.properties." + def.Name + ".type", Message: fmt.Sprintf("unknown property type %q", def.Type)}
			}
		}
	}
	for _, def := range m.Properties {
		if def.Depends != "" && !seen[def.Depends] {
			return &ConfigError{Schema: s.Name, Field: "model.properties." + def.Name + ".depends", Message: fmt.Sprintf("unknown property %q", def.Depends)}
		}
	}

	required := map[string]string{
		"model.idProperty":      m.IDProperty,
		"model.displayProperty": m.DisplayProperty,
	}
	if m.IsTree {
		for field, name := range map[string]string{
			"model.parentIdProperty":    m.ParentIDProperty,
			"model.depthProperty":       m.DepthProperty,
			"model.hasChildrenProperty": m.HasChildrenProperty,
		} {
			if name == "" {
				return &ConfigError{Schema: s.Name, Field: field, Message: "required when isTree is set"}
			}
			required[field] = name
		}
	}
	for field, name := range required {
		if !seen[name] {
			return &ConfigError{Schema: s.Name, Field: field, Message: fmt.Sprintf("property %q is not defined", name)}
		}
	}

	for _, srt := range m.Sorters {
		if !seen[srt.Name] {
			return &ConfigError{Schema: s.Name, Field: "model.sorters", Message: fmt.Sprintf("unknown property %q", srt.Name)}
		}
		if srt.Direction != "" && srt.Direction != DirectionAsc && srt.Direction != DirectionDesc {
			return &ConfigError{Schema: s.Name, Field: "model.sorters", Message: fmt.Sprintf("invalid direction %q", srt.Direction)}
		}
	}
	return nil
}
