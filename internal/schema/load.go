package schema

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// RepositoryConfig selects the storage medium of a schema's repository.
// In YAML it is either a bare type name or a mapping with a type plus
// medium-specific options.
type RepositoryConfig struct {
	Type        string         `yaml:"type" json:"type,omitempty"`
	IsAutoSave  bool           `yaml:"isAutoSave" json:"isAutoSave,omitempty"`
	IsPaginated bool           `yaml:"isPaginated" json:"isPaginated,omitempty"`
	PageSize    int            `yaml:"pageSize" json:"pageSize,omitempty"`
	Options     map[string]any `yaml:"options" json:"options,omitempty"`
}

// UnmarshalYAML accepts "repository: sqlite" as well as the mapping form.
func (c *RepositoryConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Type = node.Value
		return nil
	}
	type plain RepositoryConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = RepositoryConfig(p)
	return nil
}

// Option returns the string option key, or def when unset.
func (c RepositoryConfig) Option(key, def string) string {
	v, ok := c.Options[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprint(v)
	}
	return s
}

// Load decodes one YAML schema, compiles its CUE validator if any, and
// validates it.
func Load(r io.Reader) (*Schema, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Schema
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if s.Model.ValidatorCUE != "" {
		v, err := NewCUEValidator(s.Model.ValidatorCUE)
		if err != nil {
			return nil, &ConfigError{Schema: s.Name, Field: "model.validator", Message: err.Error()}
		}
		s.Model.Validator = v
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile reads a schema from a YAML file.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	s, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
