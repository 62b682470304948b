package testutil

import (
	"fmt"

	"github.com/roach88/hatdata/internal/property"
	"github.com/roach88/hatdata/internal/schema"
)

// FooSchema is the reference flat schema: an int id, a string display
// value and a bool read from a nested path.
func FooSchema() *schema.Schema {
	return &schema.Schema{
		Name: "Foo",
		Model: schema.Model{
			IDProperty:      "foo",
			DisplayProperty: "bar",
			Properties: []property.Definition{
				{Name: "foo", Type: property.TypeInt},
				{Name: "bar", Type: property.TypeString},
				{Name: "baz", Type: property.TypeBool, Mapping: "baz.test.val"},
			},
		},
	}
}

// FooRecord returns the original-shaped record for id.
func FooRecord(id int, bar string, baz bool) map[string]any {
	return map[string]any{
		"foo": id,
		"bar": bar,
		"baz": map[string]any{"test": map[string]any{"val": baz}},
	}
}

// FooRecords returns n records with ids 1..n and display values "item<n>".
func FooRecords(n int) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, FooRecord(i, fmt.Sprintf("item%d", i), i%2 == 0))
	}
	return out
}

// NodeSchema is a tree schema with int ids.
func NodeSchema() *schema.Schema {
	return &schema.Schema{
		Name: "Nodes",
		Model: schema.Model{
			IDProperty:          "id",
			DisplayProperty:     "title",
			IsTree:              true,
			ParentIDProperty:    "parent_id",
			DepthProperty:       "depth",
			HasChildrenProperty: "has_children",
			Properties: []property.Definition{
				{Name: "id", Type: property.TypeInt},
				{Name: "title", Type: property.TypeString},
				{Name: "parent_id", Type: property.TypeInt},
				{Name: "depth", Type: property.TypeInt},
				{Name: "has_children", Type: property.TypeBool},
			},
		},
	}
}

// NodeRecord returns a tree record. A nil parent makes a root.
func NodeRecord(id int, parent any) map[string]any {
	return map[string]any{"id": id, "title": fmt.Sprintf("node %d", id), "parent_id": parent}
}
