package entity

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// treeRole holds the cached parent/children links of a tree node. The links
// are references only; the repository owns the entities.
type treeRole struct {
	parent         *Entity
	children       []*Entity
	childrenLoaded bool
}

func (t *treeRole) removeChild(c *Entity) {
	t.children = slices.DeleteFunc(t.children, func(x *Entity) bool { return x == c })
}

// IsTree reports whether the entity carries the tree-node role.
func (e *Entity) IsTree() bool { return e.tree != nil }

func (e *Entity) ensureTree(op string) error {
	if err := e.ensureAlive(op); err != nil {
		return err
	}
	if e.tree == nil {
		return e.stateError(op, ErrNotTree)
	}
	return nil
}

func (e *Entity) mustTree(op string) *treeRole {
	if err := e.ensureTree(op); err != nil {
		panic(err)
	}
	return e.tree
}

func (e *Entity) treeValue(name string) any {
	p, ok := e.byName[name]
	if !ok {
		return nil
	}
	return p.GetParsedValue()
}

// TreeParentID returns the parsed parent-id property.
func (e *Entity) TreeParentID() any {
	e.mustTree("getParentId")
	return e.treeValue(e.schema.Model.ParentIDProperty)
}

// IsRoot reports a node without a parent id.
func (e *Entity) IsRoot() bool {
	return isAbsent(e.TreeParentID())
}

// Depth returns the depth property, or the number of cached ancestors when
// the property is unset.
func (e *Entity) Depth() int {
	e.mustTree("getDepth")
	if d, ok := toInt(e.treeValue(e.schema.Model.DepthProperty)); ok {
		return d
	}
	return len(e.ancestors())
}

// ancestors lists the cached parents from the nearest upward. The walk stops
// at a node already seen, so a parent-id cycle in the data cannot trap it.
func (e *Entity) ancestors() []*Entity {
	var out []*Entity
	seen := map[*Entity]bool{e: true}
	for p := e.tree.parent; p != nil && !seen[p]; p = p.tree.parent {
		seen[p] = true
		out = append(out, p)
		if p.tree == nil {
			break
		}
	}
	return out
}

// HasAncestor reports whether a is a cached ancestor of the node.
func (e *Entity) HasAncestor(a *Entity) bool {
	e.mustTree("hasAncestor")
	return slices.Contains(e.ancestors(), a)
}

// HasChildren reports the has-children property, or whether any children
// are cached when the property is unset.
func (e *Entity) HasChildren() bool {
	t := e.mustTree("hasChildren")
	if b, ok := e.treeValue(e.schema.Model.HasChildrenProperty).(bool); ok {
		return b || len(t.children) > 0
	}
	return len(t.children) > 0
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// IsChildrenLoaded reports whether the children cache is authoritative.
func (e *Entity) IsChildrenLoaded() bool {
	return e.mustTree("isChildrenLoaded").childrenLoaded
}

// SetChildrenLoaded marks the children cache as loaded or stale.
func (e *Entity) SetChildrenLoaded(loaded bool) {
	e.mustTree("setChildrenLoaded").childrenLoaded = loaded
}

// TreeParent returns the cached parent without loading.
func (e *Entity) TreeParent() *Entity {
	return e.mustTree("getTreeParent").parent
}

// TreeChildren returns the cached children without loading.
func (e *Entity) TreeChildren() []*Entity {
	return slices.Clone(e.mustTree("getTreeChildren").children)
}

// SetTreeParent links the node to parent. Passing nil detaches it.
func (e *Entity) SetTreeParent(parent *Entity) {
	e.mustTree("setTreeParent").parent = parent
}

// AppendTreeChild appends child to the cached children, skipping duplicates.
func (e *Entity) AppendTreeChild(child *Entity) {
	t := e.mustTree("appendTreeChild")
	if slices.Contains(t.children, child) {
		return
	}
	t.children = append(t.children, child)
}

// ResetTree clears both tree links.
func (e *Entity) ResetTree() {
	t := e.mustTree("resetTree")
	t.parent = nil
	t.children = nil
}

// Parent returns the parent node, asking the repository to load it when it
// is not cached.
func (e *Entity) Parent(ctx context.Context) (*Entity, error) {
	if err := e.ensureTree("getParent"); err != nil {
		return nil, err
	}
	if e.tree.parent != nil || e.IsRoot() || e.owner == nil {
		return e.tree.parent, nil
	}
	parent, err := e.owner.LoadParentNode(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("load parent of %s %v: %w", e.schema.Name, e.ID(), err)
	}
	if parent != nil && parent != e && e.tree.parent == nil && !parent.HasAncestor(e) {
		e.tree.parent = parent
	}
	return e.tree.parent, nil
}

// Children returns the child nodes, asking the repository to load them when
// they are not cached yet.
func (e *Entity) Children(ctx context.Context) ([]*Entity, error) {
	if err := e.ensureTree("getChildren"); err != nil {
		return nil, err
	}
	if !e.tree.childrenLoaded && e.owner != nil {
		if err := e.owner.LoadChildNodes(ctx, e); err != nil {
			return nil, fmt.Errorf("load children of %s %v: %w", e.schema.Name, e.ID(), err)
		}
		e.tree.childrenLoaded = true
	}
	return slices.Clone(e.tree.children), nil
}

// ChildIndex returns the position of child among the cached children, or -1.
func (e *Entity) ChildIndex(child *Entity) int {
	return slices.Index(e.mustTree("getChildIndex").children, child)
}

// ChildAt returns the cached child at i, or nil when out of range.
func (e *Entity) ChildAt(i int) *Entity {
	t := e.mustTree("getChildAt")
	if i < 0 || i >= len(t.children) {
		return nil
	}
	return t.children[i]
}

func (e *Entity) FirstChild() *Entity { return e.ChildAt(0) }

func (e *Entity) LastChild() *Entity {
	return e.ChildAt(len(e.mustTree("getLastChild").children) - 1)
}

func (e *Entity) sibling(op string, offset int) *Entity {
	t := e.mustTree(op)
	if t.parent == nil {
		return nil
	}
	i := t.parent.ChildIndex(e)
	if i < 0 {
		return nil
	}
	return t.parent.ChildAt(i + offset)
}

// PrevSibling returns the cached previous sibling, or nil.
func (e *Entity) PrevSibling() *Entity { return e.sibling("getPrevSibling", -1) }

// NextSibling returns the cached next sibling, or nil.
func (e *Entity) NextSibling() *Entity { return e.sibling("getNextSibling", 1) }

// Path joins the ids from the root down to this node with "/".
func (e *Entity) Path() string {
	e.mustTree("getPath")
	ids := []string{fmt.Sprint(e.ID())}
	for _, p := range e.ancestors() {
		ids = append(ids, fmt.Sprint(p.ID()))
	}
	slices.Reverse(ids)
	return strings.Join(ids, "/")
}
