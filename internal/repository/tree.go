package repository

import (
	"context"
	"fmt"

	"github.com/roach88/hatdata/internal/entity"
)

func (r *Repository) assembleIfTree() {
	if r.schema.Model.IsTree {
		r.AssembleTreeNodes()
	}
}

// AssembleTreeNodes rebuilds every parent/children link from the parent-id
// property. Links are cleared first, so repeated calls never duplicate
// children. A node whose parent is present gets marked children-loaded on
// that parent. A link that would close a parent-id cycle is skipped.
func (r *Repository) AssembleTreeNodes() {
	if !r.schema.Model.IsTree {
		return
	}
	byID := make(map[string]*entity.Entity, len(r.entities))
	for _, e := range r.entities {
		if e.IsDestroyed() {
			continue
		}
		e.ResetTree()
		byID[formatID(e.ID())] = e
	}
	for _, e := range r.entities {
		if e.IsDestroyed() || e.IsRoot() {
			continue
		}
		parent, ok := byID[formatID(e.TreeParentID())]
		if !ok || parent == e {
			continue
		}
		if parent.HasAncestor(e) {
			r.logger.Warn("parent id cycle, node left unlinked",
				"repository", r.name,
				"entity_id", e.ID(),
				"parent_id", parent.ID(),
			)
			continue
		}
		e.SetTreeParent(parent)
		parent.AppendTreeChild(e)
		parent.SetChildrenLoaded(true)
	}
}

// GetRootNodes returns the nodes without a parent id, in collection order.
func (r *Repository) GetRootNodes() ([]*entity.Entity, error) {
	if !r.schema.Model.IsTree {
		return nil, fmt.Errorf("root nodes of %s: %w", r.name, ErrNotTree)
	}
	return r.collect(func(e *entity.Entity) bool { return !e.IsDestroyed() && e.IsRoot() }), nil
}

// LoadChildNodes implements entity.Owner. Children already in the
// collection are linked; a medium-backed repository first pulls any stored
// record whose parent id matches.
func (r *Repository) LoadChildNodes(ctx context.Context, parent *entity.Entity) error {
	if err := r.ensureAlive("loadChildNodes"); err != nil {
		return err
	}
	if !r.schema.Model.IsTree {
		return ErrNotTree
	}
	if r.adapter != nil && !r.isLoaded {
		rows, err := r.readAll(ctx)
		if err != nil {
			return err
		}
		pid := r.schema.Model.ParentIDProperty
		for _, row := range rows {
			child, err := r.adoptRow(row)
			if err != nil {
				return err
			}
			if child == nil {
				continue
			}
			if v, _ := child.ParsedValue(pid); !idEqual(v, parent.ID()) {
				r.RemoveEntity(child)
				child.Destroy()
			}
		}
	}
	r.AssembleTreeNodes()
	parent.SetChildrenLoaded(true)
	return nil
}

// LoadParentNode implements entity.Owner. The parent is looked up in the
// collection, then fetched from the medium when missing.
func (r *Repository) LoadParentNode(ctx context.Context, child *entity.Entity) (*entity.Entity, error) {
	if err := r.ensureAlive("loadParentNode"); err != nil {
		return nil, err
	}
	if !r.schema.Model.IsTree {
		return nil, ErrNotTree
	}
	pid := child.TreeParentID()
	if p := r.GetByID(pid); p != nil {
		r.AssembleTreeNodes()
		return p, nil
	}
	if r.adapter == nil {
		return nil, nil
	}
	v, err := r.adapter.Get(ctx, r.recordKey(pid))
	if err != nil {
		return nil, err
	}
	row, ok := v.(map[string]any)
	if !ok {
		return nil, nil
	}
	p, err := r.adoptRow(row)
	if err != nil {
		return nil, err
	}
	r.AssembleTreeNodes()
	return p, nil
}

// adoptRow adds a stored record as a persisted entity unless an entity with
// the same id is already present. It returns nil for duplicates.
func (r *Repository) adoptRow(row map[string]any) (*entity.Entity, error) {
	e, err := entity.New(r.schema, row, entity.AsPersisted())
	if err != nil {
		return nil, fmt.Errorf("adopt %s record: %w", r.name, err)
	}
	if r.GetByID(e.ID()) != nil {
		e.Destroy()
		return nil, nil
	}
	r.attach(e)
	r.entities = append(r.entities, e)
	r.sortEntities()
	return e, nil
}
