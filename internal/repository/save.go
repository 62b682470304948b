package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/hatdata/internal/entity"
	"github.com/roach88/hatdata/internal/property"
	"github.com/roach88/hatdata/internal/storage"
)

// Save writes every pending entity (deleted, non-persisted, dirty or staged)
// to the adapter. Each entity is written independently: a failed write rolls
// that entity back to its state before the save and is reported in the
// returned *SaveError, while the rest of the batch commits.
func (r *Repository) Save(ctx context.Context) error {
	if err := r.ensureAlive("save"); err != nil {
		return err
	}
	return r.saveEntities(ctx, r.GetPending())
}

// GetPending lists entities the next Save would write, in collection order.
func (r *Repository) GetPending() []*entity.Entity {
	var out []*entity.Entity
	for _, e := range r.entities {
		if isPending(e) {
			out = append(out, e)
		}
	}
	return out
}

// HasPendingChanges reports whether Save has anything to write.
func (r *Repository) HasPendingChanges() bool {
	for _, e := range r.entities {
		if isPending(e) {
			return true
		}
	}
	return false
}

func isPending(e *entity.Entity) bool {
	return e.IsDeleted() || !e.IsPersisted() || e.IsStaged() || e.IsDirty()
}

func (r *Repository) saveEntities(ctx context.Context, batch []*entity.Entity) error {
	if len(batch) == 0 {
		return nil
	}

	var (
		failures []SaveFailure
		removed  []*entity.Entity
		wrote    bool
	)
	for _, e := range batch {
		if e.IsDestroyed() {
			continue
		}
		clone, err := e.Clone()
		if err != nil {
			failures = append(failures, SaveFailure{EntityID: e.ID(), Op: "clone", Err: err})
			continue
		}

		op := "write"
		if e.IsDeleted() {
			op = "delete"
			err = r.deleteOne(ctx, e)
		} else {
			err = r.writeOne(ctx, e)
		}
		if err != nil {
			if rerr := e.RestoreFrom(clone); rerr != nil {
				r.logger.Error("rollback failed", "repository", r.name, "entity_id", e.ID(), "error", rerr)
			}
			failures = append(failures, SaveFailure{EntityID: e.ID(), Op: op, Err: err})
			r.logger.Warn("entity write rolled back",
				"repository", r.name,
				"entity_id", e.ID(),
				"op", op,
				"error", err,
			)
		} else {
			wrote = true
			if e.IsDeleted() {
				removed = append(removed, e)
			}
		}
		clone.Destroy()
	}

	for _, e := range removed {
		r.RemoveEntity(e)
		e.Destroy()
	}
	if len(removed) > 0 {
		_ = r.Emit(EventChangeData, r)
	}

	if wrote && r.adapter != nil {
		if err := r.adapter.Set(ctx, r.indexKey(), r.indexIDs()); err != nil {
			failures = append(failures, SaveFailure{EntityID: r.indexKey(), Op: "index", Err: err})
		}
	}
	if wrote {
		r.lastModified = time.Now()
		_ = r.Emit(EventSave, r)
	}

	if len(failures) > 0 {
		return &SaveError{Repository: r.name, Failures: failures}
	}
	return nil
}

// deleteOne removes a deleted entity's record. Entities never persisted have
// no record to remove.
func (r *Repository) deleteOne(ctx context.Context, e *entity.Entity) error {
	if r.adapter == nil || !e.IsPersisted() {
		return nil
	}
	return r.adapter.Delete(ctx, r.recordKey(e.ID()))
}

// maxIDClaims bounds how many generated ids writeOne tries for one entity.
const maxIDClaims = 1000

// writeOne stores the entity's record and commits it. A temporary id is
// first moved to a key no stored record holds. A medium that answers the
// write has its response merged into a copy of the record and loaded as the
// entity's original data; when that changes the id, the record moves to the
// new key.
func (r *Repository) writeOne(ctx context.Context, e *entity.Entity) error {
	if r.adapter == nil {
		return e.MarkSaved()
	}
	if e.IsTempID() {
		if err := r.claimFreeID(ctx, e); err != nil {
			return err
		}
	}
	oldID := e.ID()
	record := e.GetRecord()
	resp, err := storage.Exchange(ctx, r.adapter, r.recordKey(oldID), record)
	if err != nil {
		return err
	}
	if err := e.MarkSaved(); err != nil {
		return err
	}

	answer, ok := resp.(map[string]any)
	if !ok {
		return nil
	}
	merged := entity.MergeData(record, answer)
	if err := e.LoadOriginalData(merged); err != nil {
		return fmt.Errorf("load response: %w", err)
	}
	if newID := e.ID(); formatID(newID) != formatID(oldID) {
		if err := r.adapter.Set(ctx, r.recordKey(newID), e.GetRecord()); err != nil {
			return err
		}
		if err := r.adapter.Delete(ctx, r.recordKey(oldID)); err != nil {
			return err
		}
	}
	return nil
}

// claimFreeID regenerates e's temporary id until its record key is unused.
// Generators restart with every process and other writers share the medium,
// so a fresh temporary id can already name a stored record.
func (r *Repository) claimFreeID(ctx context.Context, e *entity.Entity) error {
	for i := 0; i < maxIDClaims; i++ {
		existing, err := r.adapter.Get(ctx, r.recordKey(e.ID()))
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		taken := e.ID()
		property.ReserveTempID(taken)
		if err := e.CreateTempID(); err != nil {
			return err
		}
		r.logger.Debug("temporary id taken, regenerated",
			"repository", r.name,
			"taken", taken,
			"entity_id", e.ID(),
		)
	}
	return fmt.Errorf("%s: %w", r.name, ErrNoFreeID)
}

// indexIDs lists persisted, live entity ids in collection order.
func (r *Repository) indexIDs() []any {
	ids := make([]any, 0, len(r.entities))
	for _, e := range r.entities {
		if e.IsPersisted() && !e.IsDeleted() {
			ids = append(ids, e.ID())
		}
	}
	return ids
}
