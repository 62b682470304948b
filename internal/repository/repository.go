// Package repository implements the ordered entity collection that a storage
// medium plugs into. One engine serves every medium: a nil adapter gives the
// in-memory variant, any storage.Adapter gives a persistent one.
//
// Persistence layout on the adapter:
//
//	<schema>/index  ordered list of entity ids
//	<schema>/<id>   the entity's reverse-mapped raw record
//
// A Repository is not safe for concurrent use. The sync engine serializes
// its own access on a single goroutine.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/hatdata/internal/entity"
	"github.com/roach88/hatdata/internal/events"
	"github.com/roach88/hatdata/internal/property"
	"github.com/roach88/hatdata/internal/schema"
	"github.com/roach88/hatdata/internal/storage"
)

// Repository event names.
const (
	EventAdd            = "add"
	EventBeforeLoad     = "beforeLoad"
	EventLoad           = "load"
	EventChangeData     = "changeData"
	EventChangeFilters  = "changeFilters"
	EventChangePage     = "changePage"
	EventChangePageSize = "changePageSize"
	EventChangeSorters  = "changeSorters"
	EventReload         = "reload"
	EventDelete         = "delete"
	EventSave           = "save"
	EventDestroy        = "destroy"
)

// Events lists every repository event name.
var Events = []string{
	EventAdd, EventBeforeLoad, EventLoad, EventChangeData, EventChangeFilters,
	EventChangePage, EventChangePageSize, EventChangeSorters, EventReload,
	EventDelete, EventSave, EventDestroy,
}

// DefaultPageSize applies to paginated repositories without a configured size.
const DefaultPageSize = 10

// Repository is an ordered collection of entities of one schema.
type Repository struct {
	*events.Channel

	id      string
	name    string
	schema  *schema.Schema
	adapter storage.Adapter
	logger  *slog.Logger

	entities []*entity.Entity
	unsubs   map[*entity.Entity]func()

	filters  []Filter
	filterFn func(*entity.Entity) bool
	sorters  []Sorter

	page        int
	pageSize    int
	isPaginated bool
	isAutoSave  bool

	isLoaded    bool
	isLoading   bool
	isDestroyed bool

	lastModified time.Time
	lastError    error
}

// Option configures a Repository.
type Option func(*Repository)

// WithAdapter backs the repository with a storage medium.
func WithAdapter(a storage.Adapter) Option {
	return func(r *Repository) {
		r.adapter = a
	}
}

// WithID sets the repository id instead of generating one.
func WithID(id string) Option {
	return func(r *Repository) {
		r.id = id
	}
}

// WithName overrides the repository name (default: schema name).
func WithName(name string) Option {
	return func(r *Repository) {
		r.name = name
	}
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = l
	}
}

// WithAutoSave overrides the schema's auto-save setting.
func WithAutoSave(on bool) Option {
	return func(r *Repository) {
		r.isAutoSave = on
	}
}

// WithPageSize enables pagination with the given page size.
func WithPageSize(n int) Option {
	return func(r *Repository) {
		r.isPaginated = true
		r.pageSize = n
	}
}

// New creates a repository for s. The schema's repository section supplies
// auto-save and pagination defaults; its sorters become the initial sorters.
func New(s *schema.Schema, opts ...Option) (*Repository, error) {
	if s == nil {
		return nil, &schema.ConfigError{Field: "schema", Message: "schema is required"}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	r := &Repository{
		Channel:     events.NewChannel(Events),
		id:          uuid.NewString(),
		name:        s.Name,
		schema:      s,
		logger:      slog.Default(),
		unsubs:      make(map[*entity.Entity]func()),
		page:        1,
		pageSize:    s.Repository.PageSize,
		isPaginated: s.Repository.IsPaginated,
		isAutoSave:  s.Repository.IsAutoSave,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.isPaginated && r.pageSize <= 0 {
		r.pageSize = DefaultPageSize
	}
	for _, sc := range s.Model.Sorters {
		r.sorters = append(r.sorters, SorterFromConfig(sc))
	}
	return r, nil
}

func (r *Repository) ID() string                   { return r.id }
func (r *Repository) Name() string                 { return r.name }
func (r *Repository) Schema() *schema.Schema       { return r.schema }
func (r *Repository) Adapter() storage.Adapter     { return r.adapter }
func (r *Repository) IsAutoSave() bool             { return r.isAutoSave }
func (r *Repository) IsPaginated() bool            { return r.isPaginated }
func (r *Repository) IsLoaded() bool               { return r.isLoaded }
func (r *Repository) IsLoading() bool              { return r.isLoading }
func (r *Repository) IsDestroyed() bool            { return r.isDestroyed }
func (r *Repository) LastModified() time.Time      { return r.lastModified }
func (r *Repository) SetAutoSave(on bool)          { r.isAutoSave = on }
func (r *Repository) SetAdapter(a storage.Adapter) { r.adapter = a }

// LastError is the most recent auto-save failure, if any.
func (r *Repository) LastError() error { return r.lastError }

// Touch implements entity.Owner.
func (r *Repository) Touch(at time.Time) { r.lastModified = at }

func (r *Repository) ensureAlive(op string) error {
	if r.isDestroyed {
		return fmt.Errorf("%s %s: %w", op, r.name, ErrDestroyed)
	}
	return nil
}

// formatID renders an id as a storage key segment. Whole floats, which JSON
// mediums hand back for integers, render without exponent.
func formatID(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return fmt.Sprint(id)
}

func (r *Repository) indexKey() string        { return r.schema.Name + "/index" }
func (r *Repository) recordKey(id any) string { return r.schema.Name + "/" + formatID(id) }

func (r *Repository) newEntity(data map[string]any, opts ...entity.Option) (*entity.Entity, error) {
	opts = append(opts, entity.WithOwner(r))
	e, err := entity.New(r.schema, data, opts...)
	if err != nil {
		return nil, err
	}
	r.attach(e)
	return e, nil
}

// attach subscribes to the entity's change events for auto-save.
func (r *Repository) attach(e *entity.Entity) {
	e.SetOwner(r)
	unsub, err := e.On(entity.EventChange, func(events.Event) events.Result {
		r.onEntityChange(e)
		return events.Continue
	})
	if err == nil {
		r.unsubs[e] = unsub
	}
}

func (r *Repository) detach(e *entity.Entity) {
	if unsub, ok := r.unsubs[e]; ok {
		unsub()
		delete(r.unsubs, e)
	}
	if e.Owner() == entity.Owner(r) {
		e.SetOwner(nil)
	}
}

// onEntityChange persists an edited entity when auto-saving. A failed write
// reverts the entity to its last persisted values.
func (r *Repository) onEntityChange(e *entity.Entity) {
	if !r.isAutoSave || r.isLoading || !e.IsPersisted() {
		return
	}
	if err := r.saveEntities(context.Background(), []*entity.Entity{e}); err != nil {
		r.lastError = err
		r.logger.Warn("auto-save failed, reverting entity",
			"repository", r.name,
			"entity_id", e.ID(),
			"error", err,
		)
		if rerr := e.Reset(); rerr != nil {
			r.logger.Error("revert failed", "repository", r.name, "entity_id", e.ID(), "error", rerr)
		}
	}
}

// Add constructs an entity from raw data, appends it and auto-saves when
// enabled. Phantom entities receive a temporary id. When auto-save fails the
// add is undone: the entity is removed, destroyed and the error returned.
func (r *Repository) Add(ctx context.Context, data map[string]any) (*entity.Entity, error) {
	if err := r.ensureAlive("add"); err != nil {
		return nil, err
	}
	e, err := r.newEntity(data)
	if err != nil {
		return nil, fmt.Errorf("add to %s: %w", r.name, err)
	}
	if err := r.insert(ctx, e); err != nil {
		e.Destroy()
		return nil, err
	}
	return e, nil
}

// AddMultiple adds each record in order, stopping at the first failure.
func (r *Repository) AddMultiple(ctx context.Context, rows []map[string]any) ([]*entity.Entity, error) {
	out := make([]*entity.Entity, 0, len(rows))
	for _, row := range rows {
		e, err := r.Add(ctx, row)
		if e != nil {
			out = append(out, e)
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// AddEntity takes ownership of an existing entity, removing it from its
// previous repository. When auto-save fails the entity goes back to the
// previous repository.
func (r *Repository) AddEntity(ctx context.Context, e *entity.Entity) error {
	if err := r.ensureAlive("addEntity"); err != nil {
		return err
	}
	if e.Schema().Name != r.schema.Name {
		return fmt.Errorf("add entity to %s: schema %s does not match", r.name, e.Schema().Name)
	}
	prev, _ := e.Owner().(*Repository)
	if prev == r {
		return nil
	}
	if prev != nil {
		prev.RemoveEntity(e)
	}
	r.attach(e)
	if err := r.insert(ctx, e); err != nil {
		if prev != nil && !prev.isDestroyed {
			prev.attach(e)
			prev.entities = append(prev.entities, e)
			prev.sortEntities()
			prev.assembleIfTree()
		}
		return err
	}
	return nil
}

func (r *Repository) insert(ctx context.Context, e *entity.Entity) error {
	if e.IsPhantom() && !e.IsTempID() {
		if err := e.CreateTempID(); err != nil {
			r.logger.Debug("no temporary id", "repository", r.name, "error", err)
		}
	}
	r.entities = append(r.entities, e)
	r.sortEntities()
	r.assembleIfTree()

	if r.isAutoSave {
		if err := r.saveEntities(ctx, []*entity.Entity{e}); err != nil {
			r.RemoveEntity(e)
			return err
		}
	}
	_ = r.Emit(EventAdd, r, e)
	_ = r.Emit(EventChangeData, r)
	return nil
}

// Delete marks the entity deleted. Non-persisted entities are removed at
// once; persisted ones are removed on the next save, immediately when
// auto-saving. A failed auto-save restores the entity to its state before
// the delete.
func (r *Repository) Delete(ctx context.Context, e *entity.Entity) error {
	if err := r.ensureAlive("delete"); err != nil {
		return err
	}
	if e.Owner() != entity.Owner(r) {
		return fmt.Errorf("delete from %s: %w", r.name, ErrForeignEntity)
	}
	clone, err := e.Clone()
	if err != nil {
		return err
	}
	if err := e.MarkDeleted(); err != nil {
		return err
	}

	if !e.IsPersisted() {
		r.RemoveEntity(e)
		_ = r.Emit(EventDelete, r, e)
		_ = r.Emit(EventChangeData, r)
		e.Destroy()
		return nil
	}

	_ = r.Emit(EventDelete, r, e)
	if !r.isAutoSave {
		return nil
	}
	if err := r.saveEntities(ctx, []*entity.Entity{e}); err != nil {
		if rerr := e.RestoreFrom(clone); rerr != nil {
			r.logger.Error("restore after failed delete", "repository", r.name, "error", rerr)
		}
		return err
	}
	return nil
}

// DeleteEntity implements entity.Owner.
func (r *Repository) DeleteEntity(ctx context.Context, e *entity.Entity) error {
	return r.Delete(ctx, e)
}

// SaveEntity implements entity.Owner.
func (r *Repository) SaveEntity(ctx context.Context, e *entity.Entity) error {
	if err := r.ensureAlive("save"); err != nil {
		return err
	}
	return r.saveEntities(ctx, []*entity.Entity{e})
}

// RemoveEntity drops the entity from the collection without touching
// storage. Ownership is released.
func (r *Repository) RemoveEntity(e *entity.Entity) {
	i := slices.Index(r.entities, e)
	if i < 0 {
		return
	}
	r.entities = slices.Delete(r.entities, i, i+1)
	r.detach(e)
	if r.schema.Model.IsTree && !e.IsDestroyed() {
		e.ResetTree()
		r.assembleIfTree()
	}
}

// ClearAll destroys every entity in the collection without touching storage.
func (r *Repository) ClearAll() {
	for _, e := range r.entities {
		r.detach(e)
		e.Destroy()
	}
	r.entities = nil
	r.page = 1
}

// Destroy clears the collection and detaches all listeners. The adapter is
// closed when it holds resources.
func (r *Repository) Destroy() error {
	if r.isDestroyed {
		return nil
	}
	_ = r.Emit(EventDestroy, r)
	r.ClearAll()
	r.RemoveAllListeners()
	r.isDestroyed = true
	if r.adapter != nil {
		return storage.Close(r.adapter)
	}
	return nil
}

// LoadData replaces the collection with persisted entities built from rows.
// Nothing is written to the adapter.
func (r *Repository) LoadData(rows []map[string]any) error {
	if err := r.ensureAlive("loadData"); err != nil {
		return err
	}
	r.isLoading = true
	defer func() { r.isLoading = false }()

	built := make([]*entity.Entity, 0, len(rows))
	for _, row := range rows {
		e, err := entity.New(r.schema, row, entity.AsPersisted())
		if err != nil {
			for _, b := range built {
				b.Destroy()
			}
			return fmt.Errorf("load data into %s: %w", r.name, err)
		}
		property.ReserveTempID(e.ID())
		built = append(built, e)
	}

	r.ClearAll()
	for _, e := range built {
		r.attach(e)
	}
	r.entities = built
	r.sortEntities()
	r.assembleIfTree()
	r.isLoaded = true
	_ = r.Emit(EventLoad, r)
	_ = r.Emit(EventChangeData, r)
	return nil
}

// Load reads every record from the adapter, replacing the collection. The
// in-memory variant has nothing to read and keeps its entities.
func (r *Repository) Load(ctx context.Context) error {
	if err := r.ensureAlive("load"); err != nil {
		return err
	}
	_ = r.Emit(EventBeforeLoad, r)
	if r.adapter == nil {
		r.isLoaded = true
		_ = r.Emit(EventLoad, r)
		return nil
	}
	rows, err := r.readAll(ctx)
	if err != nil {
		return fmt.Errorf("load %s: %w", r.name, err)
	}
	r.logger.Debug("loaded records", "repository", r.name, "count", len(rows))
	return r.LoadData(rows)
}

// Reload is Load followed by a reload event.
func (r *Repository) Reload(ctx context.Context) error {
	if err := r.Load(ctx); err != nil {
		return err
	}
	_ = r.Emit(EventReload, r)
	return nil
}

// ReloadEntity implements entity.Owner: the entity is refreshed from its
// stored record, or reset to its original data without an adapter.
func (r *Repository) ReloadEntity(ctx context.Context, e *entity.Entity) error {
	if err := r.ensureAlive("reload"); err != nil {
		return err
	}
	if r.adapter == nil || e.IsPhantom() {
		if err := e.Reset(); err != nil {
			return err
		}
		_ = e.Emit(entity.EventReload, e)
		return nil
	}
	v, err := r.adapter.Get(ctx, r.recordKey(e.ID()))
	if err != nil {
		return fmt.Errorf("reload %s %v: %w", r.name, e.ID(), err)
	}
	row, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("reload %s %v: record not found", r.name, e.ID())
	}
	return e.LoadOriginalData(row)
}

// readAll returns stored records in index order. Without an index, an
// enumerable medium is scanned for the schema's keys instead.
func (r *Repository) readAll(ctx context.Context) ([]map[string]any, error) {
	idx, err := r.adapter.Get(ctx, r.indexKey())
	if err != nil {
		return nil, err
	}
	var keys []string
	if ids, ok := idx.([]any); ok {
		for _, id := range ids {
			keys = append(keys, r.recordKey(id))
		}
	} else {
		all, err := storage.GetAllKeys(ctx, r.adapter)
		if err != nil && !errors.Is(err, storage.ErrUnsupported) {
			return nil, err
		}
		prefix := r.schema.Name + "/"
		for _, k := range all {
			if len(k) > len(prefix) && k[:len(prefix)] == prefix && k != r.indexKey() {
				keys = append(keys, k)
			}
		}
	}

	values, err := storage.GetMultiple(ctx, r.adapter, keys)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		if row, ok := values[k].(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// ReplaceData makes rows the repository's complete persisted content: the
// adapter's previous records are removed, the new ones written with a fresh
// index, and the collection rebuilt as persisted entities.
func (r *Repository) ReplaceData(ctx context.Context, rows []map[string]any) error {
	if err := r.ensureAlive("replaceData"); err != nil {
		return err
	}
	if r.adapter != nil {
		oldKeys := make([]string, 0, len(r.entities))
		for _, e := range r.entities {
			if e.IsPersisted() {
				oldKeys = append(oldKeys, r.recordKey(e.ID()))
			}
		}

		probe := make([]*entity.Entity, 0, len(rows))
		defer func() {
			for _, e := range probe {
				e.Destroy()
			}
		}()
		values := make(map[string]any, len(rows)+1)
		index := make([]any, 0, len(rows))
		for _, row := range rows {
			e, err := entity.New(r.schema, row)
			if err != nil {
				return fmt.Errorf("replace %s: %w", r.name, err)
			}
			probe = append(probe, e)
			id := e.ID()
			values[r.recordKey(id)] = e.GetRecord()
			index = append(index, id)
		}
		values[r.indexKey()] = index

		var stale []string
		for _, k := range oldKeys {
			if _, ok := values[k]; !ok {
				stale = append(stale, k)
			}
		}
		if len(stale) > 0 {
			if err := storage.DeleteMultiple(ctx, r.adapter, stale); err != nil {
				return fmt.Errorf("replace %s: %w", r.name, err)
			}
		}
		if err := storage.SetMultiple(ctx, r.adapter, values); err != nil {
			return fmt.Errorf("replace %s: %w", r.name, err)
		}
	}
	return r.LoadData(rows)
}

// IsTreeSchema reports whether the schema declares a tree.
func (r *Repository) IsTreeSchema() bool { return r.schema.Model.IsTree }

func idEqual(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	return property.Equal(a, b) || formatID(a) == formatID(b)
}
