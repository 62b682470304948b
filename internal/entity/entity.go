// Package entity implements the record model: an ordered set of properties
// with a persisted baseline, dirty/phantom/persisted/deleted lifecycle,
// nested-path mapping and an optional tree-node role.
//
// Entities are not safe for concurrent use. Value-returning accessors panic
// with a *StateError once the entity is destroyed; operations that already
// return an error report the same condition as an error.
package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/hatdata/internal/events"
	"github.com/roach88/hatdata/internal/property"
	"github.com/roach88/hatdata/internal/schema"
)

// Entity event names.
const (
	EventChange         = "change"
	EventChangeValidity = "changeValidity"
	EventReset          = "reset"
	EventReload         = "reload"
	EventSave           = "save"
	EventDelete         = "delete"
	EventUndelete       = "undelete"
	EventDestroy        = "destroy"
)

// Events lists every entity event name.
var Events = []string{
	EventChange, EventChangeValidity, EventReset, EventReload,
	EventSave, EventDelete, EventUndelete, EventDestroy,
}

// Owner is the repository an entity belongs to.
type Owner interface {
	IsAutoSave() bool
	SaveEntity(ctx context.Context, e *Entity) error
	DeleteEntity(ctx context.Context, e *Entity) error
	ReloadEntity(ctx context.Context, e *Entity) error
	LoadChildNodes(ctx context.Context, parent *Entity) error
	LoadParentNode(ctx context.Context, child *Entity) (*Entity, error)
	Touch(at time.Time)
}

// Entity is one record.
type Entity struct {
	*events.Channel

	schema             *schema.Schema
	properties         []*property.Property
	byName             map[string]*property.Property
	originalData       map[string]any
	originalDataParsed map[string]any
	owner              Owner
	tree               *treeRole

	isPersisted bool
	isDeleted   bool
	isStaged    bool
	isFrozen    bool
	isDestroyed bool
	isTempID    bool
	resetting   bool

	isValid         *bool
	validationError error

	cachedID     any
	lastModified time.Time
}

// Option configures a new entity.
type Option func(*Entity)

// WithOwner attaches the entity to a repository.
func WithOwner(o Owner) Option {
	return func(e *Entity) {
		e.owner = o
	}
}

// AsPersisted marks the entity as loaded from storage.
func AsPersisted() Option {
	return func(e *Entity) {
		e.isPersisted = true
	}
}

// New constructs and initializes an entity from raw, original-shaped data.
func New(s *schema.Schema, data map[string]any, opts ...Option) (*Entity, error) {
	if s == nil {
		return nil, &schema.ConfigError{Field: "schema", Message: "schema is required"}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	e := &Entity{
		Channel:      events.NewChannel(Events, events.WithCheckReturnValues()),
		schema:       s,
		originalData: copyMap(data),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.initialize(); err != nil {
		return nil, err
	}
	return e, nil
}

// initialize builds properties and the tree role, then populates values.
func (e *Entity) initialize() error {
	e.properties = make([]*property.Property, 0, len(e.schema.Model.Properties))
	e.byName = make(map[string]*property.Property, len(e.schema.Model.Properties))
	for _, def := range e.schema.Model.Properties {
		p, err := property.New(def, e)
		if err != nil {
			return fmt.Errorf("initialize %s: %w", e.schema.Name, err)
		}
		name := p.Name()
		if _, err := p.On(property.EventChange, func(events.Event) events.Result {
			e.onPropertyChange(name)
			return events.Continue
		}); err != nil {
			return err
		}
		e.properties = append(e.properties, p)
		e.byName[name] = p
	}
	if e.schema.Model.IsTree {
		e.tree = &treeRole{}
	}
	return e.Reset()
}

func (e *Entity) onPropertyChange(name string) {
	if e.resetting {
		return
	}
	if err := e.recalculateDependents(); err != nil {
		return
	}
	_ = e.Emit(EventChange, e, []string{name})
}

// recalculateDependents re-parses every property with depends set. It is a
// single pass in declaration order: a chain A->B->C is only correct when the
// properties are declared in dependency order.
func (e *Entity) recalculateDependents() error {
	for _, p := range e.properties {
		if !p.HasDepends() {
			continue
		}
		if err := p.Recalculate(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Entity) stateError(op string, err error) *StateError {
	return &StateError{Op: op, Schema: e.schema.Name, ID: e.cachedID, Err: err}
}

func (e *Entity) ensureAlive(op string) error {
	if e.isDestroyed {
		return e.stateError(op, ErrDestroyed)
	}
	return nil
}

func (e *Entity) ensureMutable(op string) error {
	if err := e.ensureAlive(op); err != nil {
		return err
	}
	if e.isFrozen {
		return e.stateError(op, ErrFrozen)
	}
	return nil
}

func (e *Entity) mustAlive(op string) {
	if err := e.ensureAlive(op); err != nil {
		panic(err)
	}
}

// Reset repopulates every property from the original data: non-dependent
// properties first, then dependent ones, falling back to defaults when the
// mapped path is absent or null. The parsed result becomes the dirty baseline.
func (e *Entity) Reset() error {
	if err := e.ensureAlive("reset"); err != nil {
		return err
	}

	e.resetting = true
	defer func() { e.resetting = false }()

	ordered := make([]*property.Property, 0, len(e.properties))
	var dependent []*property.Property
	for _, p := range e.properties {
		if p.HasDepends() {
			dependent = append(dependent, p)
			continue
		}
		ordered = append(ordered, p)
	}
	ordered = append(ordered, dependent...)

	for _, p := range ordered {
		v := GetMappedValue(p.Mapping(), e.originalData)
		if v == nil {
			v = p.DefaultValue()
		}
		if v == nil && !p.AllowNull() {
			v = p.EmptyValue()
		}
		if _, err := p.SetValue(deepCopy(v)); err != nil {
			return fmt.Errorf("reset %s: %w", e.schema.Name, err)
		}
	}

	e.originalDataParsed = e.GetParsedValues()
	e.cachedID = e.idValue()
	_ = e.Emit(EventReset, e)
	return nil
}

// Schema returns the entity's schema.
func (e *Entity) Schema() *schema.Schema { return e.schema }

// Owner returns the owning repository, or nil.
func (e *Entity) Owner() Owner { return e.owner }

// SetOwner transfers the entity to another repository (or none).
func (e *Entity) SetOwner(o Owner) { e.owner = o }

func (e *Entity) idValue() any {
	p, ok := e.byName[e.schema.Model.IDProperty]
	if !ok {
		return nil
	}
	return p.GetParsedValue()
}

// ID returns the id property's parsed value. It remains available after
// Destroy.
func (e *Entity) ID() any {
	if e.isDestroyed {
		return e.cachedID
	}
	return e.idValue()
}

// IDProperty returns the designated id property.
func (e *Entity) IDProperty() *property.Property {
	e.mustAlive("getIdProperty")
	return e.byName[e.schema.Model.IDProperty]
}

// DisplayProperty returns the designated display property.
func (e *Entity) DisplayProperty() *property.Property {
	e.mustAlive("getDisplayProperty")
	return e.byName[e.schema.Model.DisplayProperty]
}

// DisplayValue returns the display property's display value.
func (e *Entity) DisplayValue() any {
	return e.DisplayProperty().GetDisplayValue()
}

// Property returns the property named name.
func (e *Entity) Property(name string) (*property.Property, error) {
	if err := e.ensureAlive("getProperty"); err != nil {
		return nil, err
	}
	p, ok := e.byName[name]
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", e.schema.Name, name, ErrUnknownProperty)
	}
	return p, nil
}

// Properties returns the properties in declaration order.
func (e *Entity) Properties() []*property.Property {
	e.mustAlive("getProperties")
	out := make([]*property.Property, len(e.properties))
	copy(out, e.properties)
	return out
}

// HasProperty reports whether the schema defines name.
func (e *Entity) HasProperty(name string) bool {
	_, ok := e.byName[name]
	return ok
}

// Get returns the parsed value of name.
func (e *Entity) Get(name string) (any, error) {
	p, err := e.Property(name)
	if err != nil {
		return nil, err
	}
	return p.GetParsedValue(), nil
}

// Set assigns a raw value to name.
func (e *Entity) Set(name string, value any) error {
	_, err := e.SetValue(name, value)
	return err
}

// ParsedValue implements property.Siblings.
func (e *Entity) ParsedValue(name string) (any, error) {
	return e.Get(name)
}

// Touch records a modification and forwards it to the owner.
func (e *Entity) Touch(at time.Time) {
	if e.resetting {
		return
	}
	e.lastModified = at
	if e.owner != nil {
		e.owner.Touch(at)
	}
}

// LastModified is the time of the most recent property change.
func (e *Entity) LastModified() time.Time { return e.lastModified }

// SetValue assigns one property and reports whether it changed. Dependents
// are recalculated and a change event emitted on change.
func (e *Entity) SetValue(name string, value any) (bool, error) {
	if err := e.ensureMutable("setValue"); err != nil {
		return false, err
	}
	p, err := e.Property(name)
	if err != nil {
		return false, err
	}
	return p.SetValue(value)
}

// SetValues assigns several properties with per-property events paused, then
// recalculates dependents once and emits a single change event.
func (e *Entity) SetValues(values map[string]any) error {
	if err := e.ensureMutable("setValues"); err != nil {
		return err
	}
	for name := range values {
		if _, ok := e.byName[name]; !ok {
			return fmt.Errorf("set values: %s.%s: %w", e.schema.Name, name, ErrUnknownProperty)
		}
	}

	for _, p := range e.properties {
		p.Pause()
	}
	var (
		changed []string
		setErr  error
	)
	for _, p := range e.properties {
		v, ok := values[p.Name()]
		if !ok {
			continue
		}
		c, err := p.SetValue(v)
		if err != nil {
			setErr = err
			break
		}
		if c {
			changed = append(changed, p.Name())
		}
	}
	for _, p := range e.properties {
		_ = p.Resume(false)
	}
	if setErr != nil {
		return fmt.Errorf("set values: %w", setErr)
	}
	if len(changed) == 0 {
		return nil
	}
	if err := e.recalculateDependents(); err != nil {
		return fmt.Errorf("set values: %w", err)
	}
	_ = e.Emit(EventChange, e, changed)
	return nil
}

func (e *Entity) collect(op string, fn func(p *property.Property) any, skipVirtual bool) map[string]any {
	e.mustAlive(op)
	out := make(map[string]any, len(e.properties))
	for _, p := range e.properties {
		if skipVirtual && p.IsVirtual() {
			continue
		}
		out[p.Name()] = fn(p)
	}
	return out
}

// GetRawValues maps property names to raw values.
func (e *Entity) GetRawValues() map[string]any {
	return e.collect("getRawValues", func(p *property.Property) any { return deepCopy(p.GetRawValue()) }, false)
}

// GetParsedValues maps property names to parsed values.
func (e *Entity) GetParsedValues() map[string]any {
	return e.collect("getParsedValues", func(p *property.Property) any { return deepCopy(p.GetParsedValue()) }, false)
}

// GetDisplayValues maps property names to display values.
func (e *Entity) GetDisplayValues() map[string]any {
	return e.collect("getDisplayValues", (*property.Property).GetDisplayValue, false)
}

// GetSubmitValues maps non-virtual property names to submit values.
func (e *Entity) GetSubmitValues() map[string]any {
	return e.collect("getSubmitValues", (*property.Property).GetSubmitValue, true)
}

// GetOriginalData returns a copy of the last persisted or loaded raw data.
func (e *Entity) GetOriginalData() map[string]any {
	e.mustAlive("getOriginalData")
	return copyMap(e.originalData)
}

// GetOriginalDataParsed returns a copy of the dirty baseline.
func (e *Entity) GetOriginalDataParsed() map[string]any {
	e.mustAlive("getOriginalDataParsed")
	return copyMap(e.originalDataParsed)
}

// GetChanged lists properties whose parsed value differs from the baseline,
// in declaration order. It returns nil when nothing changed.
func (e *Entity) GetChanged() []string {
	e.mustAlive("getChanged")
	var changed []string
	for _, p := range e.properties {
		if !property.Equal(e.originalDataParsed[p.Name()], p.GetParsedValue()) {
			changed = append(changed, p.Name())
		}
	}
	return changed
}

// IsDirty reports whether any parsed value differs from the baseline.
func (e *Entity) IsDirty() bool {
	return len(e.GetChanged()) > 0
}

// IsPhantom reports an absent id or a temporary one.
func (e *Entity) IsPhantom() bool {
	return e.isTempID || isAbsent(e.ID())
}

func isAbsent(id any) bool {
	switch v := id.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case int64:
		return v == 0
	case int:
		return v == 0
	case float64:
		return v == 0
	}
	return false
}

func (e *Entity) IsPersisted() bool { return e.isPersisted }
func (e *Entity) IsDeleted() bool   { return e.isDeleted }
func (e *Entity) IsStaged() bool    { return e.isStaged }
func (e *Entity) IsFrozen() bool    { return e.isFrozen }
func (e *Entity) IsDestroyed() bool { return e.isDestroyed }
func (e *Entity) IsTempID() bool    { return e.isTempID }

// IsValid is nil until Validate has run.
func (e *Entity) IsValid() *bool { return e.isValid }

// ValidationError is the last validator rejection, if any.
func (e *Entity) ValidationError() error { return e.validationError }

// CreateTempID assigns a generated id and marks it temporary.
func (e *Entity) CreateTempID() error {
	if err := e.ensureMutable("createTempId"); err != nil {
		return err
	}
	p := e.IDProperty()
	id, err := p.NewID()
	if err != nil {
		return fmt.Errorf("create temp id for %s: %w", e.schema.Name, err)
	}
	if _, err := p.SetValue(id); err != nil {
		return err
	}
	e.isTempID = true
	e.cachedID = id
	return nil
}

// MarkStaged includes the entity in the next batch save.
func (e *Entity) MarkStaged() error {
	if err := e.ensureAlive("markStaged"); err != nil {
		return err
	}
	e.isStaged = true
	return nil
}

// Freeze blocks value changes until Unfreeze.
func (e *Entity) Freeze()   { e.isFrozen = true }
func (e *Entity) Unfreeze() { e.isFrozen = false }

// MarkSaved commits the current values as persisted: the temp-id flag is
// cleared, the original data becomes the stored record (GetRecord), the
// dirty baseline is refreshed, and the staged flag cleared.
func (e *Entity) MarkSaved() error {
	if err := e.ensureAlive("markSaved"); err != nil {
		return err
	}
	e.isTempID = false
	e.originalData = e.GetRecord()
	e.originalDataParsed = e.GetParsedValues()
	e.isPersisted = true
	e.isStaged = false
	e.cachedID = e.idValue()
	_ = e.Emit(EventSave, e)
	return nil
}

// LoadOriginalData replaces the original data and resets to it.
func (e *Entity) LoadOriginalData(data map[string]any) error {
	if err := e.ensureAlive("loadOriginalData"); err != nil {
		return err
	}
	prev := e.originalData
	e.originalData = copyMap(data)
	if err := e.Reset(); err != nil {
		e.originalData = prev
		return err
	}
	_ = e.Emit(EventReload, e)
	return nil
}

// MarkDeleted flags the entity for deletion. Listeners may veto by
// returning events.Cancel.
func (e *Entity) MarkDeleted() error {
	if err := e.ensureAlive("markDeleted"); err != nil {
		return err
	}
	if e.isDeleted {
		return nil
	}
	if err := e.Emit(EventDelete, e); errors.Is(err, events.ErrCancelled) {
		return fmt.Errorf("delete %s %v: %w", e.schema.Name, e.ID(), err)
	}
	e.isDeleted = true
	return nil
}

// Undelete clears the deletion mark. It is refused while the owner auto-saves,
// since the deletion has most likely been committed already.
func (e *Entity) Undelete() error {
	if err := e.ensureAlive("undelete"); err != nil {
		return err
	}
	if e.owner != nil && e.owner.IsAutoSave() {
		return e.stateError("undelete", ErrAutoSave)
	}
	e.isDeleted = false
	_ = e.Emit(EventUndelete, e)
	return nil
}

// Save persists the entity through its repository.
func (e *Entity) Save(ctx context.Context) error {
	if err := e.ensureAlive("save"); err != nil {
		return err
	}
	if e.owner == nil {
		return e.stateError("save", ErrNoOwner)
	}
	return e.owner.SaveEntity(ctx, e)
}

// Delete removes the entity through its repository, or only marks it when
// it has none.
func (e *Entity) Delete(ctx context.Context) error {
	if err := e.ensureAlive("delete"); err != nil {
		return err
	}
	if e.owner == nil {
		return e.MarkDeleted()
	}
	return e.owner.DeleteEntity(ctx, e)
}

// Reload refreshes the entity from its repository, or resets it to its
// original data when it has none.
func (e *Entity) Reload(ctx context.Context) error {
	if err := e.ensureAlive("reload"); err != nil {
		return err
	}
	if e.owner == nil {
		if err := e.Reset(); err != nil {
			return err
		}
		_ = e.Emit(EventReload, e)
		return nil
	}
	return e.owner.ReloadEntity(ctx, e)
}

// Validate runs the schema validator over the submit values, recording the
// outcome on the entity. A rejection is not an error; only a cancelled
// context is.
func (e *Entity) Validate(ctx context.Context) (bool, error) {
	if err := e.ensureAlive("validate"); err != nil {
		return false, err
	}
	var verr error
	if v := e.schema.Model.Validator; v != nil {
		verr = v.Validate(ctx, e.GetSubmitValues())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
	}
	valid := verr == nil
	changed := e.isValid == nil || *e.isValid != valid
	e.isValid = &valid
	e.validationError = verr
	if changed {
		_ = e.Emit(EventChangeValidity, e, valid, verr)
	}
	return valid, nil
}

// Call invokes a custom method declared on the schema.
func (e *Entity) Call(method string, args ...any) (any, error) {
	if err := e.ensureAlive("call"); err != nil {
		return nil, err
	}
	fn, ok := e.schema.Entity.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%s: no method %q", e.schema.Name, method)
	}
	return fn(e, args...)
}

// Clone produces a detached copy with the same values, baseline and flags.
func (e *Entity) Clone() (*Entity, error) {
	if err := e.ensureAlive("clone"); err != nil {
		return nil, err
	}
	c, err := New(e.schema, e.originalData)
	if err != nil {
		return nil, err
	}
	c.copyStateFrom(e)
	return c, nil
}

// RestoreFrom rolls the entity back to a clone taken earlier.
func (e *Entity) RestoreFrom(clone *Entity) error {
	if err := e.ensureAlive("restore"); err != nil {
		return err
	}
	e.originalData = copyMap(clone.originalData)
	e.copyStateFrom(clone)
	return nil
}

func (e *Entity) copyStateFrom(src *Entity) {
	e.resetting = true
	for _, p := range e.properties {
		if sp, ok := src.byName[p.Name()]; ok {
			_, _ = p.SetValue(deepCopy(sp.GetRawValue()))
		}
	}
	e.resetting = false
	_ = e.recalculateDependents()

	e.originalDataParsed = copyMap(src.originalDataParsed)
	e.isPersisted = src.isPersisted
	e.isDeleted = src.isDeleted
	e.isStaged = src.isStaged
	e.isTempID = src.isTempID
	e.isValid = src.isValid
	e.validationError = src.validationError
	e.cachedID = e.idValue()
}

// Destroy severs parent/child/schema references and detaches listeners.
// Only ID keeps working afterwards.
func (e *Entity) Destroy() {
	if e.isDestroyed {
		return
	}
	e.cachedID = e.idValue()
	_ = e.Emit(EventDestroy, e)
	for _, p := range e.properties {
		p.Destroy()
	}
	if e.tree != nil {
		if parent := e.tree.parent; parent != nil && parent.tree != nil {
			parent.tree.removeChild(e)
		}
		for _, c := range e.tree.children {
			if c.tree != nil && c.tree.parent == e {
				c.tree.parent = nil
			}
		}
		e.tree = &treeRole{}
	}
	e.RemoveAllListeners()
	e.owner = nil
	e.properties = nil
	e.byName = nil
	e.isDestroyed = true
}
