package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hatdata/internal/events"
	"github.com/roach88/hatdata/internal/property"
	"github.com/roach88/hatdata/internal/schema"
)

func fooSchema() *schema.Schema {
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

func fooData() map[string]any {
	return map[string]any{
		"foo": 1,
		"bar": "one",
		"baz": map[string]any{"test": map[string]any{"val": true}},
	}
}

func newFoo(t *testing.T) *Entity {
	t.Helper()
	e, err := New(fooSchema(), fooData())
	require.NoError(t, err)
	return e
}

func golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestNew_MappedValues(t *testing.T) {
	e := newFoo(t)

	assert.Equal(t, int64(1), e.ID())
	assert.Equal(t, "Yes", e.GetDisplayValues()["baz"])
	assert.Equal(t, "one", e.DisplayValue())
	assert.False(t, e.IsDirty())
	assert.False(t, e.IsPhantom())
	assert.False(t, e.IsPersisted())

	submit, err := json.Marshal(e.GetSubmitValues())
	require.NoError(t, err)
	golden(t).Assert(t, "foo_submit_values", submit)

	reverse, err := json.Marshal(e.GetReverseMappedRawValues())
	require.NoError(t, err)
	golden(t).Assert(t, "foo_reverse_mapped", reverse)
}

func TestGetMappedValue(t *testing.T) {
	root := fooData()
	assert.Equal(t, true, GetMappedValue("baz.test.val", root))
	assert.Nil(t, GetMappedValue("baz.missing.val", root))
	assert.Nil(t, GetMappedValue("bar.deeper", root))
	assert.Equal(t, "one", GetMappedValue("bar", root))
}

func TestReverseMappingRoundTrip(t *testing.T) {
	e := newFoo(t)
	again, err := New(fooSchema(), e.GetReverseMappedRawValues())
	require.NoError(t, err)
	assert.Equal(t, e.GetParsedValues(), again.GetParsedValues())
}

func TestReset_DefaultsAndEmpty(t *testing.T) {
	s := &schema.Schema{
		Name: "Defaults",
		Model: schema.Model{
			IDProperty:      "id",
			DisplayProperty: "name",
			Properties: []property.Definition{
				{Name: "id", Type: property.TypeInt},
				{Name: "name", Type: property.TypeString, DefaultValue: "anon"},
				{Name: "count", Type: property.TypeInt, AllowNull: property.Bool(false)},
				{Name: "note", Type: property.TypeString, Mapping: "meta.note"},
			},
		},
	}
	e, err := New(s, map[string]any{"id": 5, "meta": map[string]any{"note": nil}})
	require.NoError(t, err)

	assert.Equal(t, "anon", e.GetParsedValues()["name"])
	assert.Equal(t, int64(0), e.GetParsedValues()["count"])
	assert.Nil(t, e.GetParsedValues()["note"])
	assert.False(t, e.IsDirty())
}

func TestSetValue_DirtyAndChanged(t *testing.T) {
	e := newFoo(t)

	var changes [][]string
	_, err := e.On(EventChange, func(ev events.Event) events.Result {
		changes = append(changes, ev.Arg(1).([]string))
		return events.Continue
	})
	require.NoError(t, err)

	changed, err := e.SetValue("bar", "one")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, e.GetChanged())
	assert.Empty(t, changes)

	changed, err = e.SetValue("bar", "two")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, e.IsDirty())
	assert.Equal(t, []string{"bar"}, e.GetChanged())
	assert.Equal(t, [][]string{{"bar"}}, changes)

	_, err = e.SetValue("bar", "one")
	require.NoError(t, err)
	assert.False(t, e.IsDirty(), "restoring the baseline value clears dirty")

	_, err = e.SetValue("nope", 1)
	assert.ErrorIs(t, err, ErrUnknownProperty)
}

func TestSetValues_SingleEvent(t *testing.T) {
	e := newFoo(t)

	var count int
	var names []string
	_, err := e.On(EventChange, func(ev events.Event) events.Result {
		count++
		names = ev.Arg(1).([]string)
		return events.Continue
	})
	require.NoError(t, err)

	require.NoError(t, e.SetValues(map[string]any{"bar": "two", "baz": false}))
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"bar", "baz"}, names)
	assert.Equal(t, []string{"bar", "baz"}, e.GetChanged())

	err = e.SetValues(map[string]any{"ghost": 1})
	assert.ErrorIs(t, err, ErrUnknownProperty)
	assert.Equal(t, 1, count)
}

func TestDependentProperty(t *testing.T) {
	s := &schema.Schema{
		Name: "Orders",
		Model: schema.Model{
			IDProperty:      "id",
			DisplayProperty: "id",
			Properties: []property.Definition{
				{Name: "id", Type: property.TypeInt},
				{Name: "qty", Type: property.TypeInt},
				{
					Name:      "label",
					Type:      property.TypeString,
					Depends:   "qty",
					IsVirtual: true,
					Parse: func(_ any, siblings property.Siblings) (any, error) {
						qty, err := siblings.ParsedValue("qty")
						if err != nil {
							return nil, err
						}
						return fmt.Sprintf("qty:%v", qty), nil
					},
				},
			},
		},
	}
	e, err := New(s, map[string]any{"id": 1, "qty": 2})
	require.NoError(t, err)
	assert.Equal(t, "qty:2", e.GetParsedValues()["label"])

	require.NoError(t, e.Set("qty", 7))
	assert.Equal(t, "qty:7", e.GetParsedValues()["label"])
	assert.NotContains(t, e.GetSubmitValues(), "label")
}

func TestPhantomAndTempID(t *testing.T) {
	e, err := New(fooSchema(), map[string]any{"bar": "x"})
	require.NoError(t, err)
	assert.True(t, e.IsPhantom())

	require.NoError(t, e.CreateTempID())
	assert.True(t, e.IsTempID())
	assert.True(t, e.IsPhantom())
	id, ok := e.ID().(int64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, id, int64(property.TempIntIDSeed))

	require.NoError(t, e.MarkSaved())
	assert.False(t, e.IsTempID())
	assert.False(t, e.IsPhantom())
	assert.True(t, e.IsPersisted())
	assert.False(t, e.IsDirty())
}

func TestMarkSaved(t *testing.T) {
	e := newFoo(t)
	require.NoError(t, e.MarkStaged())
	require.NoError(t, e.Set("baz", false))
	require.True(t, e.IsDirty())

	var saved int
	_, err := e.On(EventSave, func(events.Event) events.Result {
		saved++
		return events.Continue
	})
	require.NoError(t, err)

	require.NoError(t, e.MarkSaved())
	assert.False(t, e.IsDirty())
	assert.False(t, e.IsStaged())
	assert.True(t, e.IsPersisted())
	assert.Equal(t, 1, saved)
	assert.Equal(t, false, GetMappedValue("baz.test.val", e.GetOriginalData()))
}

func TestLoadOriginalData(t *testing.T) {
	e := newFoo(t)
	require.NoError(t, e.Set("bar", "dirty"))

	require.NoError(t, e.LoadOriginalData(map[string]any{"foo": 2, "bar": "fresh"}))
	assert.Equal(t, int64(2), e.ID())
	assert.Equal(t, "fresh", e.GetParsedValues()["bar"])
	assert.False(t, e.IsDirty())
}

func TestFrozen(t *testing.T) {
	e := newFoo(t)
	e.Freeze()
	_, err := e.SetValue("bar", "x")
	assert.ErrorIs(t, err, ErrFrozen)
	assert.True(t, IsStateError(err))

	e.Unfreeze()
	_, err = e.SetValue("bar", "x")
	assert.NoError(t, err)
}

func TestMarkDeleted_Veto(t *testing.T) {
	e := newFoo(t)
	unsub, err := e.On(EventDelete, func(events.Event) events.Result { return events.Cancel })
	require.NoError(t, err)

	err = e.MarkDeleted()
	assert.ErrorIs(t, err, events.ErrCancelled)
	assert.False(t, e.IsDeleted())

	unsub()
	require.NoError(t, e.MarkDeleted())
	assert.True(t, e.IsDeleted())

	require.NoError(t, e.Undelete())
	assert.False(t, e.IsDeleted())
}

type stubOwner struct {
	autoSave bool
	saved    []*Entity
	touched  int
}

func (o *stubOwner) IsAutoSave() bool { return o.autoSave }
func (o *stubOwner) SaveEntity(_ context.Context, e *Entity) error {
	o.saved = append(o.saved, e)
	return e.MarkSaved()
}
func (o *stubOwner) DeleteEntity(context.Context, *Entity) error              { return nil }
func (o *stubOwner) ReloadEntity(context.Context, *Entity) error              { return nil }
func (o *stubOwner) LoadChildNodes(context.Context, *Entity) error            { return nil }
func (o *stubOwner) LoadParentNode(context.Context, *Entity) (*Entity, error) { return nil, nil }
func (o *stubOwner) Touch(time.Time)                                          { o.touched++ }

func TestOwner(t *testing.T) {
	ctx := context.Background()

	orphan := newFoo(t)
	assert.ErrorIs(t, orphan.Save(ctx), ErrNoOwner)

	owner := &stubOwner{autoSave: true}
	e, err := New(fooSchema(), fooData(), WithOwner(owner))
	require.NoError(t, err)
	assert.Zero(t, owner.touched, "initial reset does not touch the owner")

	require.NoError(t, e.Set("bar", "two"))
	assert.Equal(t, 1, owner.touched)

	require.NoError(t, e.Save(ctx))
	assert.Len(t, owner.saved, 1)
	assert.False(t, e.IsDirty())

	require.NoError(t, e.MarkDeleted())
	err = e.Undelete()
	assert.ErrorIs(t, err, ErrAutoSave)
	assert.True(t, e.IsDeleted())
}

func TestValidate(t *testing.T) {
	s := fooSchema()
	s.Model.Validator = schema.ValidatorFunc(func(_ context.Context, values map[string]any) error {
		if values["bar"] == "" {
			return errors.New("bar is required")
		}
		return nil
	})
	e, err := New(s, fooData())
	require.NoError(t, err)
	assert.Nil(t, e.IsValid())

	var flips int
	_, err = e.On(EventChangeValidity, func(events.Event) events.Result {
		flips++
		return events.Continue
	})
	require.NoError(t, err)

	ok, err := e.Validate(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, e.IsValid())
	assert.True(t, *e.IsValid())

	require.NoError(t, e.Set("bar", ""))
	ok, err = e.Validate(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualError(t, e.ValidationError(), "bar is required")
	assert.Equal(t, 2, flips)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Validate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloneAndRestore(t *testing.T) {
	e := newFoo(t)
	require.NoError(t, e.Set("bar", "two"))

	c, err := e.Clone()
	require.NoError(t, err)
	assert.Equal(t, e.GetRawValues(), c.GetRawValues())
	assert.Equal(t, e.IsDirty(), c.IsDirty())
	assert.Equal(t, e.GetHash(), c.GetHash())

	c2, err := c.Clone()
	require.NoError(t, err)
	assert.Equal(t, c.GetHash(), c2.GetHash(), "clone of clone is identical")

	require.NoError(t, e.Set("bar", "three"))
	require.NoError(t, e.MarkSaved())
	require.NoError(t, e.RestoreFrom(c))
	assert.Equal(t, "two", e.GetParsedValues()["bar"])
	assert.True(t, e.IsDirty())
	assert.False(t, e.IsPersisted())
}

func TestGetHash(t *testing.T) {
	a := newFoo(t)
	b := newFoo(t)
	assert.Equal(t, a.GetHash(), b.GetHash())

	require.NoError(t, b.Set("bar", "two"))
	assert.NotEqual(t, a.GetHash(), b.GetHash())

	require.NoError(t, b.Set("bar", "one"))
	assert.Equal(t, a.GetHash(), b.GetHash())

	assert.Less(t, a.GetHash(), int64(1)<<53)
	assert.GreaterOrEqual(t, a.GetHash(), int64(0))
}

func TestCyrb53(t *testing.T) {
	// Reference values of the 53-bit hash over UTF-16 code units.
	assert.Equal(t, int64(3338908027751811), cyrb53("", 0))
	assert.NotEqual(t, cyrb53("a", 0), cyrb53("a", 1))
	assert.Equal(t, cyrb53("héllo", 0), cyrb53("héllo", 0))
}

func TestDestroy(t *testing.T) {
	e := newFoo(t)
	var destroyed bool
	_, err := e.On(EventDestroy, func(events.Event) events.Result {
		destroyed = true
		return events.Continue
	})
	require.NoError(t, err)

	e.Destroy()
	assert.True(t, destroyed)
	assert.True(t, e.IsDestroyed())
	assert.Equal(t, int64(1), e.ID())

	_, err = e.SetValue("bar", "x")
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, e.Reset(), ErrDestroyed)
	assert.PanicsWithError(t, "getSubmitValues: Foo entity 1: entity is destroyed", func() {
		e.GetSubmitValues()
	})
	assert.NotPanics(t, func() { e.GetHash() })
}

func TestCall(t *testing.T) {
	s := fooSchema()
	s.Entity.Methods = map[string]schema.Method{
		"shout": func(self schema.Receiver, _ ...any) (any, error) {
			v, err := self.Get("bar")
			if err != nil {
				return nil, err
			}
			return v.(string) + "!", nil
		},
	}
	e, err := New(s, fooData())
	require.NoError(t, err)

	got, err := e.Call("shout")
	require.NoError(t, err)
	assert.Equal(t, "one!", got)

	_, err = e.Call("whisper")
	assert.Error(t, err)
}
