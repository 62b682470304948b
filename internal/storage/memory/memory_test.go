package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hatdata/internal/storage"
)

var _ storage.BatchAdapter = (*Adapter)(nil)
var _ storage.Enumerator = (*Adapter)(nil)
var _ storage.Exchanger = (*Adapter)(nil)

func TestAdapter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	a := New()

	v, err := a.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	in := map[string]any{"id": 1, "tags": []string{"a", "b"}, "nested": map[string]any{"ok": true}}
	require.NoError(t, a.Set(ctx, "Users/1", in))

	got, err := a.Get(ctx, "Users/1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"id":     float64(1),
		"tags":   []any{"a", "b"},
		"nested": map[string]any{"ok": true},
	}, got)

	got.(map[string]any)["id"] = 99
	again, _ := a.Get(ctx, "Users/1")
	assert.Equal(t, float64(1), again.(map[string]any)["id"], "reads do not alias stored state")

	require.NoError(t, a.Delete(ctx, "Users/1"))
	assert.Equal(t, 0, a.Len())
}

func TestAdapter_Batch(t *testing.T) {
	ctx := context.Background()
	a := New(WithData(map[string]any{"c": 3}))

	require.NoError(t, storage.SetMultiple(ctx, a, map[string]any{"a": 1, "b": "two"}))
	keys, err := storage.GetAllKeys(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	got, err := storage.GetMultiple(ctx, a, []string{"a", "b", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1), "b": "two"}, got)

	require.NoError(t, storage.DeleteMultiple(ctx, a, []string{"a", "c"}))
	keys, _ = a.GetAllKeys(ctx)
	assert.Equal(t, []string{"b"}, keys)
}

func TestAdapter_SetRejectsUnencodable(t *testing.T) {
	a := New()
	err := a.Set(context.Background(), "k", make(chan int))
	assert.Error(t, err)
	assert.Equal(t, 0, a.Len())
}

func TestAdapter_Exchange(t *testing.T) {
	ctx := context.Background()

	plain := New()
	resp, err := storage.Exchange(ctx, plain, "k", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, 1, plain.Len())

	echo := New(WithResponder(func(_ context.Context, key string, value any) (any, error) {
		return map[string]any{"key": key, "status": "OK"}, nil
	}))
	resp, err = echo.Exchange(ctx, "cmd/1", map[string]any{"command": "ping"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"key": "cmd/1", "status": "OK"}, resp)

	failing := New(WithResponder(func(context.Context, string, any) (any, error) {
		return nil, storage.ErrUnavailable
	}))
	_, err = failing.Exchange(ctx, "k", 1)
	assert.True(t, errors.Is(err, storage.ErrUnavailable))
}

func TestAdapter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := New()
	assert.ErrorIs(t, a.Set(ctx, "k", 1), context.Canceled)
	_, err := a.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

type plainAdapter struct{ m map[string]any }

func (p *plainAdapter) Get(_ context.Context, k string) (any, error) { return p.m[k], nil }
func (p *plainAdapter) Set(_ context.Context, k string, v any) error {
	p.m[k] = v
	return nil
}
func (p *plainAdapter) Delete(_ context.Context, k string) error {
	delete(p.m, k)
	return nil
}

func TestFallbacks(t *testing.T) {
	ctx := context.Background()
	p := &plainAdapter{m: map[string]any{}}

	require.NoError(t, storage.SetMultiple(ctx, p, map[string]any{"a": 1, "b": 2}))
	got, err := storage.GetMultiple(ctx, p, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, got)

	require.NoError(t, storage.DeleteMultiple(ctx, p, []string{"a"}))
	assert.Equal(t, map[string]any{"b": 2}, p.m)

	_, err = storage.GetAllKeys(ctx, p)
	assert.ErrorIs(t, err, storage.ErrUnsupported)

	resp, err := storage.Exchange(ctx, p, "c", 3)
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, 3, p.m["c"])

	assert.NoError(t, storage.Close(p))
}
