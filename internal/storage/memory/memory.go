// Package memory provides an in-process storage adapter. Values are held as
// JSON so that callers never share mutable state with the medium.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/hatdata/internal/storage"
)

// Responder answers an Exchange after the value has been stored.
type Responder func(ctx context.Context, key string, value any) (any, error)

// Adapter is a map-backed storage.Adapter. It is safe for concurrent use.
type Adapter struct {
	mu        sync.RWMutex
	data      map[string][]byte
	responder Responder
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithResponder makes Exchange return the responder's answer, emulating a
// remote endpoint that replies to writes.
func WithResponder(r Responder) Option {
	return func(a *Adapter) {
		a.responder = r
	}
}

// WithData seeds the adapter.
func WithData(values map[string]any) Option {
	return func(a *Adapter) {
		for k, v := range values {
			if b, err := json.Marshal(v); err == nil {
				a.data[k] = b
			}
		}
	}
}

// New returns an empty adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{data: make(map[string][]byte)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Driver() storage.Driver { return storage.DriverMemory }

func decode(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (a *Adapter) Get(ctx context.Context, key string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	b, ok := a.data[key]
	a.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	v, err := decode(b)
	if err != nil {
		return nil, fmt.Errorf("memory get %s: %w", key, err)
	}
	return v, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memory set %s: %w", key, err)
	}
	a.mu.Lock()
	a.data[key] = b
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	delete(a.data, key)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) GetMultiple(ctx context.Context, keys []string) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, err := a.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if v != nil {
			out[k] = v
		}
	}
	return out, nil
}

// SetMultiple stores all values or none.
func (a *Adapter) SetMultiple(ctx context.Context, values map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded := make(map[string][]byte, len(values))
	for k, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("memory set %s: %w", k, err)
		}
		encoded[k] = b
	}
	a.mu.Lock()
	for k, b := range encoded {
		a.data[k] = b
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) DeleteMultiple(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	for _, k := range keys {
		delete(a.data, k)
	}
	a.mu.Unlock()
	return nil
}

// GetAllKeys returns the keys in sorted order.
func (a *Adapter) GetAllKeys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	keys := make([]string, 0, len(a.data))
	for k := range a.data {
		keys = append(keys, k)
	}
	a.mu.RUnlock()
	slices.Sort(keys)
	return keys, nil
}

// Exchange stores value, then returns the responder's answer (nil without
// a responder).
func (a *Adapter) Exchange(ctx context.Context, key string, value any) (any, error) {
	if err := a.Set(ctx, key, value); err != nil {
		return nil, err
	}
	if a.responder == nil {
		return nil, nil
	}
	resp, err := a.responder(ctx, key, value)
	if err != nil {
		return nil, fmt.Errorf("memory exchange %s: %w", key, err)
	}
	return storage.Normalize(resp)
}

// Len reports the number of stored keys.
func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.data)
}
