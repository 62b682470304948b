// Package storage defines the minimal contract a storage medium implements to
// back a repository: get/set/delete by key, optional batch variants, key
// enumeration and request/response exchange.
//
// Values are JSON-shaped (maps, slices, strings, numbers, booleans, nil).
// Adapters must round-trip them through their native representation.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Driver identifies a concrete storage medium.
type Driver string

const (
	DriverMemory Driver = "memory" // in-process map (tests, caches)
	DriverSQLite Driver = "sqlite" // local SQLite file
	DriverS3     Driver = "s3"     // S3 / MinIO compatible bucket
)

var (
	// ErrUnsupported is returned when a medium lacks an optional capability.
	ErrUnsupported = errors.New("storage: unsupported operation")
	// ErrUnavailable marks a medium that cannot currently be reached.
	ErrUnavailable = errors.New("storage: medium unavailable")
)

// Adapter is the contract every medium implements. Get returns (nil, nil)
// for a missing key.
type Adapter interface {
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// BatchAdapter is implemented by mediums with native multi-key operations.
type BatchAdapter interface {
	Adapter
	GetMultiple(ctx context.Context, keys []string) (map[string]any, error)
	SetMultiple(ctx context.Context, values map[string]any) error
	DeleteMultiple(ctx context.Context, keys []string) error
}

// Enumerator is implemented by mediums that can list their keys.
type Enumerator interface {
	GetAllKeys(ctx context.Context) ([]string, error)
}

// Exchanger is implemented by mediums that answer a write with a response,
// such as remote command endpoints. A nil response means the medium had
// nothing to say beyond acknowledging the write.
type Exchanger interface {
	Exchange(ctx context.Context, key string, value any) (any, error)
}

// GetMultiple reads keys through the adapter's batch call when it has one,
// otherwise one key at a time. Missing keys are absent from the result.
func GetMultiple(ctx context.Context, a Adapter, keys []string) (map[string]any, error) {
	if b, ok := a.(BatchAdapter); ok {
		return b.GetMultiple(ctx, keys)
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, err := a.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", k, err)
		}
		if v != nil {
			out[k] = v
		}
	}
	return out, nil
}

// SetMultiple writes values through the adapter's batch call when it has
// one, otherwise one key at a time.
func SetMultiple(ctx context.Context, a Adapter, values map[string]any) error {
	if b, ok := a.(BatchAdapter); ok {
		return b.SetMultiple(ctx, values)
	}
	for k, v := range values {
		if err := a.Set(ctx, k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return nil
}

// DeleteMultiple removes keys through the adapter's batch call when it has
// one, otherwise one key at a time.
func DeleteMultiple(ctx context.Context, a Adapter, keys []string) error {
	if b, ok := a.(BatchAdapter); ok {
		return b.DeleteMultiple(ctx, keys)
	}
	for _, k := range keys {
		if err := a.Delete(ctx, k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}

// GetAllKeys lists the adapter's keys, or ErrUnsupported.
func GetAllKeys(ctx context.Context, a Adapter) ([]string, error) {
	e, ok := a.(Enumerator)
	if !ok {
		return nil, ErrUnsupported
	}
	return e.GetAllKeys(ctx)
}

// Exchange writes value and returns the medium's response. Mediums without
// an exchange capability get a plain Set and a nil response.
func Exchange(ctx context.Context, a Adapter, key string, value any) (any, error) {
	if x, ok := a.(Exchanger); ok {
		return x.Exchange(ctx, key, value)
	}
	return nil, a.Set(ctx, key, value)
}

// Close releases the adapter's resources when it holds any.
func Close(a Adapter) error {
	if c, ok := a.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Normalize converts v into its JSON-shaped form: structs and typed maps
// become map[string]any, numbers become float64.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return out, nil
}
