package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/hatdata/internal/storage"
)

// ErrInjected is the failure FlakyAdapter returns for injected faults.
var ErrInjected = errors.New("testutil: injected storage failure")

// FlakyAdapter wraps a storage.Adapter and fails selected operations on
// demand.
//
// Faults are keyed by operation ("get", "set", "delete", "exchange") and,
// optionally, by storage key. Going offline fails every operation with
// storage.ErrUnavailable, the way a network medium behaves without a
// connection.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FlakyAdapter struct {
	inner storage.Adapter

	mu      sync.Mutex
	offline bool
	failOps map[string]bool
	failKey map[string]bool
	calls   map[string]int
}

// NewFlakyAdapter wraps inner. No faults are armed initially.
func NewFlakyAdapter(inner storage.Adapter) *FlakyAdapter {
	return &FlakyAdapter{
		inner:   inner,
		failOps: make(map[string]bool),
		failKey: make(map[string]bool),
		calls:   make(map[string]int),
	}
}

// Inner returns the wrapped adapter.
func (f *FlakyAdapter) Inner() storage.Adapter { return f.inner }

// FailOp makes every call of op fail until Heal.
func (f *FlakyAdapter) FailOp(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOps[op] = true
}

// FailKey makes every operation on key fail until Heal.
func (f *FlakyAdapter) FailKey(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failKey[key] = true
}

// SetOffline toggles the unreachable state.
func (f *FlakyAdapter) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

// Heal clears every armed fault, including offline.
func (f *FlakyAdapter) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = false
	clear(f.failOps)
	clear(f.failKey)
}

// Calls returns how many times op was attempted.
func (f *FlakyAdapter) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FlakyAdapter) check(op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	switch {
	case f.offline:
		return storage.ErrUnavailable
	case f.failOps[op], f.failKey[key]:
		return ErrInjected
	}
	return nil
}

func (f *FlakyAdapter) Get(ctx context.Context, key string) (any, error) {
	if err := f.check("get", key); err != nil {
		return nil, err
	}
	return f.inner.Get(ctx, key)
}

func (f *FlakyAdapter) Set(ctx context.Context, key string, value any) error {
	if err := f.check("set", key); err != nil {
		return err
	}
	return f.inner.Set(ctx, key, value)
}

func (f *FlakyAdapter) Delete(ctx context.Context, key string) error {
	if err := f.check("delete", key); err != nil {
		return err
	}
	return f.inner.Delete(ctx, key)
}

// Exchange forwards to the inner medium's exchange, falling back to Set.
func (f *FlakyAdapter) Exchange(ctx context.Context, key string, value any) (any, error) {
	if err := f.check("exchange", key); err != nil {
		return nil, err
	}
	return storage.Exchange(ctx, f.inner, key, value)
}

// GetAllKeys forwards enumeration when the inner medium supports it.
func (f *FlakyAdapter) GetAllKeys(ctx context.Context) ([]string, error) {
	if err := f.check("keys", ""); err != nil {
		return nil, err
	}
	return storage.GetAllKeys(ctx, f.inner)
}
