package testutil

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a manually advanced wall clock for scheduler tests.
//
// Timers armed with AfterFunc fire synchronously inside Advance, in due
// order, on the goroutine calling Advance. This makes auto-sync scheduling
// fully deterministic: nothing fires until the test moves time forward.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
// Timer callbacks run without the mutex held, so they may call back into
// the clock.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	id  int
	at  time.Time
	fn  func()
	off bool
}

// NewFakeClock creates a clock reading start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc arms fn to run once the clock has advanced by d.
//
// The returned stop function disarms the timer and reports whether it was
// still pending, matching time.Timer.Stop.
func (c *FakeClock) AfterFunc(d time.Duration, fn func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{id: c.seq, at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.off {
			return false
		}
		t.off = true
		c.timers = slices.DeleteFunc(c.timers, func(x *fakeTimer) bool { return x == t })
		return true
	}
}

// Advance moves the clock forward by d, firing every timer that falls due.
//
// Timers armed by a firing callback are considered too, so a callback that
// reschedules within the advanced window fires again.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.off = true
		c.timers = slices.DeleteFunc(c.timers, func(x *fakeTimer) bool { return x == next })
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()

		next.fn()
	}
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeTimer {
	var best *fakeTimer
	for _, t := range c.timers {
		if t.at.After(target) {
			continue
		}
		if best == nil || t.at.Before(best.at) || (t.at.Equal(best.at) && t.id < best.id) {
			best = t
		}
	}
	return best
}

// Set jumps the clock to t without firing timers.
//
// Used to simulate time elapsing while the process was not running.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Pending returns the number of armed timers.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// NextDue returns when the earliest armed timer fires, or the zero time.
func (c *FakeClock) NextDue() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	var due time.Time
	for _, t := range c.timers {
		if due.IsZero() || t.at.Before(due) {
			due = t.at
		}
	}
	return due
}
