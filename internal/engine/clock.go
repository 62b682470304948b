package engine

import (
	"sync/atomic"
	"time"
)

// Clock is the wall clock the scheduler reads and arms timers on.
//
// AfterFunc returns a stop function that disarms the timer and reports
// whether it was still pending. Tests substitute a manually advanced clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

type systemClock struct{}

// SystemClock returns the process wall clock.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Sequence numbers sync attempts.
//
// Every attempt is stamped with a strictly increasing number so log lines
// of one attempt can be correlated, independent of wall-clock time.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a sequence starting at 0.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next number and increments the sequence.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last number handed out without incrementing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
