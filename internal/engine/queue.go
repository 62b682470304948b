package engine

import (
	"sync"
	"time"
)

// TriggerKind distinguishes why a sync was requested.
type TriggerKind int

const (
	// TriggerScheduled is the regular sync timer firing.
	TriggerScheduled TriggerKind = iota + 1
	// TriggerRetry is the retry timer firing after a failed or offline attempt.
	TriggerRetry
	// TriggerOnline is the engine coming back online.
	TriggerOnline
	// TriggerLocalChange is a local write that wants to reach the remote.
	TriggerLocalChange
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerScheduled:
		return "scheduled"
	case TriggerRetry:
		return "retry"
	case TriggerOnline:
		return "online"
	case TriggerLocalChange:
		return "local_change"
	}
	return "unknown"
}

// Trigger is one request for a sync attempt.
type Trigger struct {
	Kind TriggerKind
	At   time.Time
}

// triggerQueue is a thread-safe FIFO queue of sync triggers.
//
// Timers fire on their own goroutines; they only enqueue. The Run loop (or a
// caller of ProcessPending) dequeues, so repositories are only ever touched
// from one goroutine.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type triggerQueue struct {
	mu       sync.Mutex
	triggers []Trigger
	closed   bool
	signal   chan struct{} // Signals trigger availability (buffered, size 1)
}

func newTriggerQueue() *triggerQueue {
	return &triggerQueue{
		triggers: make([]Trigger, 0, 8),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a trigger to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *triggerQueue) Enqueue(t Trigger) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.triggers = append(q.triggers, t)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front trigger without blocking.
// Returns (Trigger{}, false) if the queue is empty.
func (q *triggerQueue) TryDequeue() (Trigger, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.triggers) == 0 {
		return Trigger{}, false
	}

	t := q.triggers[0]
	if len(q.triggers) == 1 {
		q.triggers = q.triggers[:0]
	} else {
		q.triggers = q.triggers[1:]
	}

	return t, true
}

// Wait returns a channel that signals when triggers may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *triggerQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *triggerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.triggers)
}

// IsClosed reports whether Close has been called.
func (q *triggerQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more triggers will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *triggerQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
