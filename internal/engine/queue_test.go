package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerQueue_EnqueueDequeue(t *testing.T) {
	q := newTriggerQueue()

	ok := q.Enqueue(Trigger{Kind: TriggerRetry})
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, TriggerRetry, got.Kind)

	_, ok = q.TryDequeue()
	assert.False(t, ok, "queue should be empty")
}

func TestTriggerQueue_FIFO(t *testing.T) {
	q := newTriggerQueue()
	kinds := []TriggerKind{TriggerScheduled, TriggerOnline, TriggerLocalChange, TriggerRetry}
	for _, k := range kinds {
		q.Enqueue(Trigger{Kind: k})
	}
	assert.Equal(t, 4, q.Len())

	for _, want := range kinds {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.Kind)
	}
}

func TestTriggerQueue_CloseRejectsAndWakes(t *testing.T) {
	q := newTriggerQueue()

	done := make(chan struct{})
	go func() {
		<-q.Wait()
		close(done)
	}()

	q.Close()
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Close")
	}
	assert.False(t, q.Enqueue(Trigger{Kind: TriggerScheduled}))
	assert.True(t, q.IsClosed())
}

func TestTriggerQueue_ConcurrentEnqueue(t *testing.T) {
	q := newTriggerQueue()
	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				q.Enqueue(Trigger{Kind: TriggerScheduled})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*perGoroutine, q.Len())
}

func TestTriggerKind_String(t *testing.T) {
	assert.Equal(t, "scheduled", TriggerScheduled.String())
	assert.Equal(t, "local_change", TriggerLocalChange.String())
	assert.Equal(t, "unknown", TriggerKind(0).String())
}
