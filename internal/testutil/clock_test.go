package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock_NowDoesNotMove(t *testing.T) {
	clock := NewFakeClock(epoch)
	assert.Equal(t, epoch, clock.Now())
	assert.Equal(t, epoch, clock.Now())
}

func TestFakeClock_AdvanceFiresDueTimersInOrder(t *testing.T) {
	clock := NewFakeClock(epoch)
	var fired []string

	clock.AfterFunc(2*time.Minute, func() { fired = append(fired, "b") })
	clock.AfterFunc(time.Minute, func() { fired = append(fired, "a") })
	clock.AfterFunc(time.Hour, func() { fired = append(fired, "late") })

	clock.Advance(5 * time.Minute)

	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, epoch.Add(5*time.Minute), clock.Now())
	assert.Equal(t, 1, clock.Pending())
	assert.Equal(t, epoch.Add(time.Hour), clock.NextDue())
}

func TestFakeClock_TimerSeesItsDueTime(t *testing.T) {
	clock := NewFakeClock(epoch)
	var at time.Time
	clock.AfterFunc(time.Minute, func() { at = clock.Now() })

	clock.Advance(time.Hour)

	assert.Equal(t, epoch.Add(time.Minute), at)
}

func TestFakeClock_Stop(t *testing.T) {
	clock := NewFakeClock(epoch)
	fired := false
	stop := clock.AfterFunc(time.Minute, func() { fired = true })

	assert.True(t, stop())
	assert.False(t, stop(), "second stop reports nothing pending")
	clock.Advance(time.Hour)

	assert.False(t, fired)
	assert.Zero(t, clock.Pending())
}

func TestFakeClock_RescheduleWithinWindow(t *testing.T) {
	clock := NewFakeClock(epoch)
	count := 0
	var tick func()
	tick = func() {
		count++
		clock.AfterFunc(time.Minute, tick)
	}
	clock.AfterFunc(time.Minute, tick)

	clock.Advance(3 * time.Minute)

	assert.Equal(t, 3, count)
	assert.Equal(t, 1, clock.Pending())
}

func TestFakeClock_SetDoesNotFire(t *testing.T) {
	clock := NewFakeClock(epoch)
	fired := false
	clock.AfterFunc(time.Minute, func() { fired = true })

	clock.Set(epoch.Add(time.Hour))

	assert.False(t, fired)
	assert.Equal(t, epoch.Add(time.Hour), clock.Now())
}
