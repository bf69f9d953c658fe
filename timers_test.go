package qcache

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerSetAfter(t *testing.T) {
	t.Parallel()

	ts := newTimerSet()
	defer ts.StopAll()

	var fired int32
	ts.After("retention:k1", 2*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	assert.True(t, ts.Active("retention:k1"))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, 100*time.Millisecond, time.Millisecond)
}

func TestTimerSetCancelPreventsFire(t *testing.T) {
	t.Parallel()

	ts := newTimerSet()
	defer ts.StopAll()

	var fired int32
	ts.After("retention:k1", 5*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	assert.True(t, ts.Cancel("retention:k1"))
	assert.False(t, ts.Active("retention:k1"))

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestTimerSetReplaceResetsSchedule(t *testing.T) {
	t.Parallel()

	ts := newTimerSet()
	defer ts.StopAll()

	var fires int32
	ts.After("k", time.Millisecond, func() { atomic.AddInt32(&fires, 1) })
	// Replace before it fires; this should cancel the first schedule.
	ts.After("k", 20*time.Millisecond, func() { atomic.AddInt32(&fires, 1) })

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fires), "first schedule should have been replaced")

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fires) == 1
	}, 100*time.Millisecond, time.Millisecond)
}

func TestTimerSetEveryTicks(t *testing.T) {
	t.Parallel()

	ts := newTimerSet()
	defer ts.StopAll()

	var ticks int32
	ts.Every("interval:k1", 2*time.Millisecond, func() {
		atomic.AddInt32(&ticks, 1)
	})

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&ticks) >= 3
	}, 100*time.Millisecond, time.Millisecond)

	ts.Cancel("interval:k1")
	n := atomic.LoadInt32(&ticks)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, atomic.LoadInt32(&ticks), "ticker should stop after cancel")
}

func TestTimerSetMultipleIndependentIDs(t *testing.T) {
	t.Parallel()

	ts := newTimerSet()
	defer ts.StopAll()

	done := make(chan string, 2)
	ts.After("first", 2*time.Millisecond, func() { done <- "first" })
	ts.After("second", 4*time.Millisecond, func() { done <- "second" })

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-done:
			seen[id] = true
		case <-time.After(200 * time.Millisecond):
			t.Fatal("timed out waiting for both timers")
		}
	}
	assert.True(t, seen["first"])
	assert.True(t, seen["second"])
}

func TestTimerSetStopAllCancelsEverything(t *testing.T) {
	t.Parallel()

	ts := newTimerSet()
	var fired int32
	ts.After("a", time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	ts.Every("b", time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	ts.StopAll()

	assert.False(t, ts.Active("a"))
	assert.False(t, ts.Active("b"))
}
