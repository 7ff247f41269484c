// ABOUTME: Tests for the refresh throttle.
// ABOUTME: Uses a fake clock to check windows, eviction, sweeping, and concurrency.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newThrottle(window time.Duration, maxKeys int) (*Throttle, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return newWithClock(window, maxKeys, clock.Now), clock
}

func TestThrottle_AllowOncePerWindow(t *testing.T) {
	th, clock := newThrottle(2*time.Second, 10)
	defer th.Close()

	assert.True(t, th.Allow("tab-1"))
	assert.False(t, th.Allow("tab-1"), "second fire inside window")
	assert.True(t, th.Allow("tab-2"), "keys are independent")

	clock.Advance(2 * time.Second)
	assert.True(t, th.Allow("tab-1"), "window elapsed")
}

func TestThrottle_ZeroWindowDisables(t *testing.T) {
	th := New(0, 10)
	defer th.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, th.Allow("tab-1"))
	}
	assert.Equal(t, 0, th.Len())
}

func TestThrottle_Forget(t *testing.T) {
	th, _ := newThrottle(time.Minute, 10)
	defer th.Close()

	assert.True(t, th.Allow("tab-1"))
	th.Forget("tab-1")
	assert.True(t, th.Allow("tab-1"))
	th.Forget("never-seen")
}

func TestThrottle_EvictsOldest(t *testing.T) {
	th, clock := newThrottle(time.Minute, 3)
	defer th.Close()

	for i := 1; i <= 3; i++ {
		assert.True(t, th.Allow(fmt.Sprintf("tab-%d", i)))
		clock.Advance(time.Millisecond)
	}
	assert.True(t, th.Allow("tab-4"))
	assert.Equal(t, 3, th.Len())

	// tab-1 was evicted, so it may fire again immediately.
	assert.True(t, th.Allow("tab-1"), "oldest key should be evicted")
	assert.False(t, th.Allow("tab-4"))
}

func TestThrottle_Sweep(t *testing.T) {
	th, clock := newThrottle(time.Second, 10)
	defer th.Close()

	th.Allow("tab-1")
	th.Allow("tab-2")
	clock.Advance(500 * time.Millisecond)
	th.Allow("tab-3")
	clock.Advance(600 * time.Millisecond)

	th.sweep()
	assert.Equal(t, 1, th.Len(), "only tab-3 is still inside its window")
}

func TestThrottle_ConcurrentSingleWinner(t *testing.T) {
	th, _ := newThrottle(time.Minute, 10)
	defer th.Close()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if th.Allow("tab-1") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestThrottle_Close(t *testing.T) {
	th := New(time.Second, 10)
	th.Close()
	th.Close()
}
