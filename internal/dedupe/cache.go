// ABOUTME: Thread-safe, size-bounded TTL throttle keyed by string.
// ABOUTME: Limits refresh requests to one per tab per window during focus flapping.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxKeys bounds the number of remembered keys.
const DefaultMaxKeys = 1024

type entry struct {
	at      time.Time
	element *list.Element
}

// Throttle remembers when each key last fired. Keys are kept in a list in
// firing order so the oldest can be evicted in O(1) when full.
type Throttle struct {
	mu      sync.Mutex
	fired   map[string]*entry
	order   *list.List // oldest at front
	window  time.Duration
	maxKeys int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a Throttle that lets each key fire once per window. A
// window of zero or less disables throttling.
func New(window time.Duration, maxKeys int) *Throttle {
	return newWithClock(window, maxKeys, time.Now)
}

func newWithClock(window time.Duration, maxKeys int, now func() time.Time) *Throttle {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	t := &Throttle{
		fired:   make(map[string]*entry),
		order:   list.New(),
		window:  window,
		maxKeys: maxKeys,
		now:     now,
		done:    make(chan struct{}),
	}
	if window > 0 {
		go t.sweepLoop()
	}
	return t
}

// Allow reports whether key may fire now and, if so, records that it did.
// Check and record happen under one lock so two callers never both win.
func (t *Throttle) Allow(key string) bool {
	if t.window <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if e, ok := t.fired[key]; ok && now.Sub(e.at) < t.window {
		return false
	}
	t.recordLocked(key, now)
	return true
}

// Forget clears key so its next Allow succeeds.
func (t *Throttle) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.fired[key]; ok {
		t.order.Remove(e.element)
		delete(t.fired, key)
	}
}

// Len returns the number of remembered keys.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.fired)
}

func (t *Throttle) recordLocked(key string, now time.Time) {
	if e, ok := t.fired[key]; ok {
		e.at = now
		t.order.MoveToBack(e.element)
		return
	}

	if len(t.fired) >= t.maxKeys {
		if front := t.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			t.order.Remove(front)
			delete(t.fired, oldest)
		}
	}

	t.fired[key] = &entry{at: now, element: t.order.PushBack(key)}
}

func (t *Throttle) sweepLoop() {
	interval := t.window
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-t.done:
			return
		}
	}
}

// sweep drops keys whose window has passed.
func (t *Throttle) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for key, e := range t.fired {
		if now.Sub(e.at) >= t.window {
			t.order.Remove(e.element)
			delete(t.fired, key)
		}
	}
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (t *Throttle) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		close(t.done)
		t.closed = true
	}
}
