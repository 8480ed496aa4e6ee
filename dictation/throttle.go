package dictation

import (
	"sync"
	"time"
)

// throttle coalesces rapid calls into at most one execution per interval,
// firing on the leading edge when idle and on the trailing edge otherwise.
// Only the most recent pending function survives coalescing; order is never
// inverted because a pending call always fires after the call that displaced
// its predecessor.
type throttle struct {
	mu       sync.Mutex
	interval time.Duration
	timer    *time.Timer
	pending  func()
	lastFire time.Time
}

func newThrottle(interval time.Duration) *throttle {
	return &throttle{interval: interval}
}

// Do runs fn immediately if the throttle is idle, otherwise stores it as the
// pending trailing call, replacing any previously pending one.
func (t *throttle) Do(fn func()) {
	t.mu.Lock()
	now := time.Now()
	if t.timer == nil && now.Sub(t.lastFire) >= t.interval {
		t.lastFire = now
		t.mu.Unlock()
		fn()
		return
	}
	t.pending = fn
	if t.timer == nil {
		wait := t.interval - now.Sub(t.lastFire)
		if wait < 0 {
			wait = 0
		}
		t.timer = time.AfterFunc(wait, t.fire)
	}
	t.mu.Unlock()
}

func (t *throttle) fire() {
	t.mu.Lock()
	fn := t.pending
	t.pending = nil
	t.timer = nil
	t.lastFire = time.Now()
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Flush runs the pending call now, if any, and clears the trailing timer.
func (t *throttle) Flush() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	fn := t.pending
	t.pending = nil
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Cancel drops the pending call without running it.
func (t *throttle) Cancel() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
	t.mu.Unlock()
}
