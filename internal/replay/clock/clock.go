package clock

import (
	"math"
	"sync"
	"sync/atomic"
)

// Exhausted is the wait target used when a replaying thread has run out of
// log data. No clock value ever reaches it, so waiting on it means "wait
// until the collaborator supplies more data".
const Exhausted = math.MaxUint64

// Clock is the narrow interface every component uses to reach the shared
// logical clock.
type Clock interface {
	// FetchAndIncrement atomically adds one and returns the previous value.
	FetchAndIncrement() uint64

	// Load returns the current value.
	Load() uint64

	// Increment atomically adds one.
	Increment()
}

// Waiter is implemented by clocks that can suspend the caller until the
// clock value is at least target. WaitAtLeast never returns while the clock
// is below target.
type Waiter interface {
	WaitAtLeast(target uint64)
}

// Counter is an in-process Clock.
//
// Advancing the clock is a single atomic add. Waiters park on a condition
// variable that is only signalled when at least one waiter is registered, so
// the uncontended recording path never touches the mutex.
//
// Thread Safety: all methods are safe for concurrent use.
type Counter struct {
	value   atomic.Uint64
	waiters atomic.Int32

	mu   sync.Mutex
	cond *sync.Cond
}

// NewCounter creates a Counter starting at 0.
func NewCounter() *Counter {
	return NewCounterAt(0)
}

// NewCounterAt creates a Counter starting at start. Used by tests and by
// replays that resume from a known clock position.
func NewCounterAt(start uint64) *Counter {
	c := &Counter{}
	c.cond = sync.NewCond(&c.mu)
	c.value.Store(start)
	return c
}

// FetchAndIncrement implements Clock.
func (c *Counter) FetchAndIncrement() uint64 {
	old := c.value.Add(1) - 1
	c.wake()
	return old
}

// Load implements Clock.
func (c *Counter) Load() uint64 {
	return c.value.Load()
}

// Increment implements Clock.
func (c *Counter) Increment() {
	c.value.Add(1)
	c.wake()
}

// Store sets the clock to v. It is not part of Clock: only tests and the
// collaborator reset the clock.
func (c *Counter) Store(v uint64) {
	c.value.Store(v)
	c.wake()
}

// WaitAtLeast implements Waiter.
func (c *Counter) WaitAtLeast(target uint64) {
	if c.value.Load() >= target {
		return
	}

	c.mu.Lock()
	c.waiters.Add(1)
	for c.value.Load() < target {
		c.cond.Wait()
	}
	c.waiters.Add(-1)
	c.mu.Unlock()
}

// wake releases parked waiters so they can re-check their targets.
func (c *Counter) wake() {
	if c.waiters.Load() == 0 {
		return
	}
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}
