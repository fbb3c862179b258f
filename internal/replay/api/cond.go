// Copyright 2025 The syncreplay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"sync"
	"time"

	"github.com/kolkov/syncreplay/internal/replay/record"
)

// ErrBusy is returned when an object is destroyed while in use.
var ErrBusy = errors.New("api: object in use")

// CondImpl is the underlying condition variable of a Cond.
type CondImpl interface {
	// Wait atomically unlocks l, suspends until signalled and relocks l.
	Wait(l sync.Locker)

	// WaitTimeout is Wait bounded by d. It reports false on timeout.
	WaitTimeout(l sync.Locker, d time.Duration) bool

	Signal()
	Broadcast()

	// Waiters returns the number of suspended waiters.
	Waiters() int
}

// chanCond is the default CondImpl. Each waiter parks on its own channel,
// which lets a wait time out.
type chanCond struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

func (c *chanCond) enqueue() chan struct{} {
	ch := make(chan struct{})
	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()
	return ch
}

// dequeue removes ch and reports whether it was still queued.
func (c *chanCond) dequeue(ch chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (c *chanCond) Wait(l sync.Locker) {
	ch := c.enqueue()
	l.Unlock()
	<-ch
	l.Lock()
}

func (c *chanCond) WaitTimeout(l sync.Locker, d time.Duration) bool {
	ch := c.enqueue()
	l.Unlock()
	defer l.Lock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		// A signal racing with the timeout wins.
		return !c.dequeue(ch)
	}
}

func (c *chanCond) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waiters) > 0 {
		close(c.waiters[0])
		c.waiters = c.waiters[1:]
	}
}

func (c *chanCond) Broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.waiters {
		close(w)
	}
	c.waiters = nil
}

func (c *chanCond) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Cond is a logged condition variable associated with the lock L.
//
// L is typically a *Mutex from the same Runtime. The lock operations Wait
// performs on L happen inside the logged wait and are not logged again.
type Cond struct {
	L sync.Locker

	rt  *Runtime
	key uint64
	c   CondImpl
}

// NewCond returns a logged Cond over l.
func (rt *Runtime) NewCond(l sync.Locker) *Cond {
	return rt.NewCondWith(l, &chanCond{})
}

// NewCondWith returns a logged Cond over l using impl.
func (rt *Runtime) NewCondWith(l sync.Locker, impl CondImpl) *Cond {
	return &Cond{L: l, rt: rt, key: rt.objectKey(), c: impl}
}

// Signal wakes one waiter.
func (c *Cond) Signal() {
	c.rt.call(record.OpCondSignal, c.key, func() int32 {
		c.c.Signal()
		return rcOK
	})
}

// Broadcast wakes all waiters.
func (c *Cond) Broadcast() {
	c.rt.call(record.OpCondBroadcast, c.key, func() int32 {
		c.c.Broadcast()
		return rcOK
	})
}

// Wait unlocks c.L, suspends until woken and relocks c.L.
func (c *Cond) Wait() {
	c.rt.call(record.OpCondWait, c.key, func() int32 {
		c.c.Wait(c.L)
		return rcOK
	})
}

// TimedWait is Wait bounded by d. It reports false if it timed out.
func (c *Cond) TimedWait(d time.Duration) bool {
	return c.rt.call(record.OpCondTimedWait, c.key, func() int32 {
		return boolRC(c.c.WaitTimeout(c.L, d), rcTimeout)
	}) == rcOK
}

// Destroy retires c. It fails with ErrBusy while goroutines wait on c.
func (c *Cond) Destroy() error {
	rc := c.rt.call(record.OpCondDestroy, c.key, func() int32 {
		return boolRC(c.c.Waiters() == 0, rcBusy)
	})
	if rc != rcOK {
		return ErrBusy
	}
	return nil
}
