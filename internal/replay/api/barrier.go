// Copyright 2025 The syncreplay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"sync"

	"github.com/kolkov/syncreplay/internal/replay/record"
)

// BarrierImpl is the underlying barrier of a Barrier.
type BarrierImpl interface {
	// Wait blocks until the barrier's party count has arrived. It returns
	// true for exactly one of the waiters of each round.
	Wait() bool

	// Waiters returns the number of goroutines blocked in Wait.
	Waiters() int
}

// barrier is the default BarrierImpl, a reusable cyclic barrier.
type barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	arrived int
	round   uint64
}

func newBarrier(parties int) *barrier {
	b := &barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) Wait() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	round := b.round
	b.arrived++
	if b.arrived == b.parties {
		b.arrived = 0
		b.round++
		b.cond.Broadcast()
		return true
	}
	for round == b.round {
		b.cond.Wait()
	}
	return false
}

func (b *barrier) Waiters() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}

// Barrier is a logged barrier for a fixed number of parties.
type Barrier struct {
	rt  *Runtime
	key uint64
	b   BarrierImpl
}

// NewBarrier returns a logged Barrier for parties goroutines. It panics if
// parties is not positive.
func (rt *Runtime) NewBarrier(parties int) *Barrier {
	if parties <= 0 {
		panic("api: barrier needs at least one party")
	}
	return rt.NewBarrierWith(newBarrier(parties))
}

// NewBarrierWith returns a logged Barrier over impl.
func (rt *Runtime) NewBarrierWith(impl BarrierImpl) *Barrier {
	return &Barrier{rt: rt, key: rt.objectKey(), b: impl}
}

// Wait blocks until all parties have called Wait. It reports true to
// exactly one caller per round.
func (b *Barrier) Wait() bool {
	return b.rt.call(record.OpBarrierWait, b.key, func() int32 {
		if b.b.Wait() {
			return rcSerial
		}
		return rcOK
	}) == rcSerial
}

// Destroy retires b. It fails with ErrBusy while goroutines wait on b.
func (b *Barrier) Destroy() error {
	rc := b.rt.call(record.OpBarrierDestroy, b.key, func() int32 {
		return boolRC(b.b.Waiters() == 0, rcBusy)
	})
	if rc != rcOK {
		return ErrBusy
	}
	return nil
}
