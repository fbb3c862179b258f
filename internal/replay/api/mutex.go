// Copyright 2025 The syncreplay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/kolkov/syncreplay/internal/replay/record"
)

// TryLocker is a lock that can also be tried. *sync.Mutex implements it.
type TryLocker interface {
	sync.Locker
	TryLock() bool
}

// Mutex is a logged mutual exclusion lock.
type Mutex struct {
	rt  *Runtime
	key uint64
	mu  TryLocker
}

// NewMutex returns a logged Mutex over a sync.Mutex.
func (rt *Runtime) NewMutex() *Mutex {
	return rt.NewMutexWith(new(sync.Mutex))
}

// NewMutexWith returns a logged Mutex over impl.
func (rt *Runtime) NewMutexWith(impl TryLocker) *Mutex {
	return &Mutex{rt: rt, key: rt.objectKey(), mu: impl}
}

// Key returns the mutex's identity key.
func (m *Mutex) Key() uint64 { return m.key }

// Lock locks m.
func (m *Mutex) Lock() {
	m.rt.call(record.OpMutexLock, m.key, func() int32 {
		m.mu.Lock()
		return rcOK
	})
}

// TryLock tries to lock m and reports whether it succeeded.
func (m *Mutex) TryLock() bool {
	return m.rt.call(record.OpMutexTryLock, m.key, func() int32 {
		return boolRC(m.mu.TryLock(), rcBusy)
	}) == rcOK
}

// Unlock unlocks m.
func (m *Mutex) Unlock() {
	m.rt.call(record.OpMutexUnlock, m.key, func() int32 {
		m.mu.Unlock()
		return rcOK
	})
}

// spinLock is the default Spinlock implementation.
type spinLock struct {
	held atomic.Bool
}

func (s *spinLock) Lock() {
	for !s.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (s *spinLock) TryLock() bool { return s.held.CompareAndSwap(false, true) }

func (s *spinLock) Unlock() { s.held.Store(false) }

// Spinlock is a logged spin lock.
type Spinlock struct {
	rt  *Runtime
	key uint64
	mu  TryLocker
}

// NewSpinlock returns a logged Spinlock.
func (rt *Runtime) NewSpinlock() *Spinlock {
	return &Spinlock{rt: rt, key: rt.objectKey(), mu: &spinLock{}}
}

// Lock spins until s is locked.
func (s *Spinlock) Lock() {
	s.rt.call(record.OpSpinLock, s.key, func() int32 {
		s.mu.Lock()
		return rcOK
	})
}

// TryLock tries to lock s and reports whether it succeeded.
func (s *Spinlock) TryLock() bool {
	return s.rt.call(record.OpSpinTryLock, s.key, func() int32 {
		return boolRC(s.mu.TryLock(), rcBusy)
	}) == rcOK
}

// Unlock unlocks s.
func (s *Spinlock) Unlock() {
	s.rt.call(record.OpSpinUnlock, s.key, func() int32 {
		s.mu.Unlock()
		return rcOK
	})
}

// LowLevelLock is a logged lock over a single word, the building block
// other primitives use internally. Its operations always log code 0.
type LowLevelLock struct {
	rt   *Runtime
	key  uint64
	word atomic.Int32
}

// NewLowLevelLock returns an unlocked LowLevelLock.
func (rt *Runtime) NewLowLevelLock() *LowLevelLock {
	return &LowLevelLock{rt: rt, key: rt.objectKey()}
}

// Lock locks l.
func (l *LowLevelLock) Lock() {
	l.rt.call(record.OpLowLevelLock, l.key, func() int32 {
		for !l.word.CompareAndSwap(0, 1) {
			runtime.Gosched()
		}
		return rcOK
	})
}

// Unlock unlocks l.
func (l *LowLevelLock) Unlock() {
	l.rt.call(record.OpLowLevelUnlock, l.key, func() int32 {
		l.word.Store(0)
		return rcOK
	})
}

// LibcLock is the logged lock handed to LockConsumers. It is logged under
// its own operation tags so runtime-internal locking is told apart from
// program locking in a log.
type LibcLock struct {
	rt  *Runtime
	key uint64
	mu  sync.Mutex
}

// Lock locks l.
func (l *LibcLock) Lock() {
	l.rt.call(record.OpLibcLock, l.key, func() int32 {
		l.mu.Lock()
		return rcOK
	})
}

// TryLock tries to lock l and reports whether it succeeded.
func (l *LibcLock) TryLock() bool {
	return l.rt.call(record.OpLibcTryLock, l.key, func() int32 {
		return boolRC(l.mu.TryLock(), rcBusy)
	}) == rcOK
}

// Unlock unlocks l.
func (l *LibcLock) Unlock() {
	l.rt.call(record.OpLibcUnlock, l.key, func() int32 {
		l.mu.Unlock()
		return rcOK
	})
}

// LockFactory creates logged locks.
type LockFactory interface {
	NewLock() TryLocker
}

// LockConsumer is implemented by components, such as allocators, that take
// their internal locks from the runtime so that those locks are logged too.
type LockConsumer interface {
	SetLockFactory(f LockFactory)
}

// NewLock implements LockFactory.
func (rt *Runtime) NewLock() TryLocker {
	return &LibcLock{rt: rt, key: rt.objectKey()}
}

// AddLockConsumer registers c. If Init has already run, c receives the
// factory immediately.
func (rt *Runtime) AddLockConsumer(c LockConsumer) {
	rt.consumersMu.Lock()
	if !rt.injected {
		rt.consumers = append(rt.consumers, c)
		rt.consumersMu.Unlock()
		return
	}
	rt.consumersMu.Unlock()
	c.SetLockFactory(rt)
}

func (rt *Runtime) injectLocks() {
	rt.consumersMu.Lock()
	cs := rt.consumers
	rt.consumers = nil
	rt.injected = true
	rt.consumersMu.Unlock()
	for _, c := range cs {
		c.SetLockFactory(rt)
	}
}

var (
	_ TryLocker   = (*Mutex)(nil)
	_ TryLocker   = (*Spinlock)(nil)
	_ TryLocker   = (*LibcLock)(nil)
	_ LockFactory = (*Runtime)(nil)
)
