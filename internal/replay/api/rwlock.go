// Copyright 2025 The syncreplay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kolkov/syncreplay/internal/replay/record"
)

// RWLocker is the underlying lock of an RWLock. *sync.RWMutex implements
// it.
type RWLocker interface {
	Lock()
	Unlock()
	TryLock() bool
	RLock()
	RUnlock()
	TryRLock() bool
}

// timedPoll is the retry interval of timed lock attempts.
const timedPoll = 50 * time.Microsecond

// RWLock is a logged reader/writer lock. Like its pthread counterpart it
// has a single Unlock that releases whichever side the caller holds.
type RWLock struct {
	rt  *Runtime
	key uint64
	mu  RWLocker

	// writer is set while the write side is held.
	writer atomic.Bool
}

// NewRWLock returns a logged RWLock over a sync.RWMutex.
func (rt *Runtime) NewRWLock() *RWLock {
	return rt.NewRWLockWith(new(sync.RWMutex))
}

// NewRWLockWith returns a logged RWLock over impl.
func (rt *Runtime) NewRWLockWith(impl RWLocker) *RWLock {
	return &RWLock{rt: rt, key: rt.objectKey(), mu: impl}
}

// RLock locks l for reading.
func (l *RWLock) RLock() {
	l.rt.call(record.OpRWLockRLock, l.key, func() int32 {
		l.mu.RLock()
		return rcOK
	})
}

// Lock locks l for writing.
func (l *RWLock) Lock() {
	l.rt.call(record.OpRWLockLock, l.key, func() int32 {
		l.mu.Lock()
		l.writer.Store(true)
		return rcOK
	})
}

// TimedRLock tries to lock l for reading for up to d.
func (l *RWLock) TimedRLock(d time.Duration) bool {
	return l.rt.call(record.OpRWLockTimedRLock, l.key, func() int32 {
		return boolRC(pollTry(l.mu.TryRLock, d), rcTimeout)
	}) == rcOK
}

// TimedLock tries to lock l for writing for up to d.
func (l *RWLock) TimedLock(d time.Duration) bool {
	return l.rt.call(record.OpRWLockTimedLock, l.key, func() int32 {
		if !pollTry(l.mu.TryLock, d) {
			return rcTimeout
		}
		l.writer.Store(true)
		return rcOK
	}) == rcOK
}

// TryRLock tries to lock l for reading.
func (l *RWLock) TryRLock() bool {
	return l.rt.call(record.OpRWLockTryRLock, l.key, func() int32 {
		return boolRC(l.mu.TryRLock(), rcBusy)
	}) == rcOK
}

// TryLock tries to lock l for writing.
func (l *RWLock) TryLock() bool {
	return l.rt.call(record.OpRWLockTryLock, l.key, func() int32 {
		if !l.mu.TryLock() {
			return rcBusy
		}
		l.writer.Store(true)
		return rcOK
	}) == rcOK
}

// Unlock releases the write side if it is held, otherwise one read hold.
func (l *RWLock) Unlock() {
	l.rt.call(record.OpRWLockUnlock, l.key, func() int32 {
		if l.writer.CompareAndSwap(true, false) {
			l.mu.Unlock()
		} else {
			l.mu.RUnlock()
		}
		return rcOK
	})
}

// pollTry calls try until it succeeds or d has passed.
func pollTry(try func() bool, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if try() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(timedPoll)
	}
}
