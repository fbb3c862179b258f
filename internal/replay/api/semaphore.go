// Copyright 2025 The syncreplay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"sync"
	"time"

	"github.com/kolkov/syncreplay/internal/replay/record"
)

// SemaphoreImpl is the underlying counting semaphore of a Semaphore.
type SemaphoreImpl interface {
	Post()
	Wait()
	TryWait() bool
	WaitTimeout(d time.Duration) bool
}

// semaphore is the default SemaphoreImpl. Post hands its unit directly to
// the longest waiting goroutine, if any.
type semaphore struct {
	mu      sync.Mutex
	count   int
	waiters []chan struct{}
}

func (s *semaphore) Post() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waiters) > 0 {
		close(s.waiters[0])
		s.waiters = s.waiters[1:]
		return
	}
	s.count++
}

// take decrements the count if possible, otherwise queues a waiter.
func (s *semaphore) take() (chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count > 0 {
		s.count--
		return nil, true
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	return ch, false
}

func (s *semaphore) Wait() {
	if ch, ok := s.take(); !ok {
		<-ch
	}
}

func (s *semaphore) TryWait() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count > 0 {
		s.count--
		return true
	}
	return false
}

func (s *semaphore) WaitTimeout(d time.Duration) bool {
	ch, ok := s.take()
	if ok {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return false
		}
	}
	// A Post handed us the unit as the timer fired.
	return true
}

// Semaphore is a logged counting semaphore.
type Semaphore struct {
	rt  *Runtime
	key uint64
	s   SemaphoreImpl
}

// NewSemaphore returns a logged Semaphore with initial count n.
func (rt *Runtime) NewSemaphore(n int) *Semaphore {
	return rt.NewSemaphoreWith(&semaphore{count: n})
}

// NewSemaphoreWith returns a logged Semaphore over impl.
func (rt *Runtime) NewSemaphoreWith(impl SemaphoreImpl) *Semaphore {
	return &Semaphore{rt: rt, key: rt.objectKey(), s: impl}
}

// Post increments the count, waking a waiter if there is one.
func (s *Semaphore) Post() {
	s.rt.call(record.OpSemPost, s.key, func() int32 {
		s.s.Post()
		return rcOK
	})
}

// Wait decrements the count, blocking while it is zero.
func (s *Semaphore) Wait() {
	s.rt.call(record.OpSemWait, s.key, func() int32 {
		s.s.Wait()
		return rcOK
	})
}

// TryWait decrements the count if it is positive and reports whether it
// did.
func (s *Semaphore) TryWait() bool {
	return s.rt.call(record.OpSemTryWait, s.key, func() int32 {
		return boolRC(s.s.TryWait(), rcAgain)
	}) == rcOK
}

// TimedWait is Wait bounded by d. It reports false if it timed out.
func (s *Semaphore) TimedWait(d time.Duration) bool {
	return s.rt.call(record.OpSemTimedWait, s.key, func() int32 {
		return boolRC(s.s.WaitTimeout(d), rcTimeout)
	}) == rcOK
}
