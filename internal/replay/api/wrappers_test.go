// Copyright 2025 The syncreplay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/syncreplay/internal/replay/logdb"
	"github.com/kolkov/syncreplay/internal/replay/mode"
	"github.com/kolkov/syncreplay/internal/replay/record"
)

const short = time.Millisecond

func TestWrapperRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		body func(rt *Runtime) []bool
		want []bool
	}{
		{
			name: "spinlock",
			body: func(rt *Runtime) []bool {
				s := rt.NewSpinlock()
				s.Lock()
				got := []bool{s.TryLock()}
				s.Unlock()
				got = append(got, s.TryLock())
				s.Unlock()
				return got
			},
			want: []bool{false, true},
		},
		{
			name: "rwlock",
			body: func(rt *Runtime) []bool {
				l := rt.NewRWLock()
				l.RLock()
				got := []bool{l.TryLock(), l.TryRLock()}
				l.Unlock()
				l.Unlock()
				got = append(got, l.TimedLock(short), l.TimedRLock(short))
				l.Unlock()
				got = append(got, l.TryLock())
				l.Unlock()
				return got
			},
			want: []bool{false, true, true, false, true},
		},
		{
			name: "semaphore",
			body: func(rt *Runtime) []bool {
				s := rt.NewSemaphore(1)
				got := []bool{s.TryWait(), s.TryWait(), s.TimedWait(short)}
				s.Post()
				got = append(got, s.TimedWait(short))
				s.Post()
				s.Wait()
				return got
			},
			want: []bool{true, false, false, true},
		},
		{
			name: "barrier",
			body: func(rt *Runtime) []bool {
				b := rt.NewBarrier(1)
				return []bool{b.Wait(), b.Wait(), b.Destroy() == nil}
			},
			want: []bool{true, true, true},
		},
		{
			name: "cond",
			body: func(rt *Runtime) []bool {
				m := rt.NewMutex()
				c := rt.NewCond(m)
				m.Lock()
				got := []bool{c.TimedWait(short)}
				c.Signal()
				c.Broadcast()
				m.Unlock()
				return append(got, c.Destroy() == nil)
			},
			want: []bool{false, true},
		},
		{
			name: "low level lock",
			body: func(rt *Runtime) []bool {
				l := rt.NewLowLevelLock()
				l.Lock()
				l.Unlock()
				l.Lock()
				l.Unlock()
				return nil
			},
		},
		{
			name: "libc lock",
			body: func(rt *Runtime) []bool {
				l := rt.NewLock()
				l.Lock()
				got := []bool{l.TryLock()}
				l.Unlock()
				got = append(got, l.TryLock())
				l.Unlock()
				return got
			},
			want: []bool{false, true},
		},
		{
			name: "timed wait thread",
			body: func(rt *Runtime) []bool {
				h := rt.Spawn(func() {})
				return []bool{rt.TimedWaitThread(h, time.Minute)}
			},
			want: []bool{true},
		},
	}

	for _, f := range formats {
		for _, tt := range tests {
			t.Run(f.String()+"/"+tt.name, func(t *testing.T) {
				recorded, replayed := roundTrip(t, f, tt.body)
				assert.Equal(t, tt.want, recorded)
				assert.Equal(t, recorded, replayed)
			})
		}
	}
}

func TestMutexAndAtomicScenario(t *testing.T) {
	type result struct {
		hits  int64
		order []string
	}
	const iterations = 50

	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			recorded, replayed := roundTrip(t, f, func(rt *Runtime) result {
				m := rt.NewMutex()
				var (
					hits  int64
					order []string
				)
				worker := func(name string) func() {
					return func() {
						for i := 0; i < iterations; i++ {
							m.Lock()
							order = append(order, name)
							AddAndFetch(rt, &hits, 1)
							m.Unlock()
						}
					}
				}
				a := rt.Spawn(worker("a"))
				b := rt.Spawn(worker("b"))
				rt.WaitThread(a)
				rt.WaitThread(b)
				return result{hits: Load(rt, &hits), order: order}
			})

			assert.Equal(t, int64(2*iterations), recorded.hits)
			require.Len(t, recorded.order, 2*iterations)
			assert.Equal(t, recorded, replayed, "replay must reproduce the lock order")
		})
	}
}

func TestCondRoundTrip(t *testing.T) {
	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			recorded, replayed := roundTrip(t, f, func(rt *Runtime) int {
				m := rt.NewMutex()
				c := rt.NewCond(m)
				var ready bool
				var value, got int

				h := rt.Spawn(func() {
					m.Lock()
					for !ready {
						c.Wait()
					}
					got = value
					m.Unlock()
				})
				m.Lock()
				ready, value = true, 42
				c.Broadcast()
				m.Unlock()
				rt.WaitThread(h)
				return got
			})
			assert.Equal(t, 42, recorded)
			assert.Equal(t, recorded, replayed)
		})
	}
}

func TestBarrierRoundTrip(t *testing.T) {
	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			recorded, replayed := roundTrip(t, f, func(rt *Runtime) [2]bool {
				b := rt.NewBarrier(2)
				var child bool
				h := rt.Spawn(func() { child = b.Wait() })
				root := b.Wait()
				rt.WaitThread(h)
				return [2]bool{root, child}
			})
			assert.True(t, recorded[0] != recorded[1], "exactly one waiter is serial")
			assert.Equal(t, recorded, replayed)
		})
	}
}

func TestSemaphoreRoundTrip(t *testing.T) {
	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			recorded, replayed := roundTrip(t, f, func(rt *Runtime) []int {
				s := rt.NewSemaphore(0)
				m := rt.NewMutex()
				var seen []int
				h := rt.Spawn(func() {
					for i := 0; i < 3; i++ {
						s.Wait()
						m.Lock()
						seen = append(seen, i)
						m.Unlock()
					}
				})
				for i := 0; i < 3; i++ {
					s.Post()
				}
				rt.WaitThread(h)
				return seen
			})
			assert.Equal(t, []int{0, 1, 2}, recorded)
			assert.Equal(t, recorded, replayed)
		})
	}
}

func TestOnceRoundTrip(t *testing.T) {
	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			recorded, replayed := roundTrip(t, f, func(rt *Runtime) int {
				var count int
				outer := rt.NewOnce()
				inner := rt.NewOnce()
				m := rt.NewMutex()

				outer.Do(func() {
					count++
					m.Lock()
					m.Unlock()
					inner.Do(func() { count += 10 })
				})
				outer.Do(func() { count += 100 })
				inner.Do(func() { count += 1000 })

				h := rt.Spawn(func() { outer.Do(func() { count += 10000 }) })
				rt.WaitThread(h)
				return count
			})
			assert.Equal(t, 11, recorded)
			assert.Equal(t, recorded, replayed)
		})
	}
}

func TestOnceBodyIsLogged(t *testing.T) {
	rt, _ := start(t, testConfig(mode.Recording, record.Verbose, ""), logdb.NewMemStore())
	root, _ := rt.Threads().Current()
	m := rt.NewMutex()
	o := rt.NewOnce()
	o.Do(func() {
		assert.False(t, root.Arena().Ignored())
		m.Lock()
		m.Unlock()
	})
	// Once enter/exit plus the two mutex calls.
	assert.Equal(t, 6*record.VerboseSize, root.Arena().Cursor())
	require.NoError(t, rt.Fini())
}

func TestSpawnIDs(t *testing.T) {
	rt, _ := start(t, testConfig(mode.Recording, record.Compact, ""), logdb.NewMemStore())

	var grandchild string
	h1 := rt.Spawn(func() {
		g := rt.Spawn(func() {})
		grandchild = g.ID()
		rt.WaitThread(g)
	})
	h2 := rt.Spawn(func() {})
	rt.WaitThread(h1)
	rt.WaitThread(h2)

	assert.Equal(t, "0.1", h1.ID())
	assert.Equal(t, "0.2", h2.ID())
	assert.Equal(t, "0.1.1", grandchild)
	select {
	case <-h1.Done():
	default:
		t.Fatal("Done not closed after WaitThread")
	}
	assert.Equal(t, 1, rt.Threads().Len(), "spawned threads are finished on exit")
	require.NoError(t, rt.Fini())
}

func TestDestroyBusy(t *testing.T) {
	rt, _ := start(t, testConfig(mode.Off, record.Compact, ""), logdb.NewMemStore())

	t.Run("cond", func(t *testing.T) {
		m := rt.NewMutex()
		impl := &chanCond{}
		c := rt.NewCondWith(m, impl)
		done := make(chan struct{})
		go func() {
			defer close(done)
			m.Lock()
			c.Wait()
			m.Unlock()
		}()
		require.Eventually(t, func() bool { return impl.Waiters() == 1 }, time.Second, time.Millisecond)
		assert.ErrorIs(t, c.Destroy(), ErrBusy)
		m.Lock()
		c.Signal()
		m.Unlock()
		<-done
		assert.NoError(t, c.Destroy())
	})

	t.Run("barrier", func(t *testing.T) {
		impl := newBarrier(2)
		b := rt.NewBarrierWith(impl)
		done := make(chan bool)
		go func() { done <- b.Wait() }()
		require.Eventually(t, func() bool { return impl.Waiters() == 1 }, time.Second, time.Millisecond)
		assert.ErrorIs(t, b.Destroy(), ErrBusy)
		serial := b.Wait()
		assert.NotEqual(t, serial, <-done)
		assert.NoError(t, b.Destroy())
	})
}

func TestCondTimeoutRace(t *testing.T) {
	var c chanCond
	ch := c.enqueue()
	c.Signal()
	<-ch
	assert.False(t, c.dequeue(ch), "a signalled waiter is no longer queued")
	assert.Zero(t, c.Waiters())
}

func TestSemaphoreHandoff(t *testing.T) {
	s := &semaphore{}
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.waiters) == 1
	}, time.Second, time.Millisecond)

	s.Post()
	<-done
	assert.False(t, s.TryWait(), "the posted unit went to the waiter")
	assert.False(t, s.WaitTimeout(short))
}

func TestPollTry(t *testing.T) {
	calls := 0
	assert.True(t, pollTry(func() bool { calls++; return calls == 3 }, time.Second))
	assert.Equal(t, 3, calls)
	assert.False(t, pollTry(func() bool { return false }, short))
}
