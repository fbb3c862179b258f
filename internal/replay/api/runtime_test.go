// Copyright 2025 The syncreplay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kolkov/syncreplay/internal/replay/config"
	"github.com/kolkov/syncreplay/internal/replay/diag"
	"github.com/kolkov/syncreplay/internal/replay/host"
	"github.com/kolkov/syncreplay/internal/replay/logdb"
	"github.com/kolkov/syncreplay/internal/replay/mode"
	"github.com/kolkov/syncreplay/internal/replay/record"
)

var formats = []record.Format{record.Compact, record.Verbose}

func testConfig(m mode.Mode, f record.Format, recording string) config.Config {
	cfg := config.Default()
	cfg.Mode = m.String()
	cfg.Format = f.String()
	cfg.StoreKind = "memory"
	cfg.LogSize = 256
	cfg.RecordingID = recording
	return cfg
}

// start initializes a Runtime on the calling goroutine, which becomes
// thread "0".
func start(t *testing.T, cfg config.Config, store logdb.Store, opts ...Option) (*Runtime, *host.Local) {
	t.Helper()
	h, err := host.NewLocal(cfg, store)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	rt := New(h, cfg, opts...)
	require.NoError(t, rt.Init())
	return rt, h
}

// roundTrip runs body while recording and again while replaying the
// recording, returning both results.
func roundTrip[R any](t *testing.T, f record.Format, body func(rt *Runtime) R) (recorded, replayed R) {
	t.Helper()
	store := logdb.NewMemStore()

	rt, h := start(t, testConfig(mode.Recording, f, ""), store)
	require.Equal(t, mode.Recording, rt.Mode())
	recorded = body(rt)
	require.NoError(t, rt.Fini())

	rt, _ = start(t, testConfig(mode.Replaying, f, h.Recording()), store)
	require.Equal(t, mode.Replaying, rt.Mode())
	replayed = body(rt)
	require.NoError(t, rt.Fini())
	return recorded, replayed
}

// exitCodes captures diag.Fatal exit codes for the duration of a test.
func exitCodes(t *testing.T) func() []int {
	t.Helper()
	var (
		mu    sync.Mutex
		codes []int
	)
	restore := diag.SetExitHook(func(code int) {
		mu.Lock()
		codes = append(codes, code)
		mu.Unlock()
	})
	t.Cleanup(restore)
	return func() []int {
		mu.Lock()
		defer mu.Unlock()
		return append([]int(nil), codes...)
	}
}

func TestInitOff(t *testing.T) {
	rt, _ := start(t, testConfig(mode.Off, record.Compact, ""), logdb.NewMemStore())
	assert.Equal(t, mode.Off, rt.Mode())
	assert.Nil(t, rt.Clock())
	assert.Equal(t, 0, rt.Threads().Len())

	m := rt.NewMutex()
	assert.Zero(t, m.Key())
	m.Lock()
	assert.False(t, m.TryLock())
	m.Unlock()

	var n int64
	assert.Equal(t, int64(3), AddAndFetch(rt, &n, 3))

	h := rt.Spawn(func() {})
	assert.Empty(t, h.ID())
	rt.WaitThread(h)
	assert.NoError(t, rt.Fini())
}

func TestInitRecording(t *testing.T) {
	rt, h := start(t, testConfig(mode.Recording, record.Compact, ""), logdb.NewMemStore())
	require.NotNil(t, rt.Clock())

	root, ok := rt.Threads().Current()
	require.True(t, ok)
	assert.Equal(t, "0", root.ID)
	assert.False(t, root.Arena().Ignored(), "ignore flag must be cleared after InitProcess")

	rec, rep := h.Hooks()
	assert.NotNil(t, rec)
	assert.NotNil(t, rep)
	hm, err := h.QueryMode()
	require.NoError(t, err)
	assert.Equal(t, mode.Recording, hm)

	// Init runs once.
	require.NoError(t, rt.Init())
	assert.Equal(t, 1, rt.Threads().Len())
	require.NoError(t, rt.Fini())
	assert.Equal(t, 0, rt.Threads().Len())
}

func TestFiniBeforeInit(t *testing.T) {
	cfg := testConfig(mode.Off, record.Compact, "")
	h, err := host.NewLocal(cfg, logdb.NewMemStore())
	require.NoError(t, err)
	assert.ErrorIs(t, New(h, cfg).Fini(), ErrNotInitialized)
}

type failingHost struct {
	host.Collaborator
}

func (failingHost) QueryMode() (mode.Mode, error) {
	return mode.Off, assert.AnError
}

func TestInitFailureIsFatal(t *testing.T) {
	codes := exitCodes(t)
	rt := New(failingHost{}, testConfig(mode.Recording, record.Compact, ""))
	err := rt.Init()
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []int{diag.ExitSetup}, codes())
	// The first result sticks.
	assert.ErrorIs(t, rt.Init(), assert.AnError)
	assert.Len(t, codes(), 1)
}

func TestRecordHooks(t *testing.T) {
	rt, h := start(t, testConfig(mode.Recording, record.Verbose, ""), logdb.NewMemStore())
	rec, _ := h.Hooks()
	require.NoError(t, rec(0, record.OpMutexLock.Enter(), 1, true))
	root, _ := rt.Threads().Current()
	assert.True(t, root.Arena().Ignored())
	require.NoError(t, rec(0, record.OpMutexLock.Exit(), 1, false))
	assert.False(t, root.Arena().Ignored())
	assert.Equal(t, 2*record.VerboseSize, root.Arena().Cursor())
	require.NoError(t, rt.Fini())
}

func TestReplayReturnsRecordedCodes(t *testing.T) {
	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			store := logdb.NewMemStore()

			rt, h := start(t, testConfig(mode.Recording, f, ""), store)
			m := rt.NewMutex()
			m.Lock()
			require.False(t, m.TryLock())
			m.Unlock()
			require.True(t, m.TryLock())
			m.Unlock()
			require.NoError(t, rt.Fini())

			rt, _ = start(t, testConfig(mode.Replaying, f, h.Recording()), store)
			impl := &countingLock{}
			m = rt.NewMutexWith(impl)
			m.Lock()
			assert.False(t, m.TryLock())
			m.Unlock()
			assert.True(t, m.TryLock())
			m.Unlock()
			require.NoError(t, rt.Fini())

			assert.Zero(t, impl.calls, "replay must not run the underlying lock")
		})
	}
}

type countingLock struct {
	calls int
}

func (l *countingLock) Lock()         { l.calls++ }
func (l *countingLock) Unlock()       { l.calls++ }
func (l *countingLock) TryLock() bool { l.calls++; return true }

func TestReplayMismatch(t *testing.T) {
	codes := exitCodes(t)
	store := logdb.NewMemStore()

	rt, h := start(t, testConfig(mode.Recording, record.Verbose, ""), store)
	m := rt.NewMutex()
	m.Lock()
	m.Unlock()
	require.NoError(t, rt.Fini())

	var report bytes.Buffer
	rt, _ = start(t, testConfig(mode.Replaying, record.Verbose, h.Recording()), store, WithReportWriter(&report))
	m = rt.NewMutex()
	assert.True(t, m.TryLock(), "a mismatched call falls back to the real lock")
	m.Unlock()

	assert.Equal(t, []int{diag.ExitMismatch}, codes())
	assert.Contains(t, report.String(), "REPLAY MISMATCH in thread 0")
	assert.Contains(t, report.String(), "mutex_lock")
	assert.Contains(t, report.String(), "mutex_trylock")

	root, _ := rt.Threads().Current()
	assert.True(t, root.Detached())
	require.NoError(t, rt.Fini())
}

func TestReplayExhausted(t *testing.T) {
	for _, failFast := range []bool{false, true} {
		name := "continue"
		if failFast {
			name = "fatal"
		}
		t.Run(name, func(t *testing.T) {
			codes := exitCodes(t)
			store := logdb.NewMemStore()

			rt, h := start(t, testConfig(mode.Recording, record.Compact, ""), store)
			m := rt.NewMutex()
			m.Lock()
			m.Unlock()
			require.NoError(t, rt.Fini())

			cfg := testConfig(mode.Replaying, record.Compact, h.Recording())
			cfg.FailOnExhausted = failFast
			rt, _ = start(t, cfg, store)
			m = rt.NewMutex()
			m.Lock()
			m.Unlock()

			// Past the end of the log the real lock is used.
			m.Lock()
			assert.False(t, m.TryLock())
			m.Unlock()

			root, _ := rt.Threads().Current()
			assert.True(t, root.Detached())
			if failFast {
				assert.Equal(t, []int{diag.ExitLog}, codes())
			} else {
				assert.Empty(t, codes())
			}
			require.NoError(t, rt.Fini())
		})
	}
}

// forkBody locks before and after a fork point and reports the TryLock
// results seen after it.
func forkBody(rt *Runtime, m *Mutex) []bool {
	m.Lock()
	m.Unlock()
	rt.AfterFork()
	m.Lock()
	got := []bool{m.TryLock()}
	m.Unlock()
	rt.AfterFork()
	got = append(got, m.TryLock())
	m.Unlock()
	return got
}

func TestAfterForkRoundTrip(t *testing.T) {
	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			codes := exitCodes(t)
			store := logdb.NewMemStore()

			rt, h := start(t, testConfig(mode.Recording, f, ""), store)
			recorded := forkBody(rt, rt.NewMutex())
			assert.Equal(t, mode.Recording, rt.Mode())
			require.NoError(t, rt.Fini())

			segs, err := store.Segments(context.Background(), h.Recording(), "0")
			require.NoError(t, err)
			assert.Len(t, segs, 3, "one segment per fork plus the tail")

			rt, _ = start(t, testConfig(mode.Replaying, f, h.Recording()), store)
			impl := &countingLock{}
			m := rt.NewMutexWith(impl)
			replayed := forkBody(rt, m)
			assert.Equal(t, mode.Replaying, rt.Mode())

			root, _ := rt.Threads().Current()
			assert.False(t, root.Detached(), "post-fork history must replay")
			assert.Zero(t, impl.calls, "replay must not run the underlying lock")
			require.NoError(t, rt.Fini())

			assert.Equal(t, []bool{false, true}, recorded)
			assert.Equal(t, recorded, replayed)
			assert.Empty(t, codes())
		})
	}
}

// TestAfterForkAtFullArena forks right after the arena wrapped, so the
// fork segment is empty and must still be kept.
func TestAfterForkAtFullArena(t *testing.T) {
	codes := exitCodes(t)
	store := logdb.NewMemStore()

	rt, h := start(t, testConfig(mode.Recording, record.Verbose, ""), store)
	m := rt.NewMutex()
	root, _ := rt.Threads().Current()
	ops := 0
	for {
		m.Lock()
		m.Unlock()
		ops++
		if root.Arena().Cursor() == 0 {
			break
		}
		require.Less(t, ops, 100000)
	}
	rt.AfterFork()
	recorded := forkBody(rt, m)
	require.NoError(t, rt.Fini())

	segs, err := store.Segments(context.Background(), h.Recording(), "0")
	require.NoError(t, err)
	var empty int
	for _, s := range segs {
		if s.Size == 0 {
			empty++
		}
	}
	assert.Equal(t, 1, empty, "the first fork point follows a wrap")

	rt, _ = start(t, testConfig(mode.Replaying, record.Verbose, h.Recording()), store)
	impl := &countingLock{}
	m = rt.NewMutexWith(impl)
	for i := 0; i < ops; i++ {
		m.Lock()
		m.Unlock()
	}
	rt.AfterFork()
	replayed := forkBody(rt, m)
	root, _ = rt.Threads().Current()
	assert.False(t, root.Detached())
	assert.Zero(t, impl.calls)
	require.NoError(t, rt.Fini())

	assert.Equal(t, recorded, replayed)
	assert.Empty(t, codes())
}

// rejectingStore accepts reads but fails every segment write.
type rejectingStore struct {
	logdb.Store
}

func (rejectingStore) PutSegment(context.Context, logdb.Segment) error { return assert.AnError }

func TestSweepReportsLostTail(t *testing.T) {
	codes := exitCodes(t)
	core, logs := observer.New(zap.ErrorLevel)
	store := rejectingStore{Store: logdb.NewMemStore()}
	rt, _ := start(t, testConfig(mode.Recording, record.Compact, ""), store, WithLogger(zap.New(core)))

	m := rt.NewMutex()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Lock()
		m.Unlock()
	}()
	<-done
	require.Equal(t, 2, rt.Threads().Len())

	// The goroutine may still be unwinding; retry until it is gone.
	swept := 0
	for i := 0; i < 1000 && swept == 0; i++ {
		swept = rt.sweep()
		if swept == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	require.Equal(t, 1, swept)
	assert.Equal(t, 1, rt.Threads().Len())
	assert.Equal(t, []int{diag.ExitLog}, codes())

	entries := logs.FilterMessage("exited thread teardown failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "adopted-1", entries[0].ContextMap()["thread"])
	assert.Contains(t, entries[0].ContextMap()["error"], assert.AnError.Error())

	require.NoError(t, rt.Fini())
}

func TestOnceDivergenceWarns(t *testing.T) {
	store := logdb.NewMemStore()
	rt, h := start(t, testConfig(mode.Recording, record.Verbose, ""), store)
	o := rt.NewOnce()
	root, _ := rt.Threads().Current()
	rt.record(root, 0, record.OpOnce.Enter(), o.key, true)
	rt.record(root, 7, record.OpOnce.Exit(), o.key, false)
	require.NoError(t, rt.Fini())

	core, logs := observer.New(zap.WarnLevel)
	rt, _ = start(t, testConfig(mode.Replaying, record.Verbose, h.Recording()), store, WithLogger(zap.New(core)))
	o = rt.NewOnce()
	ran := 0
	o.Do(func() { ran++ })
	assert.Equal(t, 1, ran)

	entries := logs.FilterMessage("once returned differently than recorded").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.EqualValues(t, 7, entries[0].ContextMap()["recorded"])

	root, _ = rt.Threads().Current()
	assert.False(t, root.Detached())
	require.NoError(t, rt.Fini())
}

type consumer struct {
	f LockFactory
}

func (c *consumer) SetLockFactory(f LockFactory) { c.f = f }

func TestLockConsumers(t *testing.T) {
	early := &consumer{}
	rt, _ := start(t, testConfig(mode.Recording, record.Compact, ""), logdb.NewMemStore(),
		WithLockConsumer(early))
	require.NotNil(t, early.f, "consumers registered before Init get the factory during Init")

	late := &consumer{}
	rt.AddLockConsumer(late)
	require.NotNil(t, late.f)

	l := late.f.NewLock()
	require.IsType(t, &LibcLock{}, l)
	l.Lock()
	assert.False(t, l.TryLock())
	l.Unlock()
	require.NoError(t, rt.Fini())
}

func TestOwnerLockNests(t *testing.T) {
	rt, _ := start(t, testConfig(mode.Recording, record.Compact, ""), logdb.NewMemStore())
	root, _ := rt.Threads().Current()

	var l ownerLock
	l.Lock(root)
	l.Lock(root)
	l.Unlock()
	assert.False(t, l.mu.TryLock(), "outer hold is still active")
	l.Unlock()
	assert.True(t, l.mu.TryLock())
	l.mu.Unlock()
	require.NoError(t, rt.Fini())
}
